package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kitchenbill/internal/clock"
	"github.com/smallbiznis/kitchenbill/internal/config"
	"github.com/smallbiznis/kitchenbill/internal/observability"
	"github.com/smallbiznis/kitchenbill/internal/server"
	"github.com/smallbiznis/kitchenbill/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		server.Module,
	)
	app.Run()
}

// RegisterSnowflake uses node 2 so API replicas never collide with the
// scheduler's ids.
func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
