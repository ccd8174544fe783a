package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kitchenbill/internal/clock"
	"github.com/smallbiznis/kitchenbill/internal/config"
	"github.com/smallbiznis/kitchenbill/internal/observability"
	"github.com/smallbiznis/kitchenbill/internal/scheduler"
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

		// Domain services required by scheduler
		server.Domains,
		scheduler.Module,

		// No server module!
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(3)
	if err != nil {
		panic(err)
	}
	return node
}
