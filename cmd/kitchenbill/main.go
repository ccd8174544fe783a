package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kitchenbill/internal/clock"
	"github.com/smallbiznis/kitchenbill/internal/config"
	"github.com/smallbiznis/kitchenbill/internal/migration"
	"github.com/smallbiznis/kitchenbill/internal/observability"
	"github.com/smallbiznis/kitchenbill/internal/scheduler"
	"github.com/smallbiznis/kitchenbill/internal/server"
	"github.com/smallbiznis/kitchenbill/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP API with every billing domain, plus the background scans
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
