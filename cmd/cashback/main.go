package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cashback/internal/clock"
	"github.com/smallbiznis/cashback/internal/config"
	"github.com/smallbiznis/cashback/internal/migration"
	"github.com/smallbiznis/cashback/internal/observability"
	"github.com/smallbiznis/cashback/internal/scheduler"
	"github.com/smallbiznis/cashback/internal/server"
	"github.com/smallbiznis/cashback/internal/settlement"
	"github.com/smallbiznis/cashback/pkg/db"
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

		// HTTP plus every domain service
		server.Module,

		// Settlement jobs on the in-process cron loop
		scheduler.Module,
		settlement.Module,
		scheduler.RunForever,
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
