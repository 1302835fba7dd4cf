package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cashback/internal/clock"
	"github.com/smallbiznis/cashback/internal/config"
	"github.com/smallbiznis/cashback/internal/observability"
	"github.com/smallbiznis/cashback/internal/scheduler"
	"github.com/smallbiznis/cashback/internal/server"
	"github.com/smallbiznis/cashback/internal/settlement"
	"github.com/smallbiznis/cashback/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Webhooks, user and admin routes plus the domain services behind them.
		server.Module,

		// Jobs are registered so admins can trigger them; the cron loop runs
		// in apps/scheduler.
		scheduler.Module,
		settlement.Module,
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
