package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cashback/internal/brand"
	"github.com/smallbiznis/cashback/internal/click"
	"github.com/smallbiznis/cashback/internal/clock"
	"github.com/smallbiznis/cashback/internal/config"
	"github.com/smallbiznis/cashback/internal/events"
	"github.com/smallbiznis/cashback/internal/observability"
	"github.com/smallbiznis/cashback/internal/purchase"
	"github.com/smallbiznis/cashback/internal/ratelimit"
	"github.com/smallbiznis/cashback/internal/scheduler"
	"github.com/smallbiznis/cashback/internal/settlement"
	"github.com/smallbiznis/cashback/internal/wallet"
	"github.com/smallbiznis/cashback/internal/webhooklog"
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

		// Domain services required by the settlement jobs
		events.Module,
		ratelimit.Module,
		brand.Module,
		click.Module,
		purchase.Module,
		wallet.Module,
		webhooklog.Module,

		scheduler.Module,
		settlement.Module,

		// No server module!
		scheduler.RunForever,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
