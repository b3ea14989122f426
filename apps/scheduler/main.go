package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tably/internal/clock"
	"github.com/smallbiznis/tably/internal/config"
	"github.com/smallbiznis/tably/internal/ledger"
	"github.com/smallbiznis/tably/internal/logger"
	"github.com/smallbiznis/tably/internal/migration"
	"github.com/smallbiznis/tably/internal/notification"
	"github.com/smallbiznis/tably/internal/plan"
	"github.com/smallbiznis/tably/internal/scheduler"
	"github.com/smallbiznis/tably/internal/subscription"
	"github.com/smallbiznis/tably/internal/usage"
	"github.com/smallbiznis/tably/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Domain services required by the jobs
		plan.Module,
		subscription.Module,
		ledger.Module,
		usage.Module,
		notification.Module,

		// No server module
		scheduler.StartModule,
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
