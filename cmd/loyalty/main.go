package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/smallbiznis/loyalty/internal/migration"
	"github.com/smallbiznis/loyalty/internal/observability"
	"github.com/smallbiznis/loyalty/internal/scheduler"
	"github.com/smallbiznis/loyalty/internal/server"
	"github.com/smallbiznis/loyalty/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP surface and domain services
		server.Module,

		// Periodic ledger audit
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
