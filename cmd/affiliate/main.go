package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/rcarraroia/slim-quality-sub008/internal/clock"
	"github.com/rcarraroia/slim-quality-sub008/internal/config"
	"github.com/rcarraroia/slim-quality-sub008/internal/migration"
	"github.com/rcarraroia/slim-quality-sub008/internal/observability"
	"github.com/rcarraroia/slim-quality-sub008/internal/server"
	"github.com/rcarraroia/slim-quality-sub008/pkg/db"
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

		// HTTP API plus every domain module behind it
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
