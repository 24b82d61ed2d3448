package migration

import (
	"github.com/rcarraroia/slim-quality-sub008/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.DBMigrateOnStart {
			log.Info("schema migration skipped")
			return nil
		}
		if conn.Dialector.Name() != "postgres" {
			return AutoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
