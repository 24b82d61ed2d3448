package db

import (
	"fmt"
	"strings"

	"github.com/rcarraroia/slim-quality-sub008/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func Dialect(cfg config.Config) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DBType)) {
	case "mysql":
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBHost,
			cfg.DBPort,
			cfg.DBName,
		)), nil
	case "postgres":
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost,
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBName,
			cfg.DBPort,
			cfg.DBSSLMode,
		)), nil
	case "sqlite":
		name := strings.TrimSpace(cfg.DBName)
		if name == "" {
			name = "affiliates.db"
		}
		return sqlite.Open(name), nil
	default:
		return nil, fmt.Errorf("unsupported %s type", cfg.DBType)
	}
}

// SupportsRowLocks reports whether SELECT ... FOR UPDATE is meaningful.
// SQLite serializes writers on its own and rejects the clause.
func SupportsRowLocks(tx *gorm.DB) bool {
	if tx == nil || tx.Dialector == nil {
		return false
	}
	switch tx.Dialector.Name() {
	case "postgres", "mysql":
		return true
	default:
		return false
	}
}
