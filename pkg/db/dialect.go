package db

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/loyalty/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const defaultSQLiteFile = "loyalty.db"

// dialects maps DATABASE_TYPE to a dialector. Every DSN pins the session to
// UTC because ledger timestamps are compared across replicas.
var dialects = map[string]func(config.Config) gorm.Dialector{
	"postgres": func(cfg config.Config) gorm.Dialector { return postgres.Open(postgresDSN(cfg)) },
	"mysql":    func(cfg config.Config) gorm.Dialector { return mysql.Open(mysqlDSN(cfg)) },
	"sqlite": func(cfg config.Config) gorm.Dialector {
		if cfg.DBName == "" {
			return sqlite.Open(defaultSQLiteFile)
		}
		return sqlite.Open(cfg.DBName)
	},
}

func Dialect(cfg config.Config) (gorm.Dialector, error) {
	open, ok := dialects[strings.ToLower(strings.TrimSpace(cfg.DBType))]
	if !ok {
		return nil, fmt.Errorf("unsupported database type %q", cfg.DBType)
	}
	return open(cfg), nil
}

func postgresDSN(cfg config.Config) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)
}

func mysqlDSN(cfg config.Config) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
}
