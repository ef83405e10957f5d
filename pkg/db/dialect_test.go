package db

import (
	"testing"

	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectSelectsDriver(t *testing.T) {
	cases := map[string]string{
		"postgres": "postgres",
		"MySQL":    "mysql",
		" sqlite ": "sqlite",
	}
	for dbType, want := range cases {
		d, err := Dialect(config.Config{DBType: dbType, DBName: "loyalty"})
		require.NoError(t, err, dbType)
		assert.Equal(t, want, d.Name(), dbType)
	}

	_, err := Dialect(config.Config{DBType: "oracle"})
	assert.ErrorContains(t, err, `unsupported database type "oracle"`)
}

func TestDSNsPinUTC(t *testing.T) {
	cfg := config.Config{
		DBHost: "db", DBPort: "5432", DBUser: "u", DBPassword: "p",
		DBName: "loyalty", DBSSLMode: "disable",
	}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=loyalty sslmode=disable TimeZone=UTC", postgresDSN(cfg))

	cfg.DBPort = "3306"
	assert.Equal(t, "u:p@tcp(db:3306)/loyalty?charset=utf8mb4&parseTime=True&loc=UTC", mysqlDSN(cfg))
}
