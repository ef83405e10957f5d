package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
)

// Config holds application configuration.
type Config struct {
	AppName       string
	AppVersion    string
	Environment   string
	HTTPAddr      string
	AuthJWTSecret string
	SnowflakeNode int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	Redis RedisConfig

	CORSAllowedOrigins []string
	TierConfigDir      string

	Telemetry TelemetryConfig
	Loyalty   LoyaltyConfig
}

// TelemetryConfig carries log and OpenTelemetry exporter settings.
type TelemetryConfig struct {
	LogLevel          string
	LogFormat         string
	OtelEnabled       bool
	OtelProtocol      string
	OtelSamplingRatio float64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis address was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// LoyaltyConfig carries the business knobs of the points program.
type LoyaltyConfig struct {
	LedgerMaxRetries       int
	LockWaitTimeout        time.Duration
	LockTTL                time.Duration
	ReferralClaimantPoints int64
	ReferralReferrerPoints int64
	PointValue             string
	CouponCurrency         string
	RedemptionMaxPoints    int64
	RedemptionPointsStep   int64
	RedemptionRatePerSec   float64
	RedemptionBurst        int
	AuditInterval          time.Duration
	AuditBatchSize         int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "loyalty"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		AuthJWTSecret:     strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		SnowflakeNode:     getenvInt64("SNOWFLAKE_NODE", 1),
		OTLPEndpoint:      getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "loyalty"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},
		CORSAllowedOrigins: parseList(getenv("CORS_ALLOWED_ORIGINS", "")),
		TierConfigDir:      strings.TrimSpace(getenv("TIER_CONFIG_DIR", "")),
		Telemetry: TelemetryConfig{
			LogLevel:          getenv("LOG_LEVEL", "info"),
			LogFormat:         getenv("LOG_FORMAT", "json"),
			OtelEnabled:       getenvBool("OTEL_ENABLED", false),
			OtelProtocol:      getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"),
			OtelSamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		Loyalty: LoyaltyConfig{
			LedgerMaxRetries:       int(getenvInt64("LEDGER_MAX_RETRIES", 5)),
			LockWaitTimeout:        getenvDuration("LOCK_WAIT_TIMEOUT", 2*time.Second),
			LockTTL:                getenvDuration("LOCK_TTL", 10*time.Second),
			ReferralClaimantPoints: getenvInt64("REFERRAL_CLAIMANT_POINTS", 100),
			ReferralReferrerPoints: getenvInt64("REFERRAL_REFERRER_POINTS", 200),
			PointValue:             getenv("POINT_VALUE", "0.01"),
			CouponCurrency:         strings.ToUpper(getenv("COUPON_CURRENCY", "USD")),
			RedemptionMaxPoints:    getenvInt64("REDEMPTION_MAX_POINTS", 0),
			RedemptionPointsStep:   getenvInt64("REDEMPTION_POINTS_STEP", 1),
			RedemptionRatePerSec:   getenvFloat("REDEMPTION_RATE_PER_SEC", 1),
			RedemptionBurst:        int(getenvInt64("REDEMPTION_BURST", 5)),
			AuditInterval:          getenvDuration("AUDIT_INTERVAL", 10*time.Minute),
			AuditBatchSize:         int(getenvInt64("AUDIT_BATCH_SIZE", 200)),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
