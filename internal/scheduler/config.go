package scheduler

import (
	"time"

	"github.com/smallbiznis/loyalty/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval   time.Duration
	BatchSize     int
	JobTimeout    time.Duration
	LeaderLockTTL time.Duration
	EnabledJobs   []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:   10 * time.Minute,
		BatchSize:     200,
		JobTimeout:    5 * time.Minute,
		LeaderLockTTL: 5 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.Loyalty.AuditInterval,
		BatchSize:   cfg.Loyalty.AuditBatchSize,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LeaderLockTTL <= 0 {
		c.LeaderLockTTL = c.JobTimeout
	}
	return c
}
