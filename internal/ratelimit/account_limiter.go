package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/loyalty/internal/config"
	"go.uber.org/zap"
)

const keyAccountEndpoint = "loyalty:ratelimit:%s:%s"

var ErrRateLimited = errors.New("rate_limited")

// AccountLimiter throttles mutating loyalty endpoints per account.
type AccountLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
	log    *zap.Logger
}

func NewAccountLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) *AccountLimiter {
	if client == nil || cfg.Loyalty.RedemptionRatePerSec <= 0 || cfg.Loyalty.RedemptionBurst <= 0 {
		return nil
	}
	return &AccountLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.Loyalty.RedemptionRatePerSec,
		burst:  cfg.Loyalty.RedemptionBurst,
		log:    log.Named("ratelimit"),
	}
}

func (l *AccountLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow fails open when redis is unreachable; the ledger invariants do not
// depend on the limiter.
func (l *AccountLimiter) Allow(ctx context.Context, endpoint, accountID string) (*Decision, error) {
	if !l.Enabled() {
		return &Decision{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyAccountEndpoint, strings.TrimSpace(endpoint), strings.TrimSpace(accountID))
	res, err := l.bucket.Take(ctx, key, l.rate, l.burst)
	if err != nil {
		l.log.Warn("rate limiter unavailable", zap.String("endpoint", endpoint), zap.Error(err))
		return &Decision{Allowed: true}, nil
	}
	if !res.Allowed {
		return res, ErrRateLimited
	}
	return res, nil
}
