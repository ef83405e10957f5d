package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLockerTryLock(t *testing.T) {
	client, mock := redismock.NewClientMock()
	locker := NewLocker(client)

	mock.Regexp().ExpectSetNX("loyalty:lock:account:1", `^[0-9a-f-]{36}$`, 5*time.Second).SetVal(true)
	token, ok, err := locker.TryLock(context.Background(), "loyalty:lock:account:1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, token, 36)

	mock.Regexp().ExpectSetNX("loyalty:lock:account:1", `.+`, 5*time.Second).SetVal(false)
	token, ok, err = locker.TryLock(context.Background(), "loyalty:lock:account:1", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, token)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockerRejectsBadInput(t *testing.T) {
	client, _ := redismock.NewClientMock()
	locker := NewLocker(client)

	_, _, err := locker.TryLock(context.Background(), "", time.Second)
	assert.ErrorIs(t, err, ErrLockKeyEmpty)

	_, _, err = locker.TryLock(context.Background(), "k", 0)
	assert.ErrorIs(t, err, ErrLockTTLInvalid)

	var nilLocker *Locker
	_, _, err = nilLocker.TryLock(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, ErrLockNotConfigured)
	assert.NoError(t, nilLocker.Release(context.Background(), "k", "t"))
}

func TestLockerRelease(t *testing.T) {
	client, mock := redismock.NewClientMock()
	locker := NewLocker(client)

	hash := redis.NewScript(lockReleaseScript).Hash()
	mock.ExpectEvalSha(hash, []string{"loyalty:lock:account:1"}, "tok").SetVal(int64(1))

	require.NoError(t, locker.Release(context.Background(), "loyalty:lock:account:1", "tok"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenBucketAllow(t *testing.T) {
	client, mock := redismock.NewClientMock()
	bucket := NewTokenBucket(client)

	hash := redis.NewScript(tokenBucketScript).Hash()
	ttl := bucketShape{rate: 1, burst: 5}.ttl().Milliseconds()

	mock.ExpectEvalSha(hash, []string{"bucket"}, float64(1), 5, ttl).SetVal([]interface{}{int64(1), "4", int64(1000)})
	res, err := bucket.Take(context.Background(), "bucket", 1, 5)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 4, res.Remaining)
	assert.Equal(t, 5, res.Limit)

	mock.ExpectEvalSha(hash, []string{"bucket"}, float64(1), 5, ttl).SetVal([]interface{}{int64(0), "0.5", int64(1000)})
	res, err = bucket.Take(context.Background(), "bucket", 1, 5)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 500*time.Millisecond, res.RetryAfter)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenBucketValidation(t *testing.T) {
	client, _ := redismock.NewClientMock()
	bucket := NewTokenBucket(client)

	_, err := bucket.Take(context.Background(), "", 1, 1)
	assert.ErrorIs(t, err, errBucketKeyEmpty)

	_, err = bucket.Take(context.Background(), "k", 0, 1)
	assert.ErrorIs(t, err, errBucketShape)

	var unset *TokenBucket
	_, err = unset.Take(context.Background(), "k", 1, 1)
	assert.ErrorIs(t, err, errBucketUnconfigured)
}

func TestBucketShapeRejectsMalformedReply(t *testing.T) {
	shape := bucketShape{rate: 2, burst: 3}

	_, err := shape.decide([]interface{}{int64(1)})
	assert.Error(t, err)

	_, err = shape.decide([]interface{}{int64(1), "nan-ish", int64(0)})
	assert.Error(t, err)

	d, err := shape.decide([]interface{}{int64(0), "0", int64(0)})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 500*time.Millisecond, d.RetryAfter)
}

func TestBucketShapeTTL(t *testing.T) {
	assert.Equal(t, 10*time.Second, bucketShape{rate: 1, burst: 5}.ttl())
	assert.Equal(t, time.Second, bucketShape{rate: 100, burst: 1}.ttl())
}

func TestAccountLimiter(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cfg := config.Config{Loyalty: config.LoyaltyConfig{RedemptionRatePerSec: 1, RedemptionBurst: 5}}
	limiter := NewAccountLimiter(cfg, client, zap.NewNop())
	require.True(t, limiter.Enabled())

	hash := redis.NewScript(tokenBucketScript).Hash()
	ttl := bucketShape{rate: 1, burst: 5}.ttl().Milliseconds()
	key := "loyalty:ratelimit:redeem:42"

	mock.ExpectEvalSha(hash, []string{key}, float64(1), 5, ttl).SetVal([]interface{}{int64(0), "0", int64(1)})
	_, err := limiter.Allow(context.Background(), "redeem", "42")
	assert.ErrorIs(t, err, ErrRateLimited)

	mock.ExpectEvalSha(hash, []string{key}, float64(1), 5, ttl).SetErr(errors.New("connection refused"))
	res, err := limiter.Allow(context.Background(), "redeem", "42")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountLimiterDisabledWithoutRedis(t *testing.T) {
	cfg := config.Config{Loyalty: config.LoyaltyConfig{RedemptionRatePerSec: 1, RedemptionBurst: 5}}
	limiter := NewAccountLimiter(cfg, nil, zap.NewNop())
	assert.False(t, limiter.Enabled())

	res, err := limiter.Allow(context.Background(), "redeem", "42")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
