package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// The bucket state lives in a redis hash {tokens, ts}. Refill is computed from
// the redis clock so that every API replica agrees on elapsed time.
const tokenBucketScript = `
local rate, burst, ttl = tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3])
local clock = redis.call("TIME")
local now = clock[1] * 1000 + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
tokens = math.min(burst, tokens + math.max(0, now - last) * rate / 1000)

local granted = 0
if tokens >= 1 then
  granted = 1
  tokens = tokens - 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {granted, tostring(tokens), now}
`

var (
	errBucketUnconfigured = errors.New("token bucket not configured")
	errBucketKeyEmpty     = errors.New("token bucket key is empty")
	errBucketShape        = errors.New("token bucket rate and burst must be positive")
)

// Decision is the outcome of one token request.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type bucketShape struct {
	rate  float64
	burst int
}

// ttl keeps an idle bucket around for twice the time it takes to refill.
func (s bucketShape) ttl() time.Duration {
	return time.Duration(math.Max(1, math.Ceil(2*float64(s.burst)/s.rate))) * time.Second
}

func (s bucketShape) decide(reply []interface{}) (*Decision, error) {
	if len(reply) < 3 {
		return nil, fmt.Errorf("token bucket: unexpected reply of %d values", len(reply))
	}
	granted, ok := reply[0].(int64)
	if !ok {
		return nil, fmt.Errorf("token bucket: unexpected grant flag %T", reply[0])
	}
	// tokens are fractional, and lua truncates numbers in replies
	raw, _ := reply[1].(string)
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("token bucket: tokens %q: %w", raw, err)
	}

	d := &Decision{Allowed: granted == 1, Limit: s.burst, Remaining: int(tokens)}
	if !d.Allowed && tokens < 1 {
		d.RetryAfter = time.Duration((1 - tokens) / s.rate * float64(time.Second))
	}
	return d, nil
}

// TokenBucket runs the refill script against a shared redis.
type TokenBucket struct {
	client redis.Scripter
	script *redis.Script
}

func NewTokenBucket(client redis.Scripter) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client, script: redis.NewScript(tokenBucketScript)}
}

func (t *TokenBucket) Take(ctx context.Context, key string, rate float64, burst int) (*Decision, error) {
	switch {
	case t == nil || t.client == nil:
		return nil, errBucketUnconfigured
	case key == "":
		return nil, errBucketKeyEmpty
	case rate <= 0 || burst <= 0:
		return nil, errBucketShape
	}

	shape := bucketShape{rate: rate, burst: burst}
	reply, err := t.script.Run(ctx, t.client, []string{key}, rate, burst, shape.ttl().Milliseconds()).Slice()
	if err != nil {
		return nil, err
	}
	return shape.decide(reply)
}
