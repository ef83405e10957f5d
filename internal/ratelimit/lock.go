package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// compare-and-delete: a holder whose lease already expired must not release
// the lease of whoever acquired the key after it.
const lockReleaseScript = `
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
return redis.call("DEL", KEYS[1])
`

var (
	ErrLockNotConfigured = errors.New("lock client not configured")
	ErrLockKeyEmpty      = errors.New("lock key is empty")
	ErrLockTTLInvalid    = errors.New("lock ttl must be positive")
)

// Locker hands out short redis leases. The account lock uses it to serialize
// ledger writes across replicas and the scheduler uses it for leader election.
type Locker struct {
	client  redis.Cmdable
	release *redis.Script
}

func NewLocker(client redis.Cmdable) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client, release: redis.NewScript(lockReleaseScript)}
}

// TryLock makes a single attempt. The returned token proves ownership on
// Release; ok is false when another holder has the key.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error) {
	if err := l.check(key, ttl); err != nil {
		return "", false, err
	}
	token = uuid.NewString()
	if ok, err = l.client.SetNX(ctx, key, token, ttl).Result(); err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil || key == "" || token == "" {
		return nil
	}
	return l.release.Run(ctx, l.client, []string{key}, token).Err()
}

func (l *Locker) check(key string, ttl time.Duration) error {
	switch {
	case l == nil || l.client == nil:
		return ErrLockNotConfigured
	case key == "":
		return ErrLockKeyEmpty
	case ttl <= 0:
		return ErrLockTTLInvalid
	}
	return nil
}
