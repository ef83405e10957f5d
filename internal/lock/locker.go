package lock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/smallbiznis/loyalty/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	accountLockKey     = "loyalty:lock:account:%d"
	redisPollMin       = 10 * time.Millisecond
	redisPollMax       = 200 * time.Millisecond
	defaultWaitTimeout = 2 * time.Second
	defaultLockTTL     = 10 * time.Second
)

var ErrLockTimeout = errors.New("lock_timeout")

// AccountLocker serializes mutations per loyalty account. Within a process it
// uses a keyed mutex; when redis is configured the same key is also held in
// redis so replicas serialize with each other.
type AccountLocker struct {
	local  *KeyedMutex
	remote *ratelimit.Locker
	wait   time.Duration
	ttl    time.Duration
	log    *zap.Logger
}

type Params struct {
	fx.In

	Cfg    config.Config
	Remote *ratelimit.Locker `optional:"true"`
	Log    *zap.Logger
}

func New(p Params) *AccountLocker {
	wait := p.Cfg.Loyalty.LockWaitTimeout
	if wait <= 0 {
		wait = defaultWaitTimeout
	}
	ttl := p.Cfg.Loyalty.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountLocker{
		local:  NewKeyedMutex(),
		remote: p.Remote,
		wait:   wait,
		ttl:    ttl,
		log:    log.Named("lock"),
	}
}

// Acquire locks every id in ascending order and returns a release func that
// unlocks them in reverse. Duplicate ids are locked once.
func (l *AccountLocker) Acquire(ctx context.Context, ids ...snowflake.ID) (func(), error) {
	ordered := slices.Clone(ids)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	held := make([]func(), 0, len(ordered))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}

	for _, id := range ordered {
		release, err := l.acquireOne(ctx, waitCtx, id)
		if err != nil {
			releaseAll()
			return nil, err
		}
		held = append(held, release)
	}
	return releaseAll, nil
}

func (l *AccountLocker) acquireOne(ctx, waitCtx context.Context, id snowflake.ID) (func(), error) {
	key := fmt.Sprintf(accountLockKey, id)

	if err := l.local.Lock(waitCtx, key); err != nil {
		return nil, l.waitErr(ctx, err)
	}
	if l.remote == nil {
		return func() { l.local.Unlock(key) }, nil
	}

	token, err := l.lockRemote(waitCtx, key)
	if err != nil {
		l.local.Unlock(key)
		return nil, l.waitErr(ctx, err)
	}
	return func() {
		// the caller's ctx may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := l.remote.Release(releaseCtx, key, token); err != nil {
			l.log.Warn("failed to release account lock", zap.String("key", key), zap.Error(err))
		}
		l.local.Unlock(key)
	}, nil
}

func (l *AccountLocker) lockRemote(ctx context.Context, key string) (string, error) {
	backoff := redisPollMin
	for {
		token, ok, err := l.remote.TryLock(ctx, key, l.ttl)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", err
		}
		if ok {
			return token, nil
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > redisPollMax {
			backoff = redisPollMax
		}
	}
}

// waitErr turns a wait deadline into ErrLockTimeout but keeps the caller's own
// cancellation visible.
func (l *AccountLocker) waitErr(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrLockTimeout
	}
	return err
}
