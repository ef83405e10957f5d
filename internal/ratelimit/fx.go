package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedisClient),
	fx.Provide(provideLocker),
	fx.Provide(NewAccountLimiter),
)

func provideLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return NewLocker(client)
}
