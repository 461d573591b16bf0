package ratelimit

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/voxbill/internal/clock"
	"github.com/smallbiznis/voxbill/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedisClient),
	fx.Provide(NewGuard),
	fx.Provide(NewLocker),
	fx.Provide(PoliciesFromConfig),
)

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Clock  clock.Clock
	Redis  *redis.Client `optional:"true"`
}

// NewRedisClient returns nil unless the redis backend is selected.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config) (*redis.Client, error) {
	if !cfg.RateLimit.Enabled || cfg.RateLimit.Backend != BackendRedis {
		return nil, nil
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required for the %s rate limit backend", BackendRedis)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func NewGuard(p Params) (Guard, error) {
	log := p.Log.Named("ratelimit")
	if !p.Config.RateLimit.Enabled {
		log.Info("rate limiting disabled")
		return AllowAll{}, nil
	}

	switch p.Config.RateLimit.Backend {
	case BackendRedis:
		log.Info("rate limiting enabled", zap.String("backend", BackendRedis))
		return NewTokenBucket(p.Redis), nil
	case BackendMemory, "":
		log.Info("rate limiting enabled", zap.String("backend", BackendMemory))
		return NewMemoryGuard(p.Clock), nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", p.Config.RateLimit.Backend)
	}
}

func NewLocker(p Params) Locker {
	if p.Redis != nil {
		return NewRedisLocker(p.Redis)
	}
	return NewMemoryLocker(p.Clock)
}
