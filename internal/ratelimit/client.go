package ratelimit

import (
	"context"

	"github.com/rcarraroia/slim-quality-sub008/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewRedisClient returns nil when no Redis address is configured; callers
// fall back to in-process behaviour.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) redis.UniversalClient {
	if !cfg.Redis.Enabled() {
		log.Info("redis disabled; using in-memory intake window and no rate limiting")
		return nil
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
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}
