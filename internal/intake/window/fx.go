package window

import (
	"context"

	"github.com/rcarraroia/slim-quality-sub008/internal/clock"
	"github.com/rcarraroia/slim-quality-sub008/internal/config"
	intakedomain "github.com/rcarraroia/slim-quality-sub008/internal/intake/domain"
	"github.com/rcarraroia/slim-quality-sub008/internal/ratelimit"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Clock     clock.Clock
	Log       *zap.Logger
	Redis     redis.UniversalClient `optional:"true"`
}

// New picks the shared Redis window when Redis is configured and the
// process-local window otherwise. Either is closed on shutdown.
func New(p Params) intakedomain.EventWindow {
	var w intakedomain.EventWindow
	if p.Redis != nil {
		w = NewRedisWindow(ratelimit.NewClaimStore(p.Redis, redisKeyPrefix), p.Config.Intake.Retention)
		p.Log.Info("intake window: redis", zap.Duration("retention", p.Config.Intake.Retention))
	} else {
		w = NewMemoryWindow(p.Clock, p.Config.Intake.Retention, p.Config.Intake.MaxEntries)
		p.Log.Info("intake window: memory",
			zap.Duration("retention", p.Config.Intake.Retention),
			zap.Int("max_entries", p.Config.Intake.MaxEntries),
		)
	}
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return w.Close()
		},
	})
	return w
}
