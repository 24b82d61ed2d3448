package commissionrule

import (
	"context"

	ruledomain "github.com/rcarraroia/slim-quality-sub008/internal/commissionrule/domain"
	"github.com/rcarraroia/slim-quality-sub008/internal/commissionrule/repository"
	"github.com/rcarraroia/slim-quality-sub008/internal/commissionrule/service"
	"go.uber.org/fx"
)

var Module = fx.Module("commissionrule.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Invoke(func(lc fx.Lifecycle, svc ruledomain.Service) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return svc.SeedFromConfig(ctx)
			},
		})
	}),
)
