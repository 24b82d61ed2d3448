package attribution

import (
	"github.com/rcarraroia/slim-quality-sub008/internal/attribution/repository"
	"github.com/rcarraroia/slim-quality-sub008/internal/attribution/service"
	"go.uber.org/fx"
)

var Module = fx.Module("attribution.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
