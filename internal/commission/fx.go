package commission

import (
	"github.com/rcarraroia/slim-quality-sub008/internal/commission/repository"
	"github.com/rcarraroia/slim-quality-sub008/internal/commission/service"
	"go.uber.org/fx"
)

var Module = fx.Module("commission.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
