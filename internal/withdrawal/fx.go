package withdrawal

import (
	"github.com/rcarraroia/slim-quality-sub008/internal/withdrawal/repository"
	"github.com/rcarraroia/slim-quality-sub008/internal/withdrawal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("withdrawal.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
