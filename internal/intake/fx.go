package intake

import (
	"github.com/rcarraroia/slim-quality-sub008/internal/intake/kafka"
	"github.com/rcarraroia/slim-quality-sub008/internal/intake/repository"
	"github.com/rcarraroia/slim-quality-sub008/internal/intake/service"
	"github.com/rcarraroia/slim-quality-sub008/internal/intake/window"
	"go.uber.org/fx"
)

var Module = fx.Module("intake.service",
	fx.Provide(repository.Provide),
	fx.Provide(window.New),
	fx.Provide(service.NewService),
	kafka.Module,
)
