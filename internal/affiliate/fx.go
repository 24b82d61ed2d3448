package affiliate

import (
	"github.com/rcarraroia/slim-quality-sub008/internal/affiliate/repository"
	"github.com/rcarraroia/slim-quality-sub008/internal/affiliate/service"
	"go.uber.org/fx"
)

var Module = fx.Module("affiliate.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
