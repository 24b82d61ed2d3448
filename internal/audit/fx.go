package audit

import (
	"github.com/rcarraroia/slim-quality-sub008/internal/audit/repository"
	"github.com/rcarraroia/slim-quality-sub008/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
