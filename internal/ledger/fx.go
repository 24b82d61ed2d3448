package ledger

import (
	affiliatedomain "github.com/rcarraroia/slim-quality-sub008/internal/affiliate/domain"
	ledgerdomain "github.com/rcarraroia/slim-quality-sub008/internal/ledger/domain"
	"github.com/rcarraroia/slim-quality-sub008/internal/ledger/repository"
	"github.com/rcarraroia/slim-quality-sub008/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(
		func(s *service.Service) ledgerdomain.Service { return s },
		func(s *service.Service) affiliatedomain.ReinstatementHook { return s },
	),
)
