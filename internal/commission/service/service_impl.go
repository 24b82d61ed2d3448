package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	affiliatedomain "github.com/rcarraroia/slim-quality-sub008/internal/affiliate/domain"
	attributiondomain "github.com/rcarraroia/slim-quality-sub008/internal/attribution/domain"
	"github.com/rcarraroia/slim-quality-sub008/internal/clock"
	commissiondomain "github.com/rcarraroia/slim-quality-sub008/internal/commission/domain"
	ruledomain "github.com/rcarraroia/slim-quality-sub008/internal/commissionrule/domain"
	"github.com/rcarraroia/slim-quality-sub008/internal/config"
	ledgerdomain "github.com/rcarraroia/slim-quality-sub008/internal/ledger/domain"
	obsmetrics "github.com/rcarraroia/slim-quality-sub008/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Repo           commissiondomain.Repository
	AttributionSvc attributiondomain.Service
	AffiliateSvc   affiliatedomain.Service
	AffiliateRepo  affiliatedomain.Repository
	RuleSvc        ruledomain.Service
	LedgerSvc      ledgerdomain.Service
	Config         *config.CommissionConfigHolder
	ObsMetrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	repo           commissiondomain.Repository
	attributionSvc attributiondomain.Service
	affiliateSvc   affiliatedomain.Service
	affiliateRepo  affiliatedomain.Repository
	ruleSvc        ruledomain.Service
	ledgerSvc      ledgerdomain.Service
	config         *config.CommissionConfigHolder
	obsMetrics     *obsmetrics.Metrics
}

func NewService(p ServiceParam) commissiondomain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("commission.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		repo:           p.Repo,
		attributionSvc: p.AttributionSvc,
		affiliateSvc:   p.AffiliateSvc,
		affiliateRepo:  p.AffiliateRepo,
		ruleSvc:        p.RuleSvc,
		ledgerSvc:      p.LedgerSvc,
		config:         p.Config,
		obsMetrics:     p.ObsMetrics,
	}
}

func (s *Service) ProcessOrderCompleted(ctx context.Context, event commissiondomain.OrderCompleted) (*commissiondomain.Result, error) {
	event.OrderRef = strings.TrimSpace(event.OrderRef)
	event.VisitorID = strings.TrimSpace(event.VisitorID)
	switch {
	case event.OrderRef == "":
		return nil, commissiondomain.ErrInvalidOrderRef
	case event.OrderValue < 0:
		return nil, commissiondomain.ErrInvalidOrderValue
	case event.VisitorID == "":
		return nil, commissiondomain.ErrInvalidVisitor
	case event.CompletedAt.IsZero():
		return nil, commissiondomain.ErrInvalidCompletedAt
	}
	event.CompletedAt = event.CompletedAt.UTC()
	maxDepth := s.config.Get().MaxDepth

	result := &commissiondomain.Result{OrderRef: event.OrderRef}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.InsertProcessed(ctx, tx, &commissiondomain.ProcessedOrder{
			OrderRef:    event.OrderRef,
			OrderValue:  event.OrderValue,
			CompletedAt: event.CompletedAt,
			CreatedAt:   s.clock.Now(),
		})
		if err != nil {
			return err
		}
		if !inserted {
			return s.replay(ctx, tx, result)
		}

		referrer, err := s.attributionSvc.ResolveTx(ctx, tx, event.VisitorID, event.CompletedAt)
		if err != nil {
			return err
		}
		if referrer == nil {
			return nil
		}

		// Another order converted this visitor first.
		err = s.attributionSvc.ConsumeTx(ctx, tx, event.VisitorID, event.OrderRef)
		if errors.Is(err, attributiondomain.ErrAlreadyAttributed) {
			return nil
		}
		if err != nil {
			return err
		}
		result.AffiliateID = referrer
		if err := s.repo.SetAffiliate(ctx, tx, event.OrderRef, *referrer); err != nil {
			return err
		}

		ancestors, err := s.affiliateSvc.AncestorsOfTx(ctx, tx, *referrer, maxDepth)
		if err != nil {
			return err
		}
		rules, err := s.ruleSvc.RulesEffectiveAtTx(ctx, tx, event.CompletedAt)
		if err != nil {
			return err
		}

		commissions := make([]ledgerdomain.Commission, 0, len(ancestors))
		for i, affiliateID := range ancestors {
			level := i + 1
			rule, ok := rules.Rule(level)
			if !ok {
				continue
			}
			amount := rule.Amount(event.OrderValue)
			if amount <= 0 {
				continue
			}
			commissions = append(commissions, ledgerdomain.Commission{
				ID:          s.genID.Generate(),
				OrderRef:    event.OrderRef,
				AffiliateID: affiliateID,
				Level:       level,
				BaseAmount:  event.OrderValue,
				Amount:      amount,
				RuleVersion: rules.Version,
			})
		}
		if len(commissions) == 0 {
			return nil
		}

		active, err := s.lockBeneficiaries(ctx, tx, commissions)
		if err != nil {
			return err
		}
		if err := s.ledgerSvc.RecordTx(ctx, tx, commissions); err != nil {
			return err
		}

		var promote []snowflake.ID
		for _, c := range commissions {
			if active[c.AffiliateID] {
				promote = append(promote, c.ID)
			}
		}
		if err := s.ledgerSvc.MarkPendingTx(ctx, tx, promote); err != nil {
			return err
		}
		for i := range commissions {
			if active[commissions[i].AffiliateID] {
				commissions[i].Status = ledgerdomain.CommissionStatusPending
			}
		}
		result.Commissions = commissions
		return nil
	})
	if err != nil {
		s.log.Warn("order processing failed",
			zap.String("order_ref", event.OrderRef),
			zap.Error(err),
		)
		return nil, err
	}

	if result.Replayed {
		s.log.Info("order replay ignored",
			zap.String("order_ref", event.OrderRef),
			zap.Int("commissions", len(result.Commissions)),
		)
		return result, nil
	}
	for _, c := range result.Commissions {
		s.obsMetrics.RecordCommission(ctx, c.Level, string(c.Status), c.Amount)
	}
	fields := []zap.Field{
		zap.String("order_ref", event.OrderRef),
		zap.Int("commissions", len(result.Commissions)),
	}
	if result.AffiliateID != nil {
		fields = append(fields, zap.String("affiliate_id", result.AffiliateID.String()))
	}
	s.log.Info("order processed", fields...)
	return result, nil
}

func (s *Service) replay(ctx context.Context, tx *gorm.DB, result *commissiondomain.Result) error {
	result.Replayed = true
	order, err := s.repo.FindProcessed(ctx, tx, result.OrderRef)
	if err != nil {
		return err
	}
	if order != nil {
		result.AffiliateID = order.AffiliateID
	}
	commissions, err := s.ledgerSvc.CommissionsByOrderTx(ctx, tx, result.OrderRef)
	if err != nil {
		return err
	}
	result.Commissions = commissions
	return nil
}

// lockBeneficiaries locks every credited affiliate in id order and reports
// which of them are active.
func (s *Service) lockBeneficiaries(ctx context.Context, tx *gorm.DB, commissions []ledgerdomain.Commission) (map[snowflake.ID]bool, error) {
	ids := make([]snowflake.ID, 0, len(commissions))
	for _, c := range commissions {
		ids = append(ids, c.AffiliateID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	active := make(map[snowflake.ID]bool, len(ids))
	for _, id := range ids {
		affiliate, err := s.affiliateRepo.LockByID(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if affiliate == nil {
			return nil, affiliatedomain.ErrUnknownAffiliate
		}
		active[id] = affiliate.Status == affiliatedomain.StatusActive
	}
	return active, nil
}
