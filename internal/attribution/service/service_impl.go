package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	affiliatedomain "github.com/rcarraroia/slim-quality-sub008/internal/affiliate/domain"
	attributiondomain "github.com/rcarraroia/slim-quality-sub008/internal/attribution/domain"
	"github.com/rcarraroia/slim-quality-sub008/internal/clock"
	"github.com/rcarraroia/slim-quality-sub008/internal/config"
	"github.com/rcarraroia/slim-quality-sub008/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          attributiondomain.Repository
	AffiliateRepo affiliatedomain.Repository
	Config        *config.CommissionConfigHolder
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          attributiondomain.Repository
	affiliateRepo affiliatedomain.Repository
	config        *config.CommissionConfigHolder
}

func NewService(p ServiceParam) attributiondomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("attribution.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		affiliateRepo: p.AffiliateRepo,
		config:        p.Config,
	}
}

func (s *Service) Capture(ctx context.Context, visitorID, affiliateCode string, now time.Time) error {
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return attributiondomain.ErrInvalidVisitor
	}
	affiliateCode = strings.TrimSpace(affiliateCode)
	if affiliateCode == "" {
		return affiliatedomain.ErrUnknownAffiliate
	}

	affiliate, err := s.affiliateRepo.FindByCode(ctx, s.db, affiliateCode)
	if err != nil {
		return err
	}
	if affiliate == nil {
		return affiliatedomain.ErrUnknownAffiliate
	}

	now = now.UTC()
	candidate := &attributiondomain.ReferralAttribution{
		ID:            s.genID.Generate(),
		VisitorID:     visitorID,
		AffiliateID:   affiliate.ID,
		AffiliateCode: affiliate.Code,
		CapturedAt:    now,
		ExpiresAt:     now.Add(s.config.Get().AttributionTTL),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	accepted, err := s.apply(ctx, candidate)
	if err != nil || !accepted {
		return err
	}
	return s.repo.InsertTouch(ctx, s.db, &attributiondomain.ReferralTouch{
		ID:            s.genID.Generate(),
		VisitorID:     visitorID,
		AffiliateID:   affiliate.ID,
		AffiliateCode: affiliate.Code,
		CapturedAt:    candidate.CapturedAt,
		ExpiresAt:     candidate.ExpiresAt,
		CreatedAt:     now,
	})
}

// apply folds the touch into the visitor's attribution. It reports false only
// when the attribution is already consumed.
func (s *Service) apply(ctx context.Context, candidate *attributiondomain.ReferralAttribution) (bool, error) {
	// A concurrent first touch can win the insert; the second pass then
	// goes through the conditional update like any later touch.
	for attempt := 0; attempt < 2; attempt++ {
		touched, err := s.repo.Touch(ctx, s.db, candidate)
		if err != nil {
			return false, err
		}
		if touched {
			s.log.Debug("attribution replaced",
				zap.String("visitor_id", candidate.VisitorID),
				zap.String("affiliate_id", candidate.AffiliateID.String()),
			)
			return true, nil
		}

		existing, err := s.repo.FindByVisitor(ctx, s.db, candidate.VisitorID)
		if err != nil {
			return false, err
		}
		if existing != nil {
			// A newer touch already holds the row; this one still goes into
			// the history.
			return !existing.Consumed(), nil
		}

		err = s.repo.Insert(ctx, s.db, candidate)
		if err == nil {
			s.log.Debug("attribution captured",
				zap.String("visitor_id", candidate.VisitorID),
				zap.String("affiliate_id", candidate.AffiliateID.String()),
			)
			return true, nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return false, err
		}
	}
	return false, nil
}

func (s *Service) Resolve(ctx context.Context, visitorID string, now time.Time) (*snowflake.ID, error) {
	return s.ResolveTx(ctx, s.db, visitorID, now)
}

func (s *Service) ResolveTx(ctx context.Context, tx *gorm.DB, visitorID string, now time.Time) (*snowflake.ID, error) {
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return nil, attributiondomain.ErrInvalidVisitor
	}
	row, err := s.repo.FindByVisitor(ctx, tx, visitorID)
	if err != nil {
		return nil, err
	}
	if row == nil || row.Consumed() {
		return nil, nil
	}
	now = now.UTC()
	if !now.Before(row.CapturedAt) {
		if !row.ActiveAt(now) {
			return nil, nil
		}
		affiliateID := row.AffiliateID
		return &affiliateID, nil
	}

	// The row was re-pointed after now; credit the touch in force at now.
	touch, err := s.repo.TouchAt(ctx, tx, visitorID, now)
	if err != nil {
		return nil, err
	}
	if touch == nil || !touch.ActiveAt(now) {
		return nil, nil
	}
	affiliateID := touch.AffiliateID
	return &affiliateID, nil
}

func (s *Service) Consume(ctx context.Context, visitorID, orderRef string) error {
	return s.ConsumeTx(ctx, s.db, visitorID, orderRef)
}

func (s *Service) ConsumeTx(ctx context.Context, tx *gorm.DB, visitorID, orderRef string) error {
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return attributiondomain.ErrInvalidVisitor
	}
	orderRef = strings.TrimSpace(orderRef)
	if orderRef == "" {
		return attributiondomain.ErrInvalidOrderRef
	}

	consumed, err := s.repo.MarkConsumed(ctx, tx, visitorID, orderRef, s.clock.Now())
	if err != nil {
		return err
	}
	if consumed {
		return nil
	}

	row, err := s.repo.FindByVisitor(ctx, tx, visitorID)
	if err != nil {
		return err
	}
	switch {
	case row == nil:
		return attributiondomain.ErrAttributionNotFound
	case row.OrderRef != nil && *row.OrderRef == orderRef:
		return nil
	default:
		return attributiondomain.ErrAlreadyAttributed
	}
}

func (s *Service) Get(ctx context.Context, visitorID string) (*attributiondomain.ReferralAttribution, error) {
	row, err := s.repo.FindByVisitor(ctx, s.db, strings.TrimSpace(visitorID))
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, attributiondomain.ErrAttributionNotFound
	}
	return row, nil
}
