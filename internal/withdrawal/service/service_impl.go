package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	affiliatedomain "github.com/rcarraroia/slim-quality-sub008/internal/affiliate/domain"
	auditdomain "github.com/rcarraroia/slim-quality-sub008/internal/audit/domain"
	"github.com/rcarraroia/slim-quality-sub008/internal/clock"
	ledgerdomain "github.com/rcarraroia/slim-quality-sub008/internal/ledger/domain"
	obsmetrics "github.com/rcarraroia/slim-quality-sub008/internal/observability/metrics"
	withdrawaldomain "github.com/rcarraroia/slim-quality-sub008/internal/withdrawal/domain"
	"github.com/rcarraroia/slim-quality-sub008/pkg/db"
	"github.com/rcarraroia/slim-quality-sub008/pkg/db/pagination"
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
	Repo          withdrawaldomain.Repository
	AffiliateRepo affiliatedomain.Repository
	LedgerSvc     ledgerdomain.Service
	AuditSvc      auditdomain.Service
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          withdrawaldomain.Repository
	affiliateRepo affiliatedomain.Repository
	ledgerSvc     ledgerdomain.Service
	auditSvc      auditdomain.Service
	obsMetrics    *obsmetrics.Metrics
}

func NewService(p ServiceParam) withdrawaldomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("withdrawal.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		affiliateRepo: p.AffiliateRepo,
		ledgerSvc:     p.LedgerSvc,
		auditSvc:      p.AuditSvc,
		obsMetrics:    p.ObsMetrics,
	}
}

func (s *Service) Request(ctx context.Context, in withdrawaldomain.RequestInput) (*withdrawaldomain.WithdrawalRequest, error) {
	if in.Amount <= 0 {
		return nil, withdrawaldomain.ErrInvalidAmount
	}

	var created *withdrawaldomain.WithdrawalRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockAffiliate(ctx, tx, in.AffiliateID); err != nil {
			return err
		}

		open, err := s.repo.FindOpen(ctx, tx, in.AffiliateID)
		if err != nil {
			return err
		}
		if open != nil {
			return withdrawaldomain.ErrRequestAlreadyOpen
		}

		balance, err := s.ledgerSvc.BalanceOfTx(ctx, tx, in.AffiliateID)
		if err != nil {
			return err
		}
		if in.Amount > balance {
			return withdrawaldomain.ErrInsufficientBalance
		}

		now := s.clock.Now()
		request := &withdrawaldomain.WithdrawalRequest{
			ID:          s.genID.Generate(),
			AffiliateID: in.AffiliateID,
			Amount:      in.Amount,
			Status:      withdrawaldomain.StatusRequested,
			Note:        strings.TrimSpace(in.Note),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.Insert(ctx, tx, request); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return withdrawaldomain.ErrRequestAlreadyOpen
			}
			return err
		}
		created = request
		return s.audit(ctx, tx, nil, auditdomain.ActionWithdrawalRequested, request, map[string]any{
			"affiliate_id": request.AffiliateID.String(),
			"amount":       request.Amount,
		})
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(ctx, created)
	return created, nil
}

func (s *Service) Approve(ctx context.Context, id snowflake.ID, decidedBy string) (*withdrawaldomain.WithdrawalRequest, error) {
	return s.decide(ctx, id, decidedBy, "", withdrawaldomain.StatusApproved,
		func(ctx context.Context, tx *gorm.DB, request *withdrawaldomain.WithdrawalRequest, t *withdrawaldomain.Transition) error {
			reservationID, err := s.ledgerSvc.ReserveTx(ctx, tx, request.AffiliateID, request.Amount)
			if err != nil {
				return err
			}
			t.ReservationID = &reservationID
			return nil
		})
}

func (s *Service) Reject(ctx context.Context, id snowflake.ID, decidedBy, reason string) (*withdrawaldomain.WithdrawalRequest, error) {
	return s.decide(ctx, id, decidedBy, reason, withdrawaldomain.StatusRejected,
		func(ctx context.Context, tx *gorm.DB, request *withdrawaldomain.WithdrawalRequest, _ *withdrawaldomain.Transition) error {
			if request.ReservationID == nil {
				return nil
			}
			return s.ledgerSvc.ReleaseTx(ctx, tx, *request.ReservationID)
		})
}

func (s *Service) MarkPaid(ctx context.Context, id snowflake.ID, decidedBy string) (*withdrawaldomain.WithdrawalRequest, error) {
	return s.decide(ctx, id, decidedBy, "", withdrawaldomain.StatusPaid,
		func(ctx context.Context, tx *gorm.DB, request *withdrawaldomain.WithdrawalRequest, _ *withdrawaldomain.Transition) error {
			if request.ReservationID == nil {
				return withdrawaldomain.ErrInvalidTransition
			}
			return s.ledgerSvc.SettleTx(ctx, tx, *request.ReservationID)
		})
}

type ledgerStep func(ctx context.Context, tx *gorm.DB, request *withdrawaldomain.WithdrawalRequest, t *withdrawaldomain.Transition) error

// decide moves a request to next and runs the matching ledger step in the
// same transaction.
func (s *Service) decide(ctx context.Context, id snowflake.ID, decidedBy, reason string, next withdrawaldomain.Status, step ledgerStep) (*withdrawaldomain.WithdrawalRequest, error) {
	decidedBy = strings.TrimSpace(decidedBy)
	if decidedBy == "" {
		return nil, withdrawaldomain.ErrInvalidDecider
	}

	var updated *withdrawaldomain.WithdrawalRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		request, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if request == nil {
			return withdrawaldomain.ErrWithdrawalNotFound
		}
		if err := s.lockAffiliate(ctx, tx, request.AffiliateID); err != nil {
			return err
		}
		// Re-read under the affiliate lock.
		request, err = s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if !request.Status.CanTransitionTo(next) {
			return withdrawaldomain.ErrInvalidTransition
		}

		t := withdrawaldomain.Transition{
			From:           request.Status,
			To:             next,
			DecidedBy:      decidedBy,
			DecisionReason: strings.TrimSpace(reason),
			At:             s.clock.Now(),
		}
		if err := step(ctx, tx, request, &t); err != nil {
			return err
		}
		ok, err := s.repo.Apply(ctx, tx, id, t)
		if err != nil {
			return err
		}
		if !ok {
			return withdrawaldomain.ErrInvalidTransition
		}

		updated, err = s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		metadata := map[string]any{
			"from":   string(t.From),
			"to":     string(t.To),
			"amount": updated.Amount,
		}
		if t.DecisionReason != "" {
			metadata["reason"] = t.DecisionReason
		}
		if updated.ReservationID != nil {
			metadata["reservation_id"] = updated.ReservationID.String()
		}
		return s.audit(ctx, tx, &decidedBy, transitionActions[next], updated, metadata)
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(ctx, updated)
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*withdrawaldomain.WithdrawalRequest, error) {
	request, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, withdrawaldomain.ErrWithdrawalNotFound
	}
	return request, nil
}

func (s *Service) List(ctx context.Context, req withdrawaldomain.ListRequest) (withdrawaldomain.ListResponse, error) {
	if req.Status != "" && !req.Status.Valid() {
		return withdrawaldomain.ListResponse{}, withdrawaldomain.ErrInvalidStatus
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return withdrawaldomain.ListResponse{}, err
	}
	limit := pagination.NormalizeSize(req.PageSize)

	rows, err := s.repo.List(ctx, s.db, req, cursor, limit+1)
	if err != nil {
		return withdrawaldomain.ListResponse{}, err
	}
	rows, info := pagination.Trim(rows, limit, func(w withdrawaldomain.WithdrawalRequest) pagination.Cursor {
		return pagination.Cursor{ID: w.ID, CreatedAt: w.CreatedAt}
	})
	return withdrawaldomain.ListResponse{PageInfo: info, Withdrawals: rows}, nil
}

func (s *Service) lockAffiliate(ctx context.Context, tx *gorm.DB, affiliateID snowflake.ID) error {
	affiliate, err := s.affiliateRepo.LockByID(ctx, tx, affiliateID)
	if err != nil {
		return err
	}
	if affiliate == nil {
		return affiliatedomain.ErrUnknownAffiliate
	}
	return nil
}

var transitionActions = map[withdrawaldomain.Status]string{
	withdrawaldomain.StatusApproved: auditdomain.ActionWithdrawalApproved,
	withdrawaldomain.StatusRejected: auditdomain.ActionWithdrawalRejected,
	withdrawaldomain.StatusPaid:     auditdomain.ActionWithdrawalPaid,
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, actorID *string, action string, request *withdrawaldomain.WithdrawalRequest, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	target := request.ID.String()
	return s.auditSvc.AuditLogTx(ctx, tx, actorID, action, auditdomain.TargetWithdrawal, &target, metadata)
}

func (s *Service) recordTransition(ctx context.Context, request *withdrawaldomain.WithdrawalRequest) {
	s.obsMetrics.RecordWithdrawalTransition(ctx, string(request.Status))
	s.log.Info("withdrawal transitioned",
		zap.String("withdrawal_id", request.ID.String()),
		zap.String("affiliate_id", request.AffiliateID.String()),
		zap.String("status", string(request.Status)),
		zap.Int64("amount", request.Amount),
	)
}
