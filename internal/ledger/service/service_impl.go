package service

import (
	"context"
	"sort"

	"github.com/bwmarrin/snowflake"
	affiliatedomain "github.com/rcarraroia/slim-quality-sub008/internal/affiliate/domain"
	auditdomain "github.com/rcarraroia/slim-quality-sub008/internal/audit/domain"
	"github.com/rcarraroia/slim-quality-sub008/internal/clock"
	ledgerdomain "github.com/rcarraroia/slim-quality-sub008/internal/ledger/domain"
	"github.com/rcarraroia/slim-quality-sub008/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          ledgerdomain.Repository
	AffiliateRepo affiliatedomain.Repository
	AuditSvc      auditdomain.Service
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          ledgerdomain.Repository
	affiliateRepo affiliatedomain.Repository
	auditSvc      auditdomain.Service
}

func NewService(p Params) *Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("ledger.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		affiliateRepo: p.AffiliateRepo,
		auditSvc:      p.AuditSvc,
	}
}

func (s *Service) RecordTx(ctx context.Context, tx *gorm.DB, commissions []ledgerdomain.Commission) error {
	now := s.clock.Now()
	for i := range commissions {
		c := &commissions[i]
		if c.OrderRef == "" || c.AffiliateID == 0 || c.Level < 1 || c.Amount < 0 || c.BaseAmount < 0 {
			return ledgerdomain.ErrInvalidCommission
		}
		if c.ID == 0 {
			c.ID = s.genID.Generate()
		}
		c.Status = ledgerdomain.CommissionStatusCalculated
		c.SettledAmount = 0
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		c.StatusChangedAt = c.CreatedAt
	}
	return s.repo.InsertCommissions(ctx, tx, commissions)
}

func (s *Service) CommissionsByOrderTx(ctx context.Context, tx *gorm.DB, orderRef string) ([]ledgerdomain.Commission, error) {
	return s.repo.FindCommissionsByOrder(ctx, tx, orderRef)
}

func (s *Service) BalanceOf(ctx context.Context, affiliateID snowflake.ID) (int64, error) {
	return s.BalanceOfTx(ctx, s.db, affiliateID)
}

func (s *Service) BalanceOfTx(ctx context.Context, tx *gorm.DB, affiliateID snowflake.ID) (int64, error) {
	pending, err := s.repo.PendingUnsettled(ctx, tx, affiliateID)
	if err != nil {
		return 0, err
	}
	reserved, err := s.repo.OpenReserved(ctx, tx, affiliateID)
	if err != nil {
		return 0, err
	}
	return pending - reserved, nil
}

func (s *Service) Reserve(ctx context.Context, affiliateID snowflake.ID, amount int64) (snowflake.ID, error) {
	var id snowflake.ID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		id, err = s.ReserveTx(ctx, tx, affiliateID, amount)
		return err
	})
	return id, err
}

func (s *Service) ReserveTx(ctx context.Context, tx *gorm.DB, affiliateID snowflake.ID, amount int64) (snowflake.ID, error) {
	if amount <= 0 {
		return 0, ledgerdomain.ErrInvalidAmount
	}
	if err := s.lockAffiliate(ctx, tx, affiliateID); err != nil {
		return 0, err
	}

	balance, err := s.BalanceOfTx(ctx, tx, affiliateID)
	if err != nil {
		return 0, err
	}
	if amount > balance {
		return 0, ledgerdomain.ErrInsufficientBalance
	}

	pending, err := s.repo.PendingOldestFirst(ctx, tx, affiliateID)
	if err != nil {
		return 0, err
	}
	held, err := s.repo.HeldByOpenReservations(ctx, tx, affiliateID)
	if err != nil {
		return 0, err
	}

	reservation := &ledgerdomain.Reservation{
		ID:          s.genID.Generate(),
		AffiliateID: affiliateID,
		Amount:      amount,
		Status:      ledgerdomain.ReservationStatusOpen,
		CreatedAt:   s.clock.Now(),
	}
	remaining := amount
	items := make([]ledgerdomain.ReservationItem, 0, len(pending))
	for _, c := range pending {
		if remaining == 0 {
			break
		}
		free := c.Unsettled() - held[c.ID]
		if free <= 0 {
			continue
		}
		take := min(free, remaining)
		items = append(items, ledgerdomain.ReservationItem{
			ID:            s.genID.Generate(),
			ReservationID: reservation.ID,
			CommissionID:  c.ID,
			Amount:        take,
		})
		remaining -= take
	}
	if remaining > 0 {
		// Balance and per-commission holds disagree.
		s.log.Error("reservation allocation short",
			zap.String("affiliate_id", affiliateID.String()),
			zap.Int64("amount", amount),
			zap.Int64("unallocated", remaining),
		)
		return 0, ledgerdomain.ErrInsufficientBalance
	}

	if err := s.repo.InsertReservation(ctx, tx, reservation, items); err != nil {
		return 0, err
	}
	s.log.Info("balance reserved",
		zap.String("affiliate_id", affiliateID.String()),
		zap.String("reservation_id", reservation.ID.String()),
		zap.Int64("amount", amount),
		zap.Int("commissions", len(items)),
	)
	return reservation.ID, nil
}

func (s *Service) Release(ctx context.Context, reservationID snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.ReleaseTx(ctx, tx, reservationID)
	})
}

func (s *Service) ReleaseTx(ctx context.Context, tx *gorm.DB, reservationID snowflake.ID) error {
	reservation, err := s.lockedReservation(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	if reservation.Status != ledgerdomain.ReservationStatusOpen {
		return nil
	}
	if _, err := s.repo.CloseReservation(ctx, tx, reservationID, ledgerdomain.ReservationStatusReleased, s.clock.Now()); err != nil {
		return err
	}
	s.log.Info("reservation released",
		zap.String("reservation_id", reservationID.String()),
		zap.String("affiliate_id", reservation.AffiliateID.String()),
	)
	return nil
}

func (s *Service) Settle(ctx context.Context, reservationID snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.SettleTx(ctx, tx, reservationID)
	})
}

// SettleTx pays out every item of an open reservation. Settling an already
// settled reservation is a no-op; a released one is stale.
func (s *Service) SettleTx(ctx context.Context, tx *gorm.DB, reservationID snowflake.ID) error {
	reservation, err := s.lockedReservation(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	switch reservation.Status {
	case ledgerdomain.ReservationStatusSettled:
		return nil
	case ledgerdomain.ReservationStatusOpen:
	default:
		return ledgerdomain.ErrStaleReservation
	}

	items, err := s.repo.ReservationItems(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	var total int64
	for _, item := range items {
		ok, err := s.repo.ApplySettlement(ctx, tx, item.CommissionID, item.Amount, now)
		if err != nil {
			return err
		}
		if !ok {
			s.log.Warn("stale reservation item",
				zap.String("reservation_id", reservationID.String()),
				zap.String("commission_id", item.CommissionID.String()),
			)
			return ledgerdomain.ErrStaleReservation
		}
		total += item.Amount
	}
	if total != reservation.Amount {
		return ledgerdomain.ErrStaleReservation
	}

	closed, err := s.repo.CloseReservation(ctx, tx, reservationID, ledgerdomain.ReservationStatusSettled, now)
	if err != nil {
		return err
	}
	if !closed {
		return ledgerdomain.ErrStaleReservation
	}
	s.log.Info("reservation settled",
		zap.String("reservation_id", reservationID.String()),
		zap.String("affiliate_id", reservation.AffiliateID.String()),
		zap.Int64("amount", total),
	)
	return nil
}

// lockedReservation takes the owning affiliate's lock before re-reading the
// reservation under it.
func (s *Service) lockedReservation(ctx context.Context, tx *gorm.DB, reservationID snowflake.ID) (*ledgerdomain.Reservation, error) {
	reservation, err := s.repo.FindReservation(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}
	if reservation == nil {
		return nil, ledgerdomain.ErrReservationNotFound
	}
	if err := s.lockAffiliate(ctx, tx, reservation.AffiliateID); err != nil {
		return nil, err
	}
	return s.repo.FindReservation(ctx, tx, reservationID)
}

func (s *Service) MarkPendingTx(ctx context.Context, tx *gorm.DB, commissionIDs []snowflake.ID) error {
	ids := dedupe(commissionIDs)
	if len(ids) == 0 {
		return nil
	}
	changed, err := s.repo.TransitionStatus(ctx, tx, ids, ledgerdomain.CommissionStatusCalculated, ledgerdomain.CommissionStatusPending, s.clock.Now())
	if err != nil {
		return err
	}
	if changed != int64(len(ids)) {
		return ledgerdomain.ErrInvalidCommissionTransition
	}
	return nil
}

func (s *Service) MarkFailed(ctx context.Context, commissionIDs []snowflake.ID) error {
	ids := dedupe(commissionIDs)
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		commissions, err := s.repo.FindCommissions(ctx, tx, ids)
		if err != nil {
			return err
		}
		if len(commissions) != len(ids) {
			return ledgerdomain.ErrCommissionNotFound
		}

		affiliates := make([]snowflake.ID, 0, len(commissions))
		seen := make(map[snowflake.ID]struct{}, len(commissions))
		for _, c := range commissions {
			if _, ok := seen[c.AffiliateID]; !ok {
				seen[c.AffiliateID] = struct{}{}
				affiliates = append(affiliates, c.AffiliateID)
			}
		}
		// Fixed lock order across affiliates.
		sort.Slice(affiliates, func(i, j int) bool { return affiliates[i] < affiliates[j] })
		for _, id := range affiliates {
			if err := s.lockAffiliate(ctx, tx, id); err != nil {
				return err
			}
		}

		changed, err := s.repo.TransitionStatus(ctx, tx, ids, ledgerdomain.CommissionStatusPending, ledgerdomain.CommissionStatusFailed, s.clock.Now())
		if err != nil {
			return err
		}
		if changed != int64(len(ids)) {
			return ledgerdomain.ErrInvalidCommissionTransition
		}
		if s.auditSvc != nil {
			for _, c := range commissions {
				target := c.ID.String()
				if err := s.auditSvc.AuditLogTx(ctx, tx, nil, auditdomain.ActionCommissionFailed, auditdomain.TargetCommission, &target, map[string]any{
					"affiliate_id": c.AffiliateID.String(),
					"order_ref":    c.OrderRef,
					"amount":       c.Amount,
				}); err != nil {
					return err
				}
			}
		}
		s.log.Info("commissions marked failed", zap.Int("count", len(ids)))
		return nil
	})
}

func (s *Service) ListCommissions(ctx context.Context, req ledgerdomain.ListCommissionsRequest) (ledgerdomain.ListCommissionsResponse, error) {
	if req.Status != "" && !req.Status.Valid() {
		return ledgerdomain.ListCommissionsResponse{}, ledgerdomain.ErrInvalidCommissionStatus
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return ledgerdomain.ListCommissionsResponse{}, err
	}
	limit := pagination.NormalizeSize(req.PageSize)

	rows, err := s.repo.ListCommissions(ctx, s.db, req, cursor, limit+1)
	if err != nil {
		return ledgerdomain.ListCommissionsResponse{}, err
	}
	rows, info := pagination.Trim(rows, limit, func(c ledgerdomain.Commission) pagination.Cursor {
		return pagination.Cursor{ID: c.ID, CreatedAt: c.CreatedAt}
	})
	return ledgerdomain.ListCommissionsResponse{PageInfo: info, Commissions: rows}, nil
}

func (s *Service) Summary(ctx context.Context, affiliateID snowflake.ID) (*ledgerdomain.Summary, error) {
	affiliate, err := s.affiliateRepo.FindByID(ctx, s.db, affiliateID)
	if err != nil {
		return nil, err
	}
	if affiliate == nil {
		return nil, affiliatedomain.ErrUnknownAffiliate
	}

	totals, err := s.repo.StatusTotals(ctx, s.db, affiliateID)
	if err != nil {
		return nil, err
	}
	reserved, err := s.repo.OpenReserved(ctx, s.db, affiliateID)
	if err != nil {
		return nil, err
	}

	summary := &ledgerdomain.Summary{AffiliateID: affiliateID, Reserved: reserved}
	for _, t := range totals {
		switch t.Status {
		case ledgerdomain.CommissionStatusCalculated:
			summary.Calculated += t.Amount
		case ledgerdomain.CommissionStatusPending:
			summary.Pending += t.Amount - t.Settled
			summary.Paid += t.Settled
		case ledgerdomain.CommissionStatusPaid:
			summary.Paid += t.Amount
		case ledgerdomain.CommissionStatusFailed:
			summary.Failed += t.Amount - t.Settled
			summary.Paid += t.Settled
		}
	}
	summary.Available = summary.Pending - summary.Reserved
	return summary, nil
}

func (s *Service) Reconcile(ctx context.Context, affiliateID snowflake.ID) (int64, error) {
	var moved int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		moved, err = s.reconcileTx(ctx, tx, affiliateID)
		return err
	})
	return moved, err
}

// OnAffiliateActivated runs inside the affiliate status transaction, which
// already holds the affiliate row.
func (s *Service) OnAffiliateActivated(ctx context.Context, tx *gorm.DB, affiliateID snowflake.ID) error {
	_, err := s.reconcileTx(ctx, tx, affiliateID)
	return err
}

func (s *Service) reconcileTx(ctx context.Context, tx *gorm.DB, affiliateID snowflake.ID) (int64, error) {
	affiliate, err := s.affiliateRepo.LockByID(ctx, tx, affiliateID)
	if err != nil {
		return 0, err
	}
	if affiliate == nil {
		return 0, affiliatedomain.ErrUnknownAffiliate
	}
	if affiliate.Status != affiliatedomain.StatusActive {
		return 0, nil
	}

	moved, err := s.repo.TransitionAffiliate(ctx, tx, affiliateID, ledgerdomain.CommissionStatusCalculated, ledgerdomain.CommissionStatusPending, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if moved > 0 {
		s.log.Info("calculated commissions released to pending",
			zap.String("affiliate_id", affiliateID.String()),
			zap.Int64("count", moved),
		)
	}
	return moved, nil
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

func dedupe(ids []snowflake.ID) []snowflake.ID {
	out := make([]snowflake.ID, 0, len(ids))
	seen := make(map[snowflake.ID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
