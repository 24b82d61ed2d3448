package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/rcarraroia/slim-quality-sub008/internal/ledger/domain"
	"github.com/rcarraroia/slim-quality-sub008/pkg/db"
	"github.com/rcarraroia/slim-quality-sub008/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) InsertCommissions(ctx context.Context, conn *gorm.DB, commissions []ledgerdomain.Commission) error {
	if len(commissions) == 0 {
		return nil
	}
	return conn.WithContext(ctx).Create(&commissions).Error
}

func (r *repo) FindCommissions(ctx context.Context, conn *gorm.DB, ids []snowflake.ID) ([]ledgerdomain.Commission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []ledgerdomain.Commission
	if err := conn.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindCommissionsByOrder(ctx context.Context, conn *gorm.DB, orderRef string) ([]ledgerdomain.Commission, error) {
	var items []ledgerdomain.Commission
	if err := conn.WithContext(ctx).
		Where("order_ref = ?", orderRef).
		Order("level ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListCommissions(ctx context.Context, conn *gorm.DB, req ledgerdomain.ListCommissionsRequest, cursor *pagination.Cursor, limit int) ([]ledgerdomain.Commission, error) {
	stmt := conn.WithContext(ctx).Model(&ledgerdomain.Commission{})
	if req.AffiliateID != nil {
		stmt = stmt.Where("affiliate_id = ?", *req.AffiliateID)
	}
	if req.OrderRef != "" {
		stmt = stmt.Where("order_ref = ?", req.OrderRef)
	}
	if req.Status != "" {
		stmt = stmt.Where("status = ?", req.Status)
	}
	if cursor != nil {
		stmt = stmt.Where("(created_at < ? OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var items []ledgerdomain.Commission
	if err := stmt.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) PendingOldestFirst(ctx context.Context, conn *gorm.DB, affiliateID snowflake.ID) ([]ledgerdomain.Commission, error) {
	stmt := conn.WithContext(ctx)
	if db.SupportsRowLocks(conn) {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var items []ledgerdomain.Commission
	if err := stmt.
		Where("affiliate_id = ? AND status = ? AND settled_amount < amount", affiliateID, ledgerdomain.CommissionStatusPending).
		Order("created_at ASC").
		Order("id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) TransitionStatus(ctx context.Context, conn *gorm.DB, ids []snowflake.ID, from, to ledgerdomain.CommissionStatus, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := conn.WithContext(ctx).
		Model(&ledgerdomain.Commission{}).
		Where("id IN ? AND status = ?", ids, from).
		Updates(map[string]any{
			"status":            to,
			"status_changed_at": now,
		})
	return result.RowsAffected, result.Error
}

func (r *repo) TransitionAffiliate(ctx context.Context, conn *gorm.DB, affiliateID snowflake.ID, from, to ledgerdomain.CommissionStatus, now time.Time) (int64, error) {
	result := conn.WithContext(ctx).
		Model(&ledgerdomain.Commission{}).
		Where("affiliate_id = ? AND status = ?", affiliateID, from).
		Updates(map[string]any{
			"status":            to,
			"status_changed_at": now,
		})
	return result.RowsAffected, result.Error
}

// Assignments that read settled_amount come first; MySQL evaluates SET left
// to right.
func (r *repo) ApplySettlement(ctx context.Context, conn *gorm.DB, commissionID snowflake.ID, amount int64, now time.Time) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE commissions
		SET status = CASE WHEN settled_amount + ? = amount THEN ? ELSE status END,
			status_changed_at = CASE WHEN settled_amount + ? = amount THEN ? ELSE status_changed_at END,
			settled_amount = settled_amount + ?
		WHERE id = ? AND status = ? AND settled_amount + ? <= amount`,
		amount, ledgerdomain.CommissionStatusPaid,
		amount, now,
		amount,
		commissionID, ledgerdomain.CommissionStatusPending, amount,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) PendingUnsettled(ctx context.Context, conn *gorm.DB, affiliateID snowflake.ID) (int64, error) {
	var total int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount - settled_amount), 0) FROM commissions WHERE affiliate_id = ? AND status = ?`,
		affiliateID, ledgerdomain.CommissionStatusPending,
	).Scan(&total).Error
	return total, err
}

func (r *repo) OpenReserved(ctx context.Context, conn *gorm.DB, affiliateID snowflake.ID) (int64, error) {
	var total int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_reservations WHERE affiliate_id = ? AND status = ?`,
		affiliateID, ledgerdomain.ReservationStatusOpen,
	).Scan(&total).Error
	return total, err
}

func (r *repo) HeldByOpenReservations(ctx context.Context, conn *gorm.DB, affiliateID snowflake.ID) (map[snowflake.ID]int64, error) {
	type row struct {
		CommissionID snowflake.ID
		Held         int64
	}
	var rows []row
	err := conn.WithContext(ctx).Raw(
		`SELECT i.commission_id AS commission_id, COALESCE(SUM(i.amount), 0) AS held
		FROM ledger_reservation_items i
		JOIN ledger_reservations r ON r.id = i.reservation_id
		WHERE r.affiliate_id = ? AND r.status = ?
		GROUP BY i.commission_id`,
		affiliateID, ledgerdomain.ReservationStatusOpen,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	held := make(map[snowflake.ID]int64, len(rows))
	for _, r := range rows {
		held[r.CommissionID] = r.Held
	}
	return held, nil
}

func (r *repo) StatusTotals(ctx context.Context, conn *gorm.DB, affiliateID snowflake.ID) ([]ledgerdomain.StatusTotal, error) {
	var rows []ledgerdomain.StatusTotal
	err := conn.WithContext(ctx).Raw(
		`SELECT status AS status, COALESCE(SUM(amount), 0) AS amount, COALESCE(SUM(settled_amount), 0) AS settled
		FROM commissions WHERE affiliate_id = ? GROUP BY status`,
		affiliateID,
	).Scan(&rows).Error
	return rows, err
}

func (r *repo) InsertReservation(ctx context.Context, conn *gorm.DB, reservation *ledgerdomain.Reservation, items []ledgerdomain.ReservationItem) error {
	if err := conn.WithContext(ctx).Create(reservation).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return conn.WithContext(ctx).Create(&items).Error
}

func (r *repo) FindReservation(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*ledgerdomain.Reservation, error) {
	var reservation ledgerdomain.Reservation
	err := conn.WithContext(ctx).Where("id = ?", id).Take(&reservation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *repo) ReservationItems(ctx context.Context, conn *gorm.DB, reservationID snowflake.ID) ([]ledgerdomain.ReservationItem, error) {
	var items []ledgerdomain.ReservationItem
	if err := conn.WithContext(ctx).
		Where("reservation_id = ?", reservationID).
		Order("id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CloseReservation(ctx context.Context, conn *gorm.DB, id snowflake.ID, status ledgerdomain.ReservationStatus, now time.Time) (bool, error) {
	result := conn.WithContext(ctx).
		Model(&ledgerdomain.Reservation{}).
		Where("id = ? AND status = ?", id, ledgerdomain.ReservationStatusOpen).
		Updates(map[string]any{
			"status":    status,
			"closed_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
