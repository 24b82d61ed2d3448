package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rcarraroia/slim-quality-sub008/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListCommissionsRequest struct {
	AffiliateID *snowflake.ID
	OrderRef    string
	Status      CommissionStatus
	PageToken   string
	PageSize    int
}

type ListCommissionsResponse struct {
	pagination.PageInfo
	Commissions []Commission `json:"commissions"`
}

type Service interface {
	// RecordTx inserts freshly calculated commissions.
	RecordTx(ctx context.Context, tx *gorm.DB, commissions []Commission) error
	CommissionsByOrderTx(ctx context.Context, tx *gorm.DB, orderRef string) ([]Commission, error)

	BalanceOf(ctx context.Context, affiliateID snowflake.ID) (int64, error)
	BalanceOfTx(ctx context.Context, tx *gorm.DB, affiliateID snowflake.ID) (int64, error)

	Reserve(ctx context.Context, affiliateID snowflake.ID, amount int64) (snowflake.ID, error)
	ReserveTx(ctx context.Context, tx *gorm.DB, affiliateID snowflake.ID, amount int64) (snowflake.ID, error)
	Release(ctx context.Context, reservationID snowflake.ID) error
	ReleaseTx(ctx context.Context, tx *gorm.DB, reservationID snowflake.ID) error
	Settle(ctx context.Context, reservationID snowflake.ID) error
	SettleTx(ctx context.Context, tx *gorm.DB, reservationID snowflake.ID) error

	MarkPendingTx(ctx context.Context, tx *gorm.DB, commissionIDs []snowflake.ID) error
	MarkFailed(ctx context.Context, commissionIDs []snowflake.ID) error

	ListCommissions(ctx context.Context, req ListCommissionsRequest) (ListCommissionsResponse, error)
	Summary(ctx context.Context, affiliateID snowflake.ID) (*Summary, error)
	// Reconcile advances calculated commissions of an active affiliate to
	// pending and reports how many moved.
	Reconcile(ctx context.Context, affiliateID snowflake.ID) (int64, error)
}

type Repository interface {
	InsertCommissions(ctx context.Context, db *gorm.DB, commissions []Commission) error
	FindCommissions(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Commission, error)
	FindCommissionsByOrder(ctx context.Context, db *gorm.DB, orderRef string) ([]Commission, error)
	ListCommissions(ctx context.Context, db *gorm.DB, req ListCommissionsRequest, cursor *pagination.Cursor, limit int) ([]Commission, error)
	// PendingOldestFirst returns pending commissions with an unsettled remainder.
	PendingOldestFirst(ctx context.Context, db *gorm.DB, affiliateID snowflake.ID) ([]Commission, error)
	// TransitionStatus moves ids from one status to another and returns the
	// number of rows changed.
	TransitionStatus(ctx context.Context, db *gorm.DB, ids []snowflake.ID, from, to CommissionStatus, now time.Time) (int64, error)
	TransitionAffiliate(ctx context.Context, db *gorm.DB, affiliateID snowflake.ID, from, to CommissionStatus, now time.Time) (int64, error)
	// ApplySettlement adds amount to settled_amount of a pending commission
	// as long as it stays within the commission amount.
	ApplySettlement(ctx context.Context, db *gorm.DB, commissionID snowflake.ID, amount int64, now time.Time) (bool, error)

	PendingUnsettled(ctx context.Context, db *gorm.DB, affiliateID snowflake.ID) (int64, error)
	OpenReserved(ctx context.Context, db *gorm.DB, affiliateID snowflake.ID) (int64, error)
	// HeldByOpenReservations sums open reservation items per commission.
	HeldByOpenReservations(ctx context.Context, db *gorm.DB, affiliateID snowflake.ID) (map[snowflake.ID]int64, error)
	StatusTotals(ctx context.Context, db *gorm.DB, affiliateID snowflake.ID) ([]StatusTotal, error)

	InsertReservation(ctx context.Context, db *gorm.DB, reservation *Reservation, items []ReservationItem) error
	FindReservation(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Reservation, error)
	ReservationItems(ctx context.Context, db *gorm.DB, reservationID snowflake.ID) ([]ReservationItem, error)
	// CloseReservation moves an open reservation to status; false when it was
	// no longer open.
	CloseReservation(ctx context.Context, db *gorm.DB, id snowflake.ID, status ReservationStatus, now time.Time) (bool, error)
}

type StatusTotal struct {
	Status  CommissionStatus
	Amount  int64
	Settled int64
}

var (
	ErrInsufficientBalance         = errors.New("insufficient_balance")
	ErrInvalidAmount               = errors.New("invalid_amount")
	ErrReservationNotFound         = errors.New("reservation_not_found")
	ErrStaleReservation            = errors.New("stale_reservation")
	ErrInvalidCommissionTransition = errors.New("invalid_commission_transition")
	ErrCommissionNotFound          = errors.New("commission_not_found")
	ErrInvalidCommissionStatus     = errors.New("invalid_commission_status")
	ErrInvalidCommission           = errors.New("invalid_commission")
)
