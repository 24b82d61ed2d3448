package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/rcarraroia/slim-quality-sub008/internal/ledger/domain"
	"github.com/rcarraroia/slim-quality-sub008/pkg/db/pagination"
	"gorm.io/gorm"
)

type RequestInput struct {
	AffiliateID snowflake.ID `json:"affiliate_id"`
	Amount      int64        `json:"amount"`
	Note        string       `json:"note"`
}

type ListRequest struct {
	AffiliateID *snowflake.ID
	Status      Status
	PageToken   string
	PageSize    int
}

type ListResponse struct {
	pagination.PageInfo
	Withdrawals []WithdrawalRequest `json:"withdrawals"`
}

type Service interface {
	Request(ctx context.Context, in RequestInput) (*WithdrawalRequest, error)
	Approve(ctx context.Context, id snowflake.ID, decidedBy string) (*WithdrawalRequest, error)
	Reject(ctx context.Context, id snowflake.ID, decidedBy, reason string) (*WithdrawalRequest, error)
	MarkPaid(ctx context.Context, id snowflake.ID, decidedBy string) (*WithdrawalRequest, error)
	Get(ctx context.Context, id snowflake.ID) (*WithdrawalRequest, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

// Transition is a guarded status change applied to a single request.
type Transition struct {
	From           Status
	To             Status
	ReservationID  *snowflake.ID
	DecidedBy      string
	DecisionReason string
	At             time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, request *WithdrawalRequest) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*WithdrawalRequest, error)
	FindOpen(ctx context.Context, db *gorm.DB, affiliateID snowflake.ID) (*WithdrawalRequest, error)
	// Apply updates the request only while it is still in t.From.
	Apply(ctx context.Context, db *gorm.DB, id snowflake.ID, t Transition) (bool, error)
	List(ctx context.Context, db *gorm.DB, req ListRequest, cursor *pagination.Cursor, limit int) ([]WithdrawalRequest, error)
}

var (
	ErrInvalidTransition   = errors.New("invalid_transition")
	ErrRequestAlreadyOpen  = errors.New("request_already_open")
	ErrWithdrawalNotFound  = errors.New("withdrawal_not_found")
	ErrInvalidAmount       = errors.New("invalid_withdrawal_amount")
	ErrInvalidStatus       = errors.New("invalid_withdrawal_status")
	ErrInvalidDecider      = errors.New("invalid_decided_by")
	ErrInsufficientBalance = ledgerdomain.ErrInsufficientBalance
)
