package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rcarraroia/slim-quality-sub008/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateRequest struct {
	Code       string        `json:"code"`
	Name       string        `json:"name"`
	Status     Status        `json:"status"`
	ParentID   *snowflake.ID `json:"parent_id"`
	ParentCode string        `json:"parent_code"`
}

type ListRequest struct {
	Status    Status
	ParentID  *snowflake.ID
	PageToken string
	PageSize  int
}

type ListResponse struct {
	pagination.PageInfo
	Affiliates []Affiliate `json:"affiliates"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Affiliate, error)
	Get(ctx context.Context, id snowflake.ID) (*Affiliate, error)
	GetByCode(ctx context.Context, code string) (*Affiliate, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	UpdateStatus(ctx context.Context, id snowflake.ID, status Status) (*Affiliate, error)

	// Attach moves childID (and its subtree) under parentID.
	Attach(ctx context.Context, childID, parentID snowflake.ID) error
	// AncestorsOf returns the chain starting at affiliateID itself (level 1),
	// closest first, truncated at maxDepth.
	AncestorsOf(ctx context.Context, affiliateID snowflake.ID, maxDepth int) ([]snowflake.ID, error)
	AncestorsOfTx(ctx context.Context, tx *gorm.DB, affiliateID snowflake.ID, maxDepth int) ([]snowflake.ID, error)
}

// Repository takes the handle explicitly so callers can run it inside their
// own transaction.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, affiliate *Affiliate) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Affiliate, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Affiliate, error)
	// LockByID loads the row with FOR UPDATE where the dialect supports it.
	LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Affiliate, error)
	// LockGenealogy serializes tree mutations for the current transaction.
	LockGenealogy(ctx context.Context, db *gorm.DB) error
	ChildrenOf(ctx context.Context, db *gorm.DB, parentIDs []snowflake.ID) ([]snowflake.ID, error)
	UpdateParent(ctx context.Context, db *gorm.DB, id snowflake.ID, parentID snowflake.ID, now time.Time) error
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, now time.Time) error
	List(ctx context.Context, db *gorm.DB, req ListRequest, cursor *pagination.Cursor, limit int) ([]Affiliate, error)
}

// ReinstatementHook runs inside the status update transaction when an
// affiliate becomes active.
type ReinstatementHook interface {
	OnAffiliateActivated(ctx context.Context, tx *gorm.DB, affiliateID snowflake.ID) error
}

var (
	ErrUnknownAffiliate        = errors.New("unknown_affiliate")
	ErrCycleDetected           = errors.New("cycle_detected")
	ErrDepthExceeded           = errors.New("depth_exceeded")
	ErrInvalidCode             = errors.New("invalid_affiliate_code")
	ErrInvalidName             = errors.New("invalid_affiliate_name")
	ErrInvalidStatus           = errors.New("invalid_affiliate_status")
	ErrInvalidStatusTransition = errors.New("invalid_affiliate_status_transition")
	ErrCodeTaken               = errors.New("affiliate_code_taken")
	ErrInvalidDepth            = errors.New("invalid_depth")
)
