package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	// ProcessOrderCompleted attributes an order and posts its commissions in
	// one transaction. Replays return the commissions of the first run.
	ProcessOrderCompleted(ctx context.Context, event OrderCompleted) (*Result, error)
}

type Repository interface {
	// InsertProcessed reports false when the order was already recorded.
	InsertProcessed(ctx context.Context, db *gorm.DB, order *ProcessedOrder) (bool, error)
	FindProcessed(ctx context.Context, db *gorm.DB, orderRef string) (*ProcessedOrder, error)
	SetAffiliate(ctx context.Context, db *gorm.DB, orderRef string, affiliateID snowflake.ID) error
}

var (
	ErrInvalidOrderRef    = errors.New("invalid_order_ref")
	ErrInvalidOrderValue  = errors.New("invalid_order_value")
	ErrInvalidVisitor     = errors.New("invalid_visitor")
	ErrInvalidCompletedAt = errors.New("invalid_completed_at")
)
