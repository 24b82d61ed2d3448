package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	// Capture records a touch; an unconsumed attribution is replaced, a
	// consumed one is left alone.
	Capture(ctx context.Context, visitorID, affiliateCode string, now time.Time) error
	// Resolve returns the affiliate whose touch was in force at now, or nil
	// when there is none or the attribution is consumed. It never consumes.
	Resolve(ctx context.Context, visitorID string, now time.Time) (*snowflake.ID, error)
	Consume(ctx context.Context, visitorID, orderRef string) error
	Get(ctx context.Context, visitorID string) (*ReferralAttribution, error)

	ResolveTx(ctx context.Context, tx *gorm.DB, visitorID string, now time.Time) (*snowflake.ID, error)
	ConsumeTx(ctx context.Context, tx *gorm.DB, visitorID, orderRef string) error
}

type Repository interface {
	FindByVisitor(ctx context.Context, db *gorm.DB, visitorID string) (*ReferralAttribution, error)
	Insert(ctx context.Context, db *gorm.DB, attribution *ReferralAttribution) error
	// Touch re-points an unconsumed attribution captured no later than
	// capturedAt. It reports whether a row changed.
	Touch(ctx context.Context, db *gorm.DB, attribution *ReferralAttribution) (bool, error)
	// MarkConsumed sets order_ref on an unconsumed attribution.
	MarkConsumed(ctx context.Context, db *gorm.DB, visitorID, orderRef string, at time.Time) (bool, error)

	InsertTouch(ctx context.Context, db *gorm.DB, touch *ReferralTouch) error
	// TouchAt returns the latest touch captured no later than ts, or nil.
	TouchAt(ctx context.Context, db *gorm.DB, visitorID string, ts time.Time) (*ReferralTouch, error)
}

var (
	ErrInvalidVisitor      = errors.New("invalid_visitor")
	ErrInvalidOrderRef     = errors.New("invalid_order_ref")
	ErrAlreadyAttributed   = errors.New("already_attributed")
	ErrAttributionNotFound = errors.New("attribution_not_found")
)
