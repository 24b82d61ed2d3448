package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type RuleInput struct {
	Level       int      `json:"level"`
	Type        RuleType `json:"type"`
	BasisPoints int64    `json:"basis_points"`
	FixedAmount int64    `json:"fixed_amount"`
}

type PublishRequest struct {
	// EffectiveFrom defaults to now and may not lie in the past.
	EffectiveFrom *time.Time  `json:"effective_from"`
	Rules         []RuleInput `json:"rules"`
}

type Service interface {
	RulesEffectiveAt(ctx context.Context, ts time.Time) (RuleSet, error)
	RulesEffectiveAtTx(ctx context.Context, tx *gorm.DB, ts time.Time) (RuleSet, error)
	Publish(ctx context.Context, req PublishRequest) (*RuleSet, error)
	ListVersions(ctx context.Context) ([]RuleSet, error)
	// SeedFromConfig publishes the configured rules when no version exists.
	SeedFromConfig(ctx context.Context) error
}

type Repository interface {
	// EffectiveAt returns every row of the newest version whose
	// effective_from is not after ts.
	EffectiveAt(ctx context.Context, db *gorm.DB, ts time.Time) ([]CommissionRule, error)
	MaxVersion(ctx context.Context, db *gorm.DB) (int64, error)
	InsertAll(ctx context.Context, db *gorm.DB, rows []CommissionRule) error
	ListAll(ctx context.Context, db *gorm.DB) ([]CommissionRule, error)
}

var (
	ErrInvalidLevel         = errors.New("invalid_rule_level")
	ErrInvalidRule          = errors.New("invalid_rule")
	ErrDuplicateLevel       = errors.New("duplicate_rule_level")
	ErrInvalidEffectiveFrom = errors.New("invalid_effective_from")
	ErrVersionConflict      = errors.New("rule_version_conflict")
)
