package repository

import (
	"context"
	"time"

	ruledomain "github.com/rcarraroia/slim-quality-sub008/internal/commissionrule/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() ruledomain.Repository {
	return &repo{}
}

// EffectiveAt returns the rules of the version with the latest effective_from
// not after ts. Versions sharing an effective_from resolve to the newest one.
func (r *repo) EffectiveAt(ctx context.Context, db *gorm.DB, ts time.Time) ([]ruledomain.CommissionRule, error) {
	var head []ruledomain.CommissionRule
	if err := db.WithContext(ctx).
		Where("effective_from <= ?", ts).
		Order("effective_from DESC").
		Order("version DESC").
		Limit(1).
		Find(&head).Error; err != nil {
		return nil, err
	}
	if len(head) == 0 {
		return nil, nil
	}

	var rows []ruledomain.CommissionRule
	if err := db.WithContext(ctx).
		Where("version = ?", head[0].Version).
		Order("level ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) MaxVersion(ctx context.Context, db *gorm.DB) (int64, error) {
	var version int64
	err := db.WithContext(ctx).Raw(`SELECT COALESCE(MAX(version), 0) FROM commission_rules`).Scan(&version).Error
	return version, err
}

func (r *repo) InsertAll(ctx context.Context, db *gorm.DB, rows []ruledomain.CommissionRule) error {
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&rows).Error
}

func (r *repo) ListAll(ctx context.Context, db *gorm.DB) ([]ruledomain.CommissionRule, error) {
	var rows []ruledomain.CommissionRule
	if err := db.WithContext(ctx).
		Order("version DESC").
		Order("level ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
