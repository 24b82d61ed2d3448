package repository

import (
	"context"
	"errors"
	"time"

	attributiondomain "github.com/rcarraroia/slim-quality-sub008/internal/attribution/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() attributiondomain.Repository {
	return &repo{}
}

func (r *repo) FindByVisitor(ctx context.Context, db *gorm.DB, visitorID string) (*attributiondomain.ReferralAttribution, error) {
	var row attributiondomain.ReferralAttribution
	err := db.WithContext(ctx).Where("visitor_id = ?", visitorID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, attribution *attributiondomain.ReferralAttribution) error {
	return db.WithContext(ctx).Create(attribution).Error
}

func (r *repo) Touch(ctx context.Context, db *gorm.DB, a *attributiondomain.ReferralAttribution) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE referral_attributions
		 SET affiliate_id = ?,
		     affiliate_code = ?,
		     captured_at = ?,
		     expires_at = ?,
		     updated_at = ?
		 WHERE visitor_id = ?
		   AND order_ref IS NULL
		   AND captured_at <= ?`,
		a.AffiliateID,
		a.AffiliateCode,
		a.CapturedAt,
		a.ExpiresAt,
		a.UpdatedAt,
		a.VisitorID,
		a.CapturedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkConsumed(ctx context.Context, db *gorm.DB, visitorID, orderRef string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE referral_attributions
		 SET order_ref = ?,
		     converted_at = ?,
		     updated_at = ?
		 WHERE visitor_id = ?
		   AND order_ref IS NULL`,
		orderRef,
		at,
		at,
		visitorID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) InsertTouch(ctx context.Context, db *gorm.DB, touch *attributiondomain.ReferralTouch) error {
	return db.WithContext(ctx).Create(touch).Error
}

func (r *repo) TouchAt(ctx context.Context, db *gorm.DB, visitorID string, ts time.Time) (*attributiondomain.ReferralTouch, error) {
	var rows []attributiondomain.ReferralTouch
	if err := db.WithContext(ctx).
		Where("visitor_id = ? AND captured_at <= ?", visitorID, ts).
		Order("captured_at DESC").
		Order("id DESC").
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
