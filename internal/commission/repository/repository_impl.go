package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	commissiondomain "github.com/rcarraroia/slim-quality-sub008/internal/commission/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() commissiondomain.Repository {
	return &repo{}
}

func (r *repo) InsertProcessed(ctx context.Context, db *gorm.DB, order *commissiondomain.ProcessedOrder) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_ref"}}, DoNothing: true}).
		Create(order)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindProcessed(ctx context.Context, db *gorm.DB, orderRef string) (*commissiondomain.ProcessedOrder, error) {
	var order commissiondomain.ProcessedOrder
	err := db.WithContext(ctx).Where("order_ref = ?", orderRef).Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repo) SetAffiliate(ctx context.Context, db *gorm.DB, orderRef string, affiliateID snowflake.ID) error {
	return db.WithContext(ctx).
		Model(&commissiondomain.ProcessedOrder{}).
		Where("order_ref = ?", orderRef).
		Update("affiliate_id", affiliateID).Error
}
