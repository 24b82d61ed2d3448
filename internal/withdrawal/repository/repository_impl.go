package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	withdrawaldomain "github.com/rcarraroia/slim-quality-sub008/internal/withdrawal/domain"
	"github.com/rcarraroia/slim-quality-sub008/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() withdrawaldomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, request *withdrawaldomain.WithdrawalRequest) error {
	return db.WithContext(ctx).Create(request).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*withdrawaldomain.WithdrawalRequest, error) {
	var request withdrawaldomain.WithdrawalRequest
	err := db.WithContext(ctx).Where("id = ?", id).Take(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repo) FindOpen(ctx context.Context, db *gorm.DB, affiliateID snowflake.ID) (*withdrawaldomain.WithdrawalRequest, error) {
	var request withdrawaldomain.WithdrawalRequest
	err := db.WithContext(ctx).
		Where("affiliate_id = ? AND status IN ?", affiliateID, withdrawaldomain.OpenStatuses).
		Take(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repo) Apply(ctx context.Context, db *gorm.DB, id snowflake.ID, t withdrawaldomain.Transition) (bool, error) {
	updates := map[string]any{
		"status":     t.To,
		"updated_at": t.At,
	}
	if t.ReservationID != nil {
		updates["reservation_id"] = *t.ReservationID
	}
	if t.DecidedBy != "" {
		updates["decided_by"] = t.DecidedBy
	}
	switch t.To {
	case withdrawaldomain.StatusApproved, withdrawaldomain.StatusRejected:
		updates["decided_at"] = t.At
		if t.DecisionReason != "" {
			updates["decision_reason"] = t.DecisionReason
		}
	case withdrawaldomain.StatusPaid:
		updates["paid_at"] = t.At
	}

	result := db.WithContext(ctx).
		Model(&withdrawaldomain.WithdrawalRequest{}).
		Where("id = ? AND status = ?", id, t.From).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, req withdrawaldomain.ListRequest, cursor *pagination.Cursor, limit int) ([]withdrawaldomain.WithdrawalRequest, error) {
	stmt := db.WithContext(ctx).Model(&withdrawaldomain.WithdrawalRequest{})
	if req.AffiliateID != nil {
		stmt = stmt.Where("affiliate_id = ?", *req.AffiliateID)
	}
	if req.Status != "" {
		stmt = stmt.Where("status = ?", req.Status)
	}
	if cursor != nil {
		stmt = stmt.Where("(created_at < ? OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var items []withdrawaldomain.WithdrawalRequest
	if err := stmt.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
