package repository

import (
	"context"
	"strings"

	auditdomain "github.com/rcarraroia/slim-quality-sub008/internal/audit/domain"
	"github.com/rcarraroia/slim-quality-sub008/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() auditdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *auditdomain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, req auditdomain.ListRequest, cursor *pagination.Cursor, limit int) ([]auditdomain.AuditLog, error) {
	stmt := db.WithContext(ctx).Model(&auditdomain.AuditLog{})

	if action := strings.TrimSpace(req.Action); action != "" {
		stmt = stmt.Where("action = ?", action)
	}
	if targetType := strings.TrimSpace(req.TargetType); targetType != "" {
		stmt = stmt.Where("target_type = ?", targetType)
	}
	if targetID := strings.TrimSpace(req.TargetID); targetID != "" {
		stmt = stmt.Where("target_id = ?", targetID)
	}
	if actorID := strings.TrimSpace(req.ActorID); actorID != "" {
		stmt = stmt.Where("actor_id = ?", actorID)
	}
	if req.StartAt != nil {
		stmt = stmt.Where("created_at >= ?", req.StartAt.UTC())
	}
	if req.EndAt != nil {
		stmt = stmt.Where("created_at <= ?", req.EndAt.UTC())
	}
	if cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt,
			cursor.CreatedAt,
			cursor.ID,
		)
	}

	var rows []auditdomain.AuditLog
	if err := stmt.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
