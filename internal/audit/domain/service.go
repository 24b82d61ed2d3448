package domain

import (
	"context"
	"errors"
	"time"

	"github.com/rcarraroia/slim-quality-sub008/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListRequest struct {
	Action     string
	TargetType string
	TargetID   string
	ActorID    string
	StartAt    *time.Time
	EndAt      *time.Time
	PageToken  string
	PageSize   int
}

type ListResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Service interface {
	// AuditLogTx writes the entry inside tx so it commits with the change it
	// describes. A nil actorID falls back to the actor on ctx, then to the
	// system actor.
	AuditLogTx(ctx context.Context, tx *gorm.DB, actorID *string, action, targetType string, targetID *string, metadata map[string]any) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, req ListRequest, cursor *pagination.Cursor, limit int) ([]AuditLog, error)
}

var (
	ErrInvalidAction    = errors.New("invalid_action")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
)
