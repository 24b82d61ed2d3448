package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/rcarraroia/slim-quality-sub008/internal/audit/domain"
	"github.com/rcarraroia/slim-quality-sub008/internal/clock"
	obscontext "github.com/rcarraroia/slim-quality-sub008/internal/observability/context"
	"github.com/rcarraroia/slim-quality-sub008/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) AuditLogTx(ctx context.Context, tx *gorm.DB, actorID *string, action, targetType string, targetID *string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	targetType = strings.TrimSpace(targetType)
	if targetType == "" {
		targetType = "unknown"
	}
	if tx == nil {
		tx = s.db
	}

	payload := map[string]any{}
	for key, value := range metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}
	if source := obscontext.SourceFromContext(ctx); source != "" {
		payload["source"] = source
	}

	actorType, actor := resolveActor(ctx, actorID)
	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		ActorID:    actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   normalizePointer(targetID),
		CreatedAt:  s.clock.Now(),
	}
	if len(payload) > 0 {
		entry.Metadata = datatypes.JSONMap(payload)
	}

	if err := s.repo.Insert(ctx, tx, &entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidTimeRange
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return auditdomain.ListResponse{}, err
	}
	limit := pagination.NormalizeSize(req.PageSize)

	rows, err := s.repo.List(ctx, s.db, req, cursor, limit+1)
	if err != nil {
		return auditdomain.ListResponse{}, err
	}
	rows, info := pagination.Trim(rows, limit, func(l auditdomain.AuditLog) pagination.Cursor {
		return pagination.Cursor{ID: l.ID, CreatedAt: l.CreatedAt}
	})
	return auditdomain.ListResponse{PageInfo: info, AuditLogs: rows}, nil
}

func resolveActor(ctx context.Context, actorID *string) (auditdomain.ActorType, *string) {
	if actor := normalizePointer(actorID); actor != nil {
		return auditdomain.ActorTypeOperator, actor
	}
	if ctxActor := obscontext.ActorFromContext(ctx); ctxActor != "" {
		return auditdomain.ActorTypeOperator, &ctxActor
	}
	return auditdomain.ActorTypeSystem, nil
}

func normalizePointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
