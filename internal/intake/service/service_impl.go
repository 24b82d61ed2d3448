package service

import (
	"context"
	"strings"

	"github.com/rcarraroia/slim-quality-sub008/internal/clock"
	commissiondomain "github.com/rcarraroia/slim-quality-sub008/internal/commission/domain"
	intakedomain "github.com/rcarraroia/slim-quality-sub008/internal/intake/domain"
	obsmetrics "github.com/rcarraroia/slim-quality-sub008/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       intakedomain.Repository
	Window     intakedomain.EventWindow
	Engine     commissiondomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       intakedomain.Repository
	window     intakedomain.EventWindow
	engine     commissiondomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) intakedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("intake.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		window:     p.Window,
		engine:     p.Engine,
		obsMetrics: p.ObsMetrics,
	}
}

// doneMarker is implemented by windows that keep per-claim state locally.
type doneMarker interface {
	Done(eventID string)
}

func (s *Service) Ingest(ctx context.Context, event intakedomain.Event) (intakedomain.Outcome, *commissiondomain.Result, error) {
	event.EventID = strings.TrimSpace(event.EventID)
	if event.EventID == "" {
		return "", nil, intakedomain.ErrInvalidEventID
	}
	source := event.Source
	if source == "" {
		source = intakedomain.SourceHTTP
	}
	log := s.log.With(
		zap.String("event_id", event.EventID),
		zap.String("order_ref", event.OrderRef),
		zap.String("source", source),
	)

	claimed, err := s.window.Claim(ctx, event.EventID)
	if err != nil {
		s.obsMetrics.RecordIntakeEvent(ctx, source, "error")
		return "", nil, err
	}
	if !claimed {
		log.Debug("duplicate event dropped")
		s.obsMetrics.RecordIntakeEvent(ctx, source, string(intakedomain.OutcomeDuplicate))
		return intakedomain.OutcomeDuplicate, nil, nil
	}

	result, err := s.engine.ProcessOrderCompleted(ctx, commissiondomain.OrderCompleted{
		OrderRef:    event.OrderRef,
		OrderValue:  event.OrderValue,
		VisitorID:   event.VisitorID,
		CompletedAt: event.CompletedAt,
	})
	if err != nil {
		// Release the claim so the upstream retry is processed.
		if forgetErr := s.window.Forget(context.WithoutCancel(ctx), event.EventID); forgetErr != nil {
			log.Warn("failed to release event claim", zap.Error(forgetErr))
		}
		s.obsMetrics.RecordIntakeEvent(ctx, source, "error")
		return "", nil, err
	}
	if m, ok := s.window.(doneMarker); ok {
		m.Done(event.EventID)
	}

	record := &intakedomain.IntakeEvent{
		EventID:    event.EventID,
		OrderRef:   result.OrderRef,
		Source:     source,
		Payload:    datatypes.JSON(event.Payload),
		Outcome:    intakedomain.OutcomeAccepted,
		Replayed:   result.Replayed,
		ReceivedAt: s.clock.Now(),
	}
	if len(record.Payload) == 0 {
		record.Payload = datatypes.JSON("{}")
	}
	if err := s.repo.Record(ctx, s.db, record); err != nil {
		// The engine already committed; the audit row is best effort.
		log.Warn("failed to record intake event", zap.Error(err))
	}

	s.obsMetrics.RecordIntakeEvent(ctx, source, string(intakedomain.OutcomeAccepted))
	log.Info("event accepted",
		zap.Bool("replayed", result.Replayed),
		zap.Int("commissions", len(result.Commissions)),
	)
	return intakedomain.OutcomeAccepted, result, nil
}
