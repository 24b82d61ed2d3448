package domain

import (
	"context"
	"errors"

	commissiondomain "github.com/rcarraroia/slim-quality-sub008/internal/commission/domain"
	"gorm.io/gorm"
)

type Service interface {
	// Ingest forwards an event to the commission engine unless the same
	// event id was accepted within the retention window.
	Ingest(ctx context.Context, event Event) (Outcome, *commissiondomain.Result, error)
}

// EventWindow remembers recently accepted event ids.
type EventWindow interface {
	// Claim reports false when the id is already held.
	Claim(ctx context.Context, eventID string) (bool, error)
	// Forget drops a claim so a retried delivery is processed again.
	Forget(ctx context.Context, eventID string) error
	Close() error
}

type Repository interface {
	Record(ctx context.Context, db *gorm.DB, event *IntakeEvent) error
}

var (
	ErrInvalidEventID = errors.New("invalid_event_id")
	ErrInvalidPayload = errors.New("invalid_payload")
	ErrWindowClosed   = errors.New("event_window_closed")
)
