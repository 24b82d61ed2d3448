package domain

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeDuplicate Outcome = "duplicate"
)

const (
	SourceHTTP  = "http"
	SourceKafka = "kafka"
)

// Event is an authenticated order-completed delivery.
type Event struct {
	EventID     string          `json:"event_id"`
	OrderRef    string          `json:"order_ref"`
	OrderValue  int64           `json:"order_value"`
	VisitorID   string          `json:"visitor_id"`
	CompletedAt time.Time       `json:"completed_at"`
	Source      string          `json:"-"`
	Payload     json.RawMessage `json:"-"`
}

// IntakeEvent is the audit row of an accepted delivery.
type IntakeEvent struct {
	EventID    string         `gorm:"type:text;primaryKey" json:"event_id"`
	OrderRef   string         `gorm:"type:text;not null;index" json:"order_ref"`
	Source     string         `gorm:"type:text;not null" json:"source"`
	Payload    datatypes.JSON `json:"payload"`
	Outcome    Outcome        `gorm:"type:text;not null" json:"outcome"`
	Replayed   bool           `gorm:"not null;default:false" json:"replayed"`
	ReceivedAt time.Time      `gorm:"not null" json:"received_at"`
}

func (IntakeEvent) TableName() string { return "intake_events" }
