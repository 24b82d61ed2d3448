package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusRequested Status = "requested"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusPaid      Status = "paid"
)

func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusApproved, StatusRejected, StatusPaid:
		return true
	default:
		return false
	}
}

func (s Status) Open() bool {
	return s == StatusRequested || s == StatusApproved
}

func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusRequested:
		return next == StatusApproved || next == StatusRejected
	case StatusApproved:
		return next == StatusPaid || next == StatusRejected
	default:
		return false
	}
}

// OpenStatuses are the states counted by the one-open-request rule.
var OpenStatuses = []Status{StatusRequested, StatusApproved}

type WithdrawalRequest struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	AffiliateID    snowflake.ID  `gorm:"not null;index" json:"affiliate_id"`
	Amount         int64         `gorm:"not null" json:"amount"`
	Status         Status        `gorm:"type:text;not null;index" json:"status"`
	ReservationID  *snowflake.ID `json:"reservation_id,omitempty"`
	Note           string        `gorm:"type:text" json:"note,omitempty"`
	DecidedBy      string        `gorm:"type:text" json:"decided_by,omitempty"`
	DecisionReason string        `gorm:"type:text" json:"decision_reason,omitempty"`
	CreatedAt      time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"not null" json:"updated_at"`
	DecidedAt      *time.Time    `json:"decided_at,omitempty"`
	PaidAt         *time.Time    `json:"paid_at,omitempty"`
}

func (WithdrawalRequest) TableName() string { return "withdrawal_requests" }
