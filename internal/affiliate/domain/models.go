// Package domain contains the affiliate genealogy model.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusInactive, StatusSuspended:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether an externally driven status change is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusActive || next == StatusInactive
	case StatusActive:
		return next == StatusSuspended || next == StatusInactive
	case StatusSuspended:
		return next == StatusActive || next == StatusInactive
	case StatusInactive:
		return next == StatusActive
	default:
		return false
	}
}

// Affiliate is a node of the referral tree. ParentID is nil for roots.
type Affiliate struct {
	ID        snowflake.ID  `gorm:"primaryKey" json:"id"`
	Code      string        `gorm:"type:text;not null;uniqueIndex:ux_affiliates_code" json:"code"`
	Name      string        `gorm:"type:text;not null" json:"name"`
	Status    Status        `gorm:"type:text;not null;index" json:"status"`
	ParentID  *snowflake.ID `gorm:"index" json:"parent_id,omitempty"`
	CreatedAt time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time     `gorm:"not null" json:"updated_at"`
}

func (Affiliate) TableName() string { return "affiliates" }

// GenealogyLockName names the single row locked to serialize tree mutations
// on databases without advisory locks.
const GenealogyLockName = "genealogy"

type GenealogyLock struct {
	Name string `gorm:"type:varchar(64);primaryKey" json:"name"`
}

func (GenealogyLock) TableName() string { return "affiliate_genealogy_locks" }
