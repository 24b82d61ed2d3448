package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeOperator ActorType = "operator"
	ActorTypeSystem   ActorType = "system"
)

const (
	ActionAffiliateCreated       = "affiliate.created"
	ActionAffiliateAttached      = "affiliate.attached"
	ActionAffiliateStatusChanged = "affiliate.status_changed"
	ActionRulesPublished         = "commission_rules.published"
	ActionRulesSeeded            = "commission_rules.seeded"
	ActionCommissionFailed       = "commission.failed"
	ActionWithdrawalRequested    = "withdrawal.requested"
	ActionWithdrawalApproved     = "withdrawal.approved"
	ActionWithdrawalRejected     = "withdrawal.rejected"
	ActionWithdrawalPaid         = "withdrawal.paid"
)

const (
	TargetAffiliate   = "affiliate"
	TargetRuleVersion = "commission_rule_version"
	TargetCommission  = "commission"
	TargetWithdrawal  = "withdrawal"
)

// AuditLog records who changed what. Rows are append-only.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	ActorType  ActorType         `gorm:"type:text;not null" json:"actor_type"`
	ActorID    *string           `gorm:"type:text" json:"actor_id,omitempty"`
	Action     string            `gorm:"type:text;not null;index:ix_audit_logs_action" json:"action"`
	TargetType string            `gorm:"type:text;not null;index:ix_audit_logs_target,priority:1" json:"target_type"`
	TargetID   *string           `gorm:"type:text;index:ix_audit_logs_target,priority:2" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;index:ix_audit_logs_created_at" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }
