package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/rcarraroia/slim-quality-sub008/internal/ledger/domain"
)

// ProcessedOrder marks an order as handled. Its insert is the first write of
// the order's unit of work.
type ProcessedOrder struct {
	OrderRef    string        `gorm:"type:text;primaryKey" json:"order_ref"`
	AffiliateID *snowflake.ID `gorm:"index" json:"affiliate_id,omitempty"`
	OrderValue  int64         `gorm:"not null" json:"order_value"`
	CompletedAt time.Time     `gorm:"not null" json:"completed_at"`
	CreatedAt   time.Time     `gorm:"not null" json:"created_at"`
}

func (ProcessedOrder) TableName() string { return "processed_orders" }

// OrderCompleted is the conversion event consumed by the engine.
type OrderCompleted struct {
	OrderRef    string    `json:"order_ref"`
	OrderValue  int64     `json:"order_value"`
	VisitorID   string    `json:"visitor_id"`
	CompletedAt time.Time `json:"completed_at"`
}

type Result struct {
	OrderRef    string                    `json:"order_ref"`
	AffiliateID *snowflake.ID             `json:"affiliate_id,omitempty"`
	Replayed    bool                      `json:"replayed"`
	Commissions []ledgerdomain.Commission `json:"commissions"`
}
