package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type CommissionStatus string

const (
	CommissionStatusCalculated CommissionStatus = "calculated"
	CommissionStatusPending    CommissionStatus = "pending"
	CommissionStatusPaid       CommissionStatus = "paid"
	CommissionStatusFailed     CommissionStatus = "failed"
)

func (s CommissionStatus) Valid() bool {
	switch s {
	case CommissionStatusCalculated, CommissionStatusPending, CommissionStatusPaid, CommissionStatusFailed:
		return true
	default:
		return false
	}
}

func (s CommissionStatus) Terminal() bool {
	return s == CommissionStatusPaid || s == CommissionStatusFailed
}

// Commission is the amount owed to one affiliate at one level of one order.
type Commission struct {
	ID              snowflake.ID     `gorm:"primaryKey" json:"id"`
	OrderRef        string           `gorm:"type:text;not null;uniqueIndex:ux_commissions_order_affiliate_level,priority:1" json:"order_ref"`
	AffiliateID     snowflake.ID     `gorm:"not null;uniqueIndex:ux_commissions_order_affiliate_level,priority:2;index:ix_commissions_affiliate_status,priority:1" json:"affiliate_id"`
	Level           int              `gorm:"not null;uniqueIndex:ux_commissions_order_affiliate_level,priority:3" json:"level"`
	BaseAmount      int64            `gorm:"not null" json:"base_amount"`
	Amount          int64            `gorm:"not null" json:"amount"`
	SettledAmount   int64            `gorm:"not null;default:0" json:"settled_amount"`
	Status          CommissionStatus `gorm:"type:text;not null;index:ix_commissions_affiliate_status,priority:2" json:"status"`
	RuleVersion     int64            `gorm:"not null" json:"rule_version"`
	CreatedAt       time.Time        `gorm:"not null" json:"created_at"`
	StatusChangedAt time.Time        `gorm:"not null" json:"status_changed_at"`
}

func (Commission) TableName() string { return "commissions" }

// Unsettled is the part of the amount not yet paid out.
func (c Commission) Unsettled() int64 {
	return c.Amount - c.SettledAmount
}

type ReservationStatus string

const (
	ReservationStatusOpen     ReservationStatus = "open"
	ReservationStatusReleased ReservationStatus = "released"
	ReservationStatusSettled  ReservationStatus = "settled"
)

// Reservation holds part of an affiliate's pending balance for a payout.
type Reservation struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	AffiliateID snowflake.ID      `gorm:"not null;index" json:"affiliate_id"`
	Amount      int64             `gorm:"not null" json:"amount"`
	Status      ReservationStatus `gorm:"type:text;not null;index" json:"status"`
	CreatedAt   time.Time         `gorm:"not null" json:"created_at"`
	ClosedAt    *time.Time        `json:"closed_at,omitempty"`
}

func (Reservation) TableName() string { return "ledger_reservations" }

// ReservationItem is the slice of one commission held by a reservation.
type ReservationItem struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	ReservationID snowflake.ID `gorm:"not null;index" json:"reservation_id"`
	CommissionID  snowflake.ID `gorm:"not null;index" json:"commission_id"`
	Amount        int64        `gorm:"not null" json:"amount"`
}

func (ReservationItem) TableName() string { return "ledger_reservation_items" }

// Summary totals an affiliate's commissions by state.
type Summary struct {
	AffiliateID snowflake.ID `json:"affiliate_id"`
	Calculated  int64        `json:"calculated"`
	Pending     int64        `json:"pending"`
	Reserved    int64        `json:"reserved"`
	Paid        int64        `json:"paid"`
	Failed      int64        `json:"failed"`
	Available   int64        `json:"available"`
}
