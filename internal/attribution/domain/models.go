package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ReferralAttribution binds a visitor to the affiliate credited for their
// next conversion. One row per visitor.
type ReferralAttribution struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	VisitorID     string       `gorm:"type:text;not null;uniqueIndex:ux_referral_attributions_visitor" json:"visitor_id"`
	AffiliateID   snowflake.ID `gorm:"not null;index" json:"affiliate_id"`
	AffiliateCode string       `gorm:"type:text;not null" json:"affiliate_code"`
	CapturedAt    time.Time    `gorm:"not null" json:"captured_at"`
	ExpiresAt     time.Time    `gorm:"not null" json:"expires_at"`
	OrderRef      *string      `gorm:"type:text" json:"order_ref,omitempty"`
	ConvertedAt   *time.Time   `json:"converted_at,omitempty"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"not null" json:"updated_at"`
}

func (ReferralAttribution) TableName() string { return "referral_attributions" }

func (a ReferralAttribution) Consumed() bool {
	return a.OrderRef != nil
}

// ActiveAt reports whether this touch is the one in force at t and can still
// be credited.
func (a ReferralAttribution) ActiveAt(t time.Time) bool {
	return !a.Consumed() && !t.Before(a.CapturedAt) && t.Before(a.ExpiresAt)
}

// ReferralTouch is one accepted capture. The history lets a late conversion
// find the touch that was in force when the order completed, even after a
// newer touch re-pointed the attribution.
type ReferralTouch struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	VisitorID     string       `gorm:"type:text;not null;index:ix_referral_touches_visitor_captured,priority:1" json:"visitor_id"`
	AffiliateID   snowflake.ID `gorm:"not null" json:"affiliate_id"`
	AffiliateCode string       `gorm:"type:text;not null" json:"affiliate_code"`
	CapturedAt    time.Time    `gorm:"not null;index:ix_referral_touches_visitor_captured,priority:2" json:"captured_at"`
	ExpiresAt     time.Time    `gorm:"not null" json:"expires_at"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
}

func (ReferralTouch) TableName() string { return "referral_touches" }

func (t ReferralTouch) ActiveAt(at time.Time) bool {
	return !at.Before(t.CapturedAt) && at.Before(t.ExpiresAt)
}
