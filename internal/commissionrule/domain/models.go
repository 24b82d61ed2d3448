package domain

import (
	"math"
	"math/big"
	"time"

	"github.com/bwmarrin/snowflake"
)

type RuleType string

const (
	RuleTypePercentage RuleType = "percentage"
	RuleTypeFixed      RuleType = "fixed"
)

// BasisPointsScale is 100%.
const BasisPointsScale int64 = 10000

// CommissionRule is one level of an immutable rule version.
type CommissionRule struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	Version       int64        `gorm:"not null;uniqueIndex:ux_commission_rules_version_level,priority:1" json:"version"`
	Level         int          `gorm:"not null;uniqueIndex:ux_commission_rules_version_level,priority:2" json:"level"`
	RuleType      RuleType     `gorm:"type:text;not null" json:"rule_type"`
	BasisPoints   int64        `gorm:"not null;default:0" json:"basis_points"`
	FixedAmount   int64        `gorm:"not null;default:0" json:"fixed_amount"`
	EffectiveFrom time.Time    `gorm:"not null;index" json:"effective_from"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
}

func (CommissionRule) TableName() string { return "commission_rules" }

type Rule struct {
	Level       int      `json:"level"`
	Type        RuleType `json:"type"`
	BasisPoints int64    `json:"basis_points,omitempty"`
	FixedAmount int64    `json:"fixed_amount,omitempty"`
}

// Amount is the commission owed on orderValue minor units. Percentages round
// half away from zero.
func (r Rule) Amount(orderValue int64) int64 {
	switch r.Type {
	case RuleTypeFixed:
		return r.FixedAmount
	case RuleTypePercentage:
		return percentOf(orderValue, r.BasisPoints)
	default:
		return 0
	}
}

func percentOf(v, bps int64) int64 {
	if v == 0 || bps == 0 {
		return 0
	}
	neg := (v < 0) != (bps < 0)
	av, ab := abs64(v), abs64(bps)

	var out int64
	if ab != 0 && av <= (math.MaxInt64-BasisPointsScale/2)/ab {
		out = (av*ab + BasisPointsScale/2) / BasisPointsScale
	} else {
		n := new(big.Int).Mul(big.NewInt(av), big.NewInt(ab))
		n.Add(n, big.NewInt(BasisPointsScale/2))
		n.Quo(n, big.NewInt(BasisPointsScale))
		if !n.IsInt64() {
			out = math.MaxInt64
		} else {
			out = n.Int64()
		}
	}
	if neg {
		return -out
	}
	return out
}

func abs64(v int64) int64 {
	if v < 0 {
		if v == math.MinInt64 {
			return math.MaxInt64
		}
		return -v
	}
	return v
}

// RuleSet is the rule version in force at a point in time, keyed by level.
// An empty set (Version 0) means no version was effective.
type RuleSet struct {
	Version       int64        `json:"version"`
	EffectiveFrom time.Time    `json:"effective_from"`
	Rules         map[int]Rule `json:"rules"`
}

func (s RuleSet) Rule(level int) (Rule, bool) {
	r, ok := s.Rules[level]
	return r, ok
}

func (s RuleSet) Empty() bool {
	return len(s.Rules) == 0
}

// NewRuleSet groups the rows of a single version.
func NewRuleSet(rows []CommissionRule) RuleSet {
	set := RuleSet{Rules: make(map[int]Rule, len(rows))}
	for _, row := range rows {
		set.Version = row.Version
		set.EffectiveFrom = row.EffectiveFrom
		set.Rules[row.Level] = Rule{
			Level:       row.Level,
			Type:        row.RuleType,
			BasisPoints: row.BasisPoints,
			FixedAmount: row.FixedAmount,
		}
	}
	return set
}
