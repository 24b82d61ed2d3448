package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/rcarraroia/slim-quality-sub008/internal/audit/domain"
	"github.com/rcarraroia/slim-quality-sub008/internal/clock"
	ruledomain "github.com/rcarraroia/slim-quality-sub008/internal/commissionrule/domain"
	"github.com/rcarraroia/slim-quality-sub008/internal/config"
	"github.com/rcarraroia/slim-quality-sub008/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const publishAttempts = 3

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     ruledomain.Repository
	Config   *config.CommissionConfigHolder
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     ruledomain.Repository
	config   *config.CommissionConfigHolder
	auditSvc auditdomain.Service
}

func NewService(p ServiceParam) ruledomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("commissionrule.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		config:   p.Config,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) RulesEffectiveAt(ctx context.Context, ts time.Time) (ruledomain.RuleSet, error) {
	return s.RulesEffectiveAtTx(ctx, s.db, ts)
}

func (s *Service) RulesEffectiveAtTx(ctx context.Context, tx *gorm.DB, ts time.Time) (ruledomain.RuleSet, error) {
	rows, err := s.repo.EffectiveAt(ctx, tx, ts.UTC())
	if err != nil {
		return ruledomain.RuleSet{}, err
	}
	return ruledomain.NewRuleSet(rows), nil
}

func (s *Service) Publish(ctx context.Context, req ruledomain.PublishRequest) (*ruledomain.RuleSet, error) {
	now := s.clock.Now()
	effectiveFrom := now
	if req.EffectiveFrom != nil {
		effectiveFrom = req.EffectiveFrom.UTC()
		if effectiveFrom.Before(now) {
			return nil, ruledomain.ErrInvalidEffectiveFrom
		}
	}
	return s.publish(ctx, req.Rules, effectiveFrom, now, auditdomain.ActionRulesPublished)
}

func (s *Service) publish(ctx context.Context, inputs []ruledomain.RuleInput, effectiveFrom, now time.Time, action string) (*ruledomain.RuleSet, error) {
	rules, err := s.validate(inputs)
	if err != nil {
		return nil, err
	}

	var rows []ruledomain.CommissionRule
	for attempt := 0; attempt < publishAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.repo.MaxVersion(ctx, tx)
			if err != nil {
				return err
			}
			version := current + 1

			rows = make([]ruledomain.CommissionRule, 0, len(rules))
			for _, rule := range rules {
				rows = append(rows, ruledomain.CommissionRule{
					ID:            s.genID.Generate(),
					Version:       version,
					Level:         rule.Level,
					RuleType:      rule.Type,
					BasisPoints:   rule.BasisPoints,
					FixedAmount:   rule.FixedAmount,
					EffectiveFrom: effectiveFrom,
					CreatedAt:     now,
				})
			}
			if err := s.repo.InsertAll(ctx, tx, rows); err != nil {
				return err
			}
			return s.audit(ctx, tx, action, version, effectiveFrom, len(rows))
		})
		if err == nil {
			break
		}
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
	}
	if err != nil {
		return nil, ruledomain.ErrVersionConflict
	}

	set := ruledomain.NewRuleSet(rows)
	s.log.Info("commission rules published",
		zap.Int64("version", set.Version),
		zap.Time("effective_from", set.EffectiveFrom),
		zap.Int("levels", len(set.Rules)),
	)
	return &set, nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, action string, version int64, effectiveFrom time.Time, levels int) error {
	if s.auditSvc == nil {
		return nil
	}
	target := strconv.FormatInt(version, 10)
	return s.auditSvc.AuditLogTx(ctx, tx, nil, action, auditdomain.TargetRuleVersion, &target, map[string]any{
		"effective_from": effectiveFrom.Format(time.RFC3339),
		"levels":         levels,
	})
}

func (s *Service) validate(inputs []ruledomain.RuleInput) ([]ruledomain.Rule, error) {
	if len(inputs) == 0 {
		return nil, ruledomain.ErrInvalidRule
	}
	maxDepth := s.config.Get().MaxDepth

	seen := make(map[int]struct{}, len(inputs))
	rules := make([]ruledomain.Rule, 0, len(inputs))
	for _, in := range inputs {
		if in.Level < 1 || in.Level > maxDepth {
			return nil, ruledomain.ErrInvalidLevel
		}
		if _, dup := seen[in.Level]; dup {
			return nil, ruledomain.ErrDuplicateLevel
		}
		seen[in.Level] = struct{}{}

		rule := ruledomain.Rule{Level: in.Level}
		switch ruledomain.RuleType(strings.ToLower(strings.TrimSpace(string(in.Type)))) {
		case ruledomain.RuleTypePercentage:
			if in.BasisPoints <= 0 || in.BasisPoints > ruledomain.BasisPointsScale {
				return nil, ruledomain.ErrInvalidRule
			}
			rule.Type = ruledomain.RuleTypePercentage
			rule.BasisPoints = in.BasisPoints
		case ruledomain.RuleTypeFixed:
			if in.FixedAmount <= 0 {
				return nil, ruledomain.ErrInvalidRule
			}
			rule.Type = ruledomain.RuleTypeFixed
			rule.FixedAmount = in.FixedAmount
		default:
			return nil, ruledomain.ErrInvalidRule
		}
		rules = append(rules, rule)
	}

	sort.Slice(rules, func(i, j int) bool { return rules[i].Level < rules[j].Level })
	return rules, nil
}

func (s *Service) ListVersions(ctx context.Context) ([]ruledomain.RuleSet, error) {
	rows, err := s.repo.ListAll(ctx, s.db)
	if err != nil {
		return nil, err
	}

	var (
		sets    []ruledomain.RuleSet
		current []ruledomain.CommissionRule
	)
	for _, row := range rows {
		if len(current) > 0 && current[0].Version != row.Version {
			sets = append(sets, ruledomain.NewRuleSet(current))
			current = nil
		}
		current = append(current, row)
	}
	if len(current) > 0 {
		sets = append(sets, ruledomain.NewRuleSet(current))
	}
	return sets, nil
}

// seedEffectiveFrom backdates the bootstrap version so replays of old orders
// still find rules.
var seedEffectiveFrom = time.Unix(0, 0).UTC()

func (s *Service) SeedFromConfig(ctx context.Context) error {
	version, err := s.repo.MaxVersion(ctx, s.db)
	if err != nil {
		return err
	}
	if version > 0 {
		return nil
	}

	seeds := s.config.Get().Rules
	if len(seeds) == 0 {
		s.log.Warn("no commission rules configured; commissions will be zero until rules are published")
		return nil
	}

	inputs := make([]ruledomain.RuleInput, 0, len(seeds))
	for _, seed := range seeds {
		inputs = append(inputs, ruledomain.RuleInput{
			Level:       seed.Level,
			Type:        ruledomain.RuleType(seed.Type),
			BasisPoints: seed.BasisPoints,
			FixedAmount: seed.FixedAmount,
		})
	}
	if _, err := s.publish(ctx, inputs, seedEffectiveFrom, s.clock.Now(), auditdomain.ActionRulesSeeded); err != nil {
		return fmt.Errorf("seed commission rules: %w", err)
	}
	return nil
}
