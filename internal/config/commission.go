package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	RuleTypePercentage = "percentage"
	RuleTypeFixed      = "fixed"
)

// CommissionConfig is the hot-reloadable part of the commission setup.
type CommissionConfig struct {
	MaxDepth       int           `mapstructure:"maxDepth"`
	AttributionTTL time.Duration `mapstructure:"attributionTTL"`
	Rules          []RuleSeed    `mapstructure:"rules"`
}

// RuleSeed describes one level of the rule set published on first boot.
type RuleSeed struct {
	Level       int    `mapstructure:"level"`
	Type        string `mapstructure:"type"`
	BasisPoints int64  `mapstructure:"basisPoints"`
	FixedAmount int64  `mapstructure:"fixedAmount"`
}

func DefaultCommissionConfig() CommissionConfig {
	return CommissionConfig{
		MaxDepth:       3,
		AttributionTTL: 30 * 24 * time.Hour,
		Rules: []RuleSeed{
			{Level: 1, Type: RuleTypePercentage, BasisPoints: 1000},
			{Level: 2, Type: RuleTypePercentage, BasisPoints: 500},
			{Level: 3, Type: RuleTypePercentage, BasisPoints: 200},
		},
	}
}

type CommissionConfigHolder struct {
	current atomic.Value // holds CommissionConfig
}

// StaticCommissionConfig returns a holder that never reloads.
func StaticCommissionConfig(cfg CommissionConfig) *CommissionConfigHolder {
	holder := &CommissionConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewCommissionConfigHolder(log *zap.Logger) (*CommissionConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("commission")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/affiliate")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("AFFILIATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return loadCommissionConfig(v, log)
}

func loadCommissionConfig(v *viper.Viper, log *zap.Logger) (*CommissionConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("commission.config")

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		watch = false
	}

	cfg, err := decodeCommissionConfig(v, watch)
	if err != nil {
		return nil, err
	}

	holder := StaticCommissionConfig(cfg)
	if !watch {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeCommissionConfig(v, true)
		if err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// decodeCommissionConfig overlays the "commission" section on the defaults.
// A config file that omits rules seeds no rules.
func decodeCommissionConfig(v *viper.Viper, fromFile bool) (CommissionConfig, error) {
	cfg := DefaultCommissionConfig()
	if fromFile {
		cfg.Rules = nil
	}
	if err := v.UnmarshalKey("commission", &cfg); err != nil {
		return CommissionConfig{}, err
	}
	if err := ValidateCommissionConfig(cfg); err != nil {
		return CommissionConfig{}, err
	}
	return cfg, nil
}

func (h *CommissionConfigHolder) Get() CommissionConfig {
	return h.current.Load().(CommissionConfig)
}

func ValidateCommissionConfig(cfg CommissionConfig) error {
	if cfg.MaxDepth <= 0 {
		return errors.New("commission.maxDepth must be positive")
	}
	if cfg.AttributionTTL <= 0 {
		return errors.New("commission.attributionTTL must be positive")
	}
	seen := make(map[int]struct{}, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		if rule.Level < 1 || rule.Level > cfg.MaxDepth {
			return fmt.Errorf("commission.rules: level %d outside 1..%d", rule.Level, cfg.MaxDepth)
		}
		if _, ok := seen[rule.Level]; ok {
			return fmt.Errorf("commission.rules: duplicate level %d", rule.Level)
		}
		seen[rule.Level] = struct{}{}
		switch rule.Type {
		case RuleTypePercentage:
			if rule.BasisPoints < 0 || rule.BasisPoints > 10000 {
				return fmt.Errorf("commission.rules: level %d basisPoints out of range", rule.Level)
			}
		case RuleTypeFixed:
			if rule.FixedAmount < 0 {
				return fmt.Errorf("commission.rules: level %d fixedAmount negative", rule.Level)
			}
		default:
			return fmt.Errorf("commission.rules: level %d unknown type %q", rule.Level, rule.Type)
		}
	}
	return nil
}
