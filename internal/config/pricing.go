package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Unlimited marks a plan entitlement without an upper bound.
const Unlimited int64 = -1

// PricingConfig is the read-only price table consumed by usage recording and billing.
// All amounts are integer cents.
type PricingConfig struct {
	DefaultPlan string `mapstructure:"defaultPlan"`

	UnitPrices   map[string]int64 `mapstructure:"unitPrices"`
	OverageRates map[string]int64 `mapstructure:"overageRates"`
	Plans        []PlanConfig     `mapstructure:"plans"`

	AdditionalPhoneNumberPrice int64   `mapstructure:"additionalPhoneNumberPrice"`
	TollFreeNumberPrice        int64   `mapstructure:"tollFreeNumberPrice"`
	StorageOveragePrice        int64   `mapstructure:"storageOveragePrice"`
	TaxRate                    float64 `mapstructure:"taxRate"`
}

type PlanConfig struct {
	Key                          string `mapstructure:"key"`
	Name                         string `mapstructure:"name"`
	MonthlyFee                   int64  `mapstructure:"monthlyFee"`
	IncludedMinutes              int64  `mapstructure:"includedMinutes"`
	IncludedSMS                  int64  `mapstructure:"includedSms"`
	IncludedPhoneNumbers         int64  `mapstructure:"includedPhoneNumbers"`
	IncludedAIMinutes            int64  `mapstructure:"includedAiMinutes"`
	IncludedInternationalMinutes int64  `mapstructure:"includedInternationalMinutes"`
	// IncludedRecordingMinutes is the call_recording allowance; storage
	// overage bills only the minutes above it.
	IncludedRecordingMinutes int64 `mapstructure:"includedRecordingMinutes"`
}

// PricingSource exposes the currently active pricing configuration.
type PricingSource interface {
	Get() PricingConfig
}

// StaticPricing is a fixed PricingSource.
type StaticPricing PricingConfig

func (p StaticPricing) Get() PricingConfig { return PricingConfig(p) }

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		DefaultPlan: "starter",
		UnitPrices: map[string]int64{
			"call_minutes":          1,
			"ai_minutes":            5,
			"sms_outbound":          1,
			"sms_inbound":           1,
			"international_minutes": 8,
			"call_recording":        1,
		},
		OverageRates: map[string]int64{
			"call_minutes":          3,
			"sms_outbound":          2,
			"sms_inbound":           2,
			"ai_minutes":            10,
			"international_minutes": 15,
		},
		Plans: []PlanConfig{
			{Key: "starter", Name: "Starter", MonthlyFee: 2900, IncludedMinutes: 1000, IncludedSMS: 500, IncludedPhoneNumbers: 1, IncludedAIMinutes: 100, IncludedRecordingMinutes: 500},
			{Key: "professional", Name: "Professional", MonthlyFee: 7900, IncludedMinutes: 5000, IncludedSMS: 2000, IncludedPhoneNumbers: 5, IncludedAIMinutes: 500, IncludedRecordingMinutes: 2500},
			{Key: "enterprise", Name: "Enterprise", MonthlyFee: 29900, IncludedMinutes: 25000, IncludedSMS: 10000, IncludedPhoneNumbers: Unlimited, IncludedAIMinutes: 2500, IncludedInternationalMinutes: 500, IncludedRecordingMinutes: Unlimited},
		},
		AdditionalPhoneNumberPrice: 300,
		TollFreeNumberPrice:        500,
		StorageOveragePrice:        1,
		TaxRate:                    0.08,
	}
}

// Plan returns the plan with the given key.
func (p PricingConfig) Plan(key string) (PlanConfig, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, plan := range p.Plans {
		if strings.ToLower(plan.Key) == key {
			return plan, true
		}
	}
	return PlanConfig{}, false
}

// PlanOrDefault returns the requested plan, falling back to the default plan.
func (p PricingConfig) PlanOrDefault(key string) PlanConfig {
	if plan, ok := p.Plan(key); ok {
		return plan
	}
	if plan, ok := p.Plan(p.DefaultPlan); ok {
		return plan
	}
	if len(p.Plans) > 0 {
		return p.Plans[0]
	}
	return PlanConfig{Key: p.DefaultPlan, Name: p.DefaultPlan}
}

func (p PricingConfig) UnitPrice(usageType string) int64 {
	return p.UnitPrices[strings.ToLower(usageType)]
}

func (p PricingConfig) OverageRate(usageType string) int64 {
	return p.OverageRates[strings.ToLower(usageType)]
}

type PricingHolder struct {
	current atomic.Value // holds PricingConfig
}

func NewStaticPricingHolder(cfg PricingConfig) *PricingHolder {
	holder := &PricingHolder{}
	holder.current.Store(cfg)
	return holder
}

// NewPricingHolder loads pricing.yml when present and keeps it hot reloaded.
func NewPricingHolder(log *zap.Logger) (*PricingHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.pricing")

	v := viper.New()
	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/voxbill")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("pricing config not found, using defaults")
		return NewStaticPricingHolder(DefaultPricingConfig()), nil
	}

	cfg, err := decodePricing(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPricingHolder(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePricing(v)
		if err != nil {
			log.Warn("invalid pricing config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("pricing config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PricingHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

func decodePricing(v *viper.Viper) (PricingConfig, error) {
	cfg := DefaultPricingConfig()
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return PricingConfig{}, err
	}
	if err := validatePricing(cfg); err != nil {
		return PricingConfig{}, err
	}
	return cfg, nil
}

func validatePricing(cfg PricingConfig) error {
	if len(cfg.Plans) == 0 {
		return errors.New("pricing.plans cannot be empty")
	}
	if _, ok := cfg.Plan(cfg.DefaultPlan); !ok {
		return fmt.Errorf("pricing.defaultPlan %q is not a configured plan", cfg.DefaultPlan)
	}
	for usageType, price := range cfg.UnitPrices {
		if price < 0 {
			return fmt.Errorf("pricing.unitPrices.%s must not be negative", usageType)
		}
	}
	for usageType, rate := range cfg.OverageRates {
		if rate < 0 {
			return fmt.Errorf("pricing.overageRates.%s must not be negative", usageType)
		}
	}
	if cfg.TaxRate < 0 {
		return errors.New("pricing.taxRate must not be negative")
	}
	return nil
}
