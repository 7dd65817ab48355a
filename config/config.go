/*
Package config loads service configuration from environment variables.

PURPOSE:
  Every operational knob - port, database path, penalty policy, waterfall
  precedence, affordability thresholds, scan schedule - comes from the
  environment with sensible defaults. Policy numbers are configured, never
  hardcoded in the engine.

USAGE:
  cfg, err := config.Load()
  if err != nil {
      log.Fatal(err)
  }
  policy, err := cfg.PenaltyPolicy()
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/pesa/lending-engine/engine"
)

// Config holds all configuration for the lending service.
type Config struct {
	Port   int    `mapstructure:"PORT"`
	DBPath string `mapstructure:"DB_PATH"`

	// Empty RedisAddr falls back to the in-process cache.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	CacheTTLHours int    `mapstructure:"CACHE_TTL_HOURS"`

	// Penalty policy
	GraceDays               int    `mapstructure:"GRACE_DAYS"`
	LateFeePercent          string `mapstructure:"LATE_FEE_PERCENT"`
	LateFeeFlat             string `mapstructure:"LATE_FEE_FLAT"`
	DefaultAfterConsecutive int    `mapstructure:"DEFAULT_AFTER_CONSECUTIVE"`
	DefaultFeePercent       string `mapstructure:"DEFAULT_FEE_PERCENT"`
	EarlyRepaymentPercent   string `mapstructure:"EARLY_REPAYMENT_PERCENT"`

	// Waterfall precedence, comma-separated buckets.
	AllocationPrecedence string `mapstructure:"ALLOCATION_PRECEDENCE"`

	// Affordability thresholds, percentages.
	ReviewRatio string `mapstructure:"AFFORDABILITY_REVIEW_RATIO"`
	RejectRatio string `mapstructure:"AFFORDABILITY_REJECT_RATIO"`

	// Cron expression for the overdue penalty scan.
	PenaltyScanSchedule string `mapstructure:"PENALTY_SCAN_SCHEDULE"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	viper.SetDefault("PORT", 8080)
	viper.SetDefault("DB_PATH", "./data/lending.db")
	viper.SetDefault("CACHE_TTL_HOURS", 24)
	viper.SetDefault("GRACE_DAYS", 3)
	viper.SetDefault("LATE_FEE_PERCENT", "0.05")
	viper.SetDefault("LATE_FEE_FLAT", "0")
	viper.SetDefault("DEFAULT_AFTER_CONSECUTIVE", 3)
	viper.SetDefault("DEFAULT_FEE_PERCENT", "0.10")
	viper.SetDefault("EARLY_REPAYMENT_PERCENT", "0")
	viper.SetDefault("ALLOCATION_PRECEDENCE", "PENALTY,INTEREST,PRINCIPAL")
	viper.SetDefault("AFFORDABILITY_REVIEW_RATIO", "20")
	viper.SetDefault("AFFORDABILITY_REJECT_RATIO", "40")
	viper.SetDefault("PENALTY_SCAN_SCHEDULE", "0 1 * * *") // 01:00 daily
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DB_PATH")
	_ = viper.BindEnv("REDIS_ADDR")
	_ = viper.BindEnv("CACHE_TTL_HOURS")
	_ = viper.BindEnv("GRACE_DAYS")
	_ = viper.BindEnv("LATE_FEE_PERCENT")
	_ = viper.BindEnv("LATE_FEE_FLAT")
	_ = viper.BindEnv("DEFAULT_AFTER_CONSECUTIVE")
	_ = viper.BindEnv("DEFAULT_FEE_PERCENT")
	_ = viper.BindEnv("EARLY_REPAYMENT_PERCENT")
	_ = viper.BindEnv("ALLOCATION_PRECEDENCE")
	_ = viper.BindEnv("AFFORDABILITY_REVIEW_RATIO")
	_ = viper.BindEnv("AFFORDABILITY_REJECT_RATIO")
	_ = viper.BindEnv("PENALTY_SCAN_SCHEDULE")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// CacheTTL returns the schedule cache expiry.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// PenaltyPolicy parses the penalty knobs into an engine policy.
func (c *Config) PenaltyPolicy() (engine.PenaltyPolicy, error) {
	latePct, err := decimal.NewFromString(c.LateFeePercent)
	if err != nil {
		return engine.PenaltyPolicy{}, fmt.Errorf("invalid LATE_FEE_PERCENT %q: %w", c.LateFeePercent, err)
	}
	lateFlat, err := engine.ParseMoney(c.LateFeeFlat)
	if err != nil {
		return engine.PenaltyPolicy{}, fmt.Errorf("invalid LATE_FEE_FLAT %q: %w", c.LateFeeFlat, err)
	}
	defaultPct, err := decimal.NewFromString(c.DefaultFeePercent)
	if err != nil {
		return engine.PenaltyPolicy{}, fmt.Errorf("invalid DEFAULT_FEE_PERCENT %q: %w", c.DefaultFeePercent, err)
	}
	earlyPct, err := decimal.NewFromString(c.EarlyRepaymentPercent)
	if err != nil {
		return engine.PenaltyPolicy{}, fmt.Errorf("invalid EARLY_REPAYMENT_PERCENT %q: %w", c.EarlyRepaymentPercent, err)
	}

	return engine.PenaltyPolicy{
		GraceDays:               c.GraceDays,
		LateFeePercent:          latePct,
		LateFeeFlat:             lateFlat,
		DefaultAfterConsecutive: c.DefaultAfterConsecutive,
		DefaultFeePercent:       defaultPct,
		EarlyRepaymentPercent:   earlyPct,
	}, nil
}

// AllocationPolicy parses the waterfall precedence. Every configured bucket
// must be known and each of the three must appear exactly once.
func (c *Config) AllocationPolicy() (engine.AllocationPolicy, error) {
	parts := strings.Split(c.AllocationPrecedence, ",")
	seen := make(map[engine.Bucket]bool)
	var precedence []engine.Bucket
	for _, part := range parts {
		b := engine.Bucket(strings.ToUpper(strings.TrimSpace(part)))
		switch b {
		case engine.BucketPenalty, engine.BucketInterest, engine.BucketPrincipal:
		default:
			return engine.AllocationPolicy{}, fmt.Errorf("invalid ALLOCATION_PRECEDENCE bucket %q", part)
		}
		if seen[b] {
			return engine.AllocationPolicy{}, fmt.Errorf("duplicate ALLOCATION_PRECEDENCE bucket %q", part)
		}
		seen[b] = true
		precedence = append(precedence, b)
	}
	if len(precedence) != 3 {
		return engine.AllocationPolicy{}, fmt.Errorf("ALLOCATION_PRECEDENCE must list all three buckets, got %q", c.AllocationPrecedence)
	}
	return engine.AllocationPolicy{Precedence: precedence}, nil
}

// AffordabilityPolicy parses the ratio thresholds.
func (c *Config) AffordabilityPolicy() (engine.AffordabilityPolicy, error) {
	review, err := decimal.NewFromString(c.ReviewRatio)
	if err != nil {
		return engine.AffordabilityPolicy{}, fmt.Errorf("invalid AFFORDABILITY_REVIEW_RATIO %q: %w", c.ReviewRatio, err)
	}
	reject, err := decimal.NewFromString(c.RejectRatio)
	if err != nil {
		return engine.AffordabilityPolicy{}, fmt.Errorf("invalid AFFORDABILITY_REJECT_RATIO %q: %w", c.RejectRatio, err)
	}
	if reject.LessThan(review) {
		return engine.AffordabilityPolicy{}, fmt.Errorf("AFFORDABILITY_REJECT_RATIO must be >= AFFORDABILITY_REVIEW_RATIO")
	}
	return engine.AffordabilityPolicy{ReviewRatio: review, RejectRatio: reject}, nil
}
