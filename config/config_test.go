package config_test

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesa/lending-engine/config"
	"github.com/pesa/lending-engine/engine"
)

// =============================================================================
// LOADING
// =============================================================================

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "./data/lending.db", cfg.DBPath)
	assert.Empty(t, cfg.RedisAddr, "no redis by default")
	assert.Equal(t, 3, cfg.GraceDays)
	assert.Equal(t, "0.05", cfg.LateFeePercent)
	assert.Equal(t, "PENALTY,INTEREST,PRINCIPAL", cfg.AllocationPrecedence)
	assert.Equal(t, "0 1 * * *", cfg.PenaltyScanSchedule)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("PORT", "9090")
	t.Setenv("GRACE_DAYS", "7")
	t.Setenv("LATE_FEE_PERCENT", "0.03")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("ALLOCATION_PRECEDENCE", "interest, principal, penalty")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 7, cfg.GraceDays)
	assert.Equal(t, "0.03", cfg.LateFeePercent)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "interest, principal, penalty", cfg.AllocationPrecedence)
}

// =============================================================================
// POLICY PARSING
// =============================================================================

func TestPenaltyPolicy_ParsesDecimals(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := config.Load()
	require.NoError(t, err)

	policy, err := cfg.PenaltyPolicy()
	require.NoError(t, err)
	assert.Equal(t, 3, policy.GraceDays)
	assert.True(t, policy.LateFeePercent.Equal(engine.MustRate("0.05")))
	assert.True(t, policy.LateFeeFlat.IsZero())
	assert.Equal(t, 3, policy.DefaultAfterConsecutive)
}

func TestPenaltyPolicy_RejectsGarbage(t *testing.T) {
	cfg := &config.Config{LateFeePercent: "five percent"}
	_, err := cfg.PenaltyPolicy()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LATE_FEE_PERCENT")
}

func TestAllocationPolicy_NormalizesCaseAndSpacing(t *testing.T) {
	cfg := &config.Config{AllocationPrecedence: "interest, principal, penalty"}
	policy, err := cfg.AllocationPolicy()
	require.NoError(t, err)
	assert.Equal(t, []engine.Bucket{
		engine.BucketInterest, engine.BucketPrincipal, engine.BucketPenalty,
	}, policy.Precedence)
}

func TestAllocationPolicy_Rejections(t *testing.T) {
	for _, tt := range []struct {
		name       string
		precedence string
	}{
		{"unknown bucket", "PENALTY,INTEREST,FEES"},
		{"duplicate bucket", "PENALTY,PENALTY,INTEREST"},
		{"missing bucket", "PENALTY,INTEREST"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{AllocationPrecedence: tt.precedence}
			_, err := cfg.AllocationPolicy()
			assert.Error(t, err)
		})
	}
}

func TestAffordabilityPolicy_ThresholdOrdering(t *testing.T) {
	cfg := &config.Config{ReviewRatio: "20", RejectRatio: "40"}
	policy, err := cfg.AffordabilityPolicy()
	require.NoError(t, err)
	assert.True(t, policy.ReviewRatio.Equal(engine.MustRate("20")))
	assert.True(t, policy.RejectRatio.Equal(engine.MustRate("40")))

	inverted := &config.Config{ReviewRatio: "40", RejectRatio: "20"}
	_, err = inverted.AffordabilityPolicy()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AFFORDABILITY_REJECT_RATIO")
}
