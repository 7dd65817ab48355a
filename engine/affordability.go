package engine

import "github.com/shopspring/decimal"

// =============================================================================
// AFFORDABILITY ASSESSOR - Pure, stateless, origination-time only
// =============================================================================

type AffordabilityLevel string

const (
	AffordabilityGood     AffordabilityLevel = "GOOD"
	AffordabilityModerate AffordabilityLevel = "MODERATE"
	AffordabilityPoor     AffordabilityLevel = "POOR"
)

type Recommendation string

const (
	RecommendApprove Recommendation = "Approve"
	RecommendReview  Recommendation = "Review"
	RecommendReject  Recommendation = "Reject"
)

// AffordabilityPolicy holds the ratio thresholds. These are policy
// constants, not derived values.
type AffordabilityPolicy struct {
	ReviewRatio decimal.Decimal // ratio at or above this is MODERATE
	RejectRatio decimal.Decimal // ratio above this is POOR
}

func DefaultAffordabilityPolicy() AffordabilityPolicy {
	return AffordabilityPolicy{
		ReviewRatio: decimal.NewFromInt(20),
		RejectRatio: decimal.NewFromInt(40),
	}
}

type AffordabilityResult struct {
	DisposableIncome Money
	InstallmentRatio decimal.Decimal // percentage
	Score            decimal.Decimal // 0..100
	Level            AffordabilityLevel
	Recommendation   Recommendation
}

var hundred = decimal.NewFromInt(100)

// Assess computes disposable income, installment-to-income ratio, and a
// recommendation. Zero income forces a 100% ratio (and a POOR rating)
// instead of dividing by zero.
func Assess(monthlyIncome, monthlyExpenses, proposedInstallment Money, policy AffordabilityPolicy) AffordabilityResult {
	ratio := hundred
	if monthlyIncome.IsPositive() {
		ratio = proposedInstallment.Value.Div(monthlyIncome.Value).Mul(hundred)
	}

	score := hundred.Sub(ratio)
	if score.IsNegative() {
		score = decimal.Zero
	}

	level := AffordabilityGood
	rec := RecommendApprove
	switch {
	case ratio.GreaterThan(policy.RejectRatio):
		level, rec = AffordabilityPoor, RecommendReject
	case ratio.GreaterThanOrEqual(policy.ReviewRatio):
		level, rec = AffordabilityModerate, RecommendReview
	}

	return AffordabilityResult{
		DisposableIncome: monthlyIncome.Sub(monthlyExpenses),
		InstallmentRatio: ratio,
		Score:            score,
		Level:            level,
		Recommendation:   rec,
	}
}
