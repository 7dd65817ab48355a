package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pesa/lending-engine/engine"
)

// =============================================================================
// AFFORDABILITY ASSESSMENT
// =============================================================================

func TestAssess_GoodRatioApproves(t *testing.T) {
	// GIVEN: Income 50000, expenses 20000, proposed installment 9000
	// WHEN: Assessing affordability
	// THEN: Ratio 18%, disposable 30000, score 82, GOOD / Approve

	res := engine.Assess(money("50000"), money("20000"), money("9000"),
		engine.DefaultAffordabilityPolicy())

	assert.True(t, res.InstallmentRatio.Equal(rate("18")))
	assert.True(t, res.DisposableIncome.Equal(money("30000")))
	assert.True(t, res.Score.Equal(rate("82")))
	assert.Equal(t, engine.AffordabilityGood, res.Level)
	assert.Equal(t, engine.RecommendApprove, res.Recommendation)
}

func TestAssess_PoorRatioRejects(t *testing.T) {
	// GIVEN: The same borrower with a 25000 installment
	// WHEN: Assessing affordability
	// THEN: Ratio 50% exceeds the reject threshold: POOR / Reject

	res := engine.Assess(money("50000"), money("20000"), money("25000"),
		engine.DefaultAffordabilityPolicy())

	assert.True(t, res.InstallmentRatio.Equal(rate("50")))
	assert.Equal(t, engine.AffordabilityPoor, res.Level)
	assert.Equal(t, engine.RecommendReject, res.Recommendation)
}

func TestAssess_ModerateBandReviews(t *testing.T) {
	// GIVEN: Ratios at the band edges of the default policy (20 review, 40 reject)
	// WHEN: Assessing
	// THEN: 20% and 40% are MODERATE (review threshold inclusive, reject
	//       threshold exclusive); 19.99% stays GOOD

	policy := engine.DefaultAffordabilityPolicy()

	atReview := engine.Assess(money("50000"), money("0"), money("10000"), policy)
	assert.Equal(t, engine.AffordabilityModerate, atReview.Level)
	assert.Equal(t, engine.RecommendReview, atReview.Recommendation)

	atReject := engine.Assess(money("50000"), money("0"), money("20000"), policy)
	assert.Equal(t, engine.AffordabilityModerate, atReject.Level, "40%% is the last MODERATE ratio")

	justUnder := engine.Assess(money("100000"), money("0"), money("19999"), policy)
	assert.Equal(t, engine.AffordabilityGood, justUnder.Level)
}

func TestAssess_ZeroIncomeForcesPoor(t *testing.T) {
	// GIVEN: A borrower with no income
	// WHEN: Assessing any installment
	// THEN: Ratio pins at 100%, score 0, POOR / Reject; no division by zero

	res := engine.Assess(money("0"), money("5000"), money("1000"),
		engine.DefaultAffordabilityPolicy())

	assert.True(t, res.InstallmentRatio.Equal(rate("100")))
	assert.True(t, res.Score.IsZero())
	assert.Equal(t, engine.AffordabilityPoor, res.Level)
	assert.Equal(t, engine.RecommendReject, res.Recommendation)
	assert.True(t, res.DisposableIncome.Equal(money("-5000")), "expenses still reported")
}

func TestAssess_ScoreNeverNegative(t *testing.T) {
	// Installment larger than income drives the raw score below zero.
	res := engine.Assess(money("1000"), money("0"), money("2000"),
		engine.DefaultAffordabilityPolicy())
	assert.True(t, res.Score.IsZero())
}
