package engine_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesa/lending-engine/engine"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func money(s string) engine.Money   { return engine.MustMoney(s) }
func rate(s string) decimal.Decimal { return engine.MustRate(s) }

func sumPrincipal(splits []engine.InstallmentSplit) engine.Money {
	total := engine.ZeroMoney()
	for _, s := range splits {
		total = total.Add(s.Principal)
	}
	return total
}

func sumInterest(splits []engine.InstallmentSplit) engine.Money {
	total := engine.ZeroMoney()
	for _, s := range splits {
		total = total.Add(s.Interest)
	}
	return total
}

// =============================================================================
// FIXED STRATEGY
// =============================================================================

func TestFixed_EvenSplitWithExactPrincipal(t *testing.T) {
	// GIVEN: 1000 at 10% fixed over 4 monthly periods
	// WHEN: Computing installments
	// THEN: Interest is 100 total (25/period), principal 250/period

	splits, err := engine.FixedStrategy{}.ComputeInstallments(
		money("1000"), rate("0.10"), 4, engine.FreqMonthly)
	require.NoError(t, err)
	require.Len(t, splits, 4)

	for _, s := range splits {
		assert.True(t, s.Principal.Equal(money("250")), "principal per period")
		assert.True(t, s.Interest.Equal(money("25")), "interest per period")
	}
	assert.True(t, sumPrincipal(splits).Equal(money("1000")))
	assert.True(t, sumInterest(splits).Equal(money("100")))
}

func TestFixed_FinalPeriodAbsorbsRemainder(t *testing.T) {
	// GIVEN: 100 over 3 periods (does not divide evenly)
	// WHEN: Computing installments
	// THEN: Two periods of 33.33 and a final 33.34; sum is exactly 100

	splits, err := engine.FixedStrategy{}.ComputeInstallments(
		money("100"), rate("0.12"), 3, engine.FreqMonthly)
	require.NoError(t, err)
	require.Len(t, splits, 3)

	assert.True(t, splits[0].Principal.Equal(money("33.33")))
	assert.True(t, splits[1].Principal.Equal(money("33.33")))
	assert.True(t, splits[2].Principal.Equal(money("33.34")), "final period absorbs the remainder")
	assert.True(t, sumPrincipal(splits).Equal(money("100")), "principal conserved exactly")
}

func TestFixed_SinglePeriod(t *testing.T) {
	// GIVEN: A one-period term
	// WHEN: Computing installments
	// THEN: One installment of full principal plus full interest

	splits, err := engine.FixedStrategy{}.ComputeInstallments(
		money("5000"), rate("0.08"), 1, engine.FreqMonthly)
	require.NoError(t, err)
	require.Len(t, splits, 1)
	assert.True(t, splits[0].Principal.Equal(money("5000")))
	assert.True(t, splits[0].Interest.Equal(money("400")))
}

// =============================================================================
// FLAT_RATE STRATEGY
// =============================================================================

func TestFlatRate_InterestScalesWithTermYears(t *testing.T) {
	// GIVEN: 1200 at 10% flat over 24 monthly periods (2 years)
	// WHEN: Computing installments
	// THEN: Total interest is 1200 x 0.10 x 2 = 240, 10 per period

	splits, err := engine.FlatRateStrategy{}.ComputeInstallments(
		money("1200"), rate("0.10"), 24, engine.FreqMonthly)
	require.NoError(t, err)
	require.Len(t, splits, 24)

	assert.True(t, sumInterest(splits).Equal(money("240")))
	assert.True(t, splits[0].Interest.Equal(money("10")))
	assert.True(t, sumPrincipal(splits).Equal(money("1200")))
}

func TestFlatRate_DiffersFromFixedForMultiYearTerms(t *testing.T) {
	// GIVEN: The same terms under FIXED and FLAT_RATE, term of 2 years
	// WHEN: Computing both
	// THEN: FIXED charges principal x rate once; FLAT_RATE doubles it

	fixed, err := engine.FixedStrategy{}.ComputeInstallments(
		money("1000"), rate("0.10"), 2, engine.FreqAnnual)
	require.NoError(t, err)
	flat, err := engine.FlatRateStrategy{}.ComputeInstallments(
		money("1000"), rate("0.10"), 2, engine.FreqAnnual)
	require.NoError(t, err)

	assert.True(t, sumInterest(fixed).Equal(money("100")))
	assert.True(t, sumInterest(flat).Equal(money("200")))
}

// =============================================================================
// REDUCING_BALANCE STRATEGY
// =============================================================================

func TestReducingBalance_PrincipalConservedExactly(t *testing.T) {
	// GIVEN: 12000 at 12% reducing balance over 12 monthly periods
	// WHEN: Computing installments
	// THEN: Principal portions sum to exactly 12000 and the implied final
	//       balance is exactly zero

	splits, err := engine.ReducingBalanceStrategy{}.ComputeInstallments(
		money("12000"), rate("0.12"), 12, engine.FreqMonthly)
	require.NoError(t, err)
	require.Len(t, splits, 12)

	assert.True(t, sumPrincipal(splits).Equal(money("12000")), "sum(principal) == principal exactly")

	balance := money("12000")
	for _, s := range splits {
		balance = balance.Sub(s.Principal)
	}
	assert.True(t, balance.IsZero(), "final balance exactly zero, got %s", balance)
}

func TestReducingBalance_InterestDeclinesPrincipalGrows(t *testing.T) {
	// GIVEN: A reducing-balance amortization
	// WHEN: Walking the periods
	// THEN: Interest strictly declines and principal grows as the balance drops

	splits, err := engine.ReducingBalanceStrategy{}.ComputeInstallments(
		money("10000"), rate("0.18"), 10, engine.FreqMonthly)
	require.NoError(t, err)

	for i := 1; i < len(splits); i++ {
		assert.True(t, splits[i].Interest.LessThan(splits[i-1].Interest),
			"interest must decline (period %d)", i+1)
	}
	assert.True(t, splits[len(splits)-1].Principal.GreaterThan(splits[0].Principal))
}

func TestReducingBalance_ZeroRateCollapsesToEvenPrincipal(t *testing.T) {
	// GIVEN: A 0% reducing-balance loan
	// WHEN: Computing installments
	// THEN: Even principal, zero interest, no division by zero

	splits, err := engine.ReducingBalanceStrategy{}.ComputeInstallments(
		money("900"), rate("0"), 3, engine.FreqMonthly)
	require.NoError(t, err)
	require.Len(t, splits, 3)

	for _, s := range splits {
		assert.True(t, s.Principal.Equal(money("300")))
		assert.True(t, s.Interest.IsZero())
	}
}

func TestReducingBalance_SinglePeriod(t *testing.T) {
	// GIVEN: A one-period reducing-balance loan
	// WHEN: Computing installments
	// THEN: Full principal plus one period of interest on the full balance

	splits, err := engine.ReducingBalanceStrategy{}.ComputeInstallments(
		money("1200"), rate("0.12"), 1, engine.FreqMonthly)
	require.NoError(t, err)
	require.Len(t, splits, 1)

	assert.True(t, splits[0].Principal.Equal(money("1200")))
	assert.True(t, splits[0].Interest.Equal(money("12")), "one month at 1%%")
}

// =============================================================================
// BULLET LOANS
// =============================================================================

func TestBullet_SingleInstallmentAllStrategies(t *testing.T) {
	// GIVEN: A bullet loan of 1000 at 12% for 12 months
	// WHEN: Computing installments under every strategy
	// THEN: Exactly one split of full principal; flat/reducing accrue simple
	//       interest on the full principal for the term

	for _, tt := range []struct {
		name     string
		strategy engine.InterestStrategy
		interest string
	}{
		{"fixed", engine.FixedStrategy{}, "120"},
		{"flat_rate", engine.FlatRateStrategy{}, "120"},
		{"reducing_balance", engine.ReducingBalanceStrategy{}, "120"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			splits, err := tt.strategy.ComputeInstallments(
				money("1000"), rate("0.12"), 12, engine.FreqBullet)
			require.NoError(t, err)
			require.Len(t, splits, 1, "bullet always yields one installment")
			assert.True(t, splits[0].Principal.Equal(money("1000")))
			assert.True(t, splits[0].Interest.Equal(money(tt.interest)))
		})
	}
}

func TestStrategyFor_UnknownType(t *testing.T) {
	_, err := engine.StrategyFor("COMPOUND_DAILY")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrValidation)
}

// =============================================================================
// CROSS-STRATEGY PROPERTY: PRINCIPAL CONSERVATION
// =============================================================================

func TestAllStrategies_PrincipalConservation(t *testing.T) {
	// GIVEN: Awkward principals and terms across every strategy/frequency
	// WHEN: Computing installments
	// THEN: sum(principal portions) == principal, exactly, every time

	strategies := map[string]engine.InterestStrategy{
		"FIXED":            engine.FixedStrategy{},
		"FLAT_RATE":        engine.FlatRateStrategy{},
		"REDUCING_BALANCE": engine.ReducingBalanceStrategy{},
	}
	principals := []string{"100", "999.99", "12345.67", "250000"}
	terms := []int{1, 3, 7, 12, 36}
	freqs := []engine.Frequency{engine.FreqWeekly, engine.FreqMonthly, engine.FreqQuarterly}

	for name, strategy := range strategies {
		for _, p := range principals {
			for _, n := range terms {
				for _, f := range freqs {
					splits, err := strategy.ComputeInstallments(money(p), rate("0.145"), n, f)
					require.NoError(t, err)
					got := sumPrincipal(splits)
					assert.True(t, got.Equal(money(p)),
						"%s principal=%s term=%d freq=%s: got %s", name, p, n, f, got)
				}
			}
		}
	}
}
