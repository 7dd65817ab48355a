package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesa/lending-engine/engine"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestLoan(principal string, annualRate string, term int, freq engine.Frequency, it engine.InterestType) *engine.Loan {
	return &engine.Loan{
		ID:           engine.LoanID("loan-test"),
		CustomerID:   "cust-1",
		Principal:    money(principal),
		AnnualRate:   rate(annualRate),
		TermPeriods:  term,
		Frequency:    freq,
		InterestType: it,
		Status:       engine.LoanActive,
		DisbursedAt:  date(2025, time.January, 15),
		Version:      1,
	}
}

// =============================================================================
// GENERATE
// =============================================================================

func TestGenerate_FullSchedule(t *testing.T) {
	// GIVEN: A 12000 loan at 12% reducing balance over 12 months
	// WHEN: Generating the schedule
	// THEN: 12 dated lines, 1-based seq, stepped monthly from disbursement,
	//       opening balances walking down to the final principal portion

	loan := newTestLoan("12000", "0.12", 12, engine.FreqMonthly, engine.InterestReducingBalance)
	lines, err := engine.Generator{}.Generate(loan, loan.DisbursedAt)
	require.NoError(t, err)
	require.Len(t, lines, 12)

	for i, sl := range lines {
		assert.Equal(t, i+1, sl.Seq)
		assert.Equal(t, engine.LinePending, sl.Status)
		assert.Equal(t, loan.ID, sl.LoanID)
		assert.NotEmpty(t, sl.ID)
	}
	assert.Equal(t, date(2025, time.February, 15), lines[0].DueDate)
	assert.Equal(t, date(2026, time.January, 15), lines[11].DueDate)

	assert.True(t, lines[0].OpeningBalance.Equal(money("12000")))
	// The last opening balance is exactly the last principal portion.
	last := lines[11]
	assert.True(t, last.OpeningBalance.Equal(last.PrincipalDue))
}

func TestGenerate_BulletYieldsOneLine(t *testing.T) {
	// GIVEN: A 6-month bullet loan
	// WHEN: Generating the schedule
	// THEN: Exactly one line, due at term end, covering all principal+interest

	loan := newTestLoan("1000", "0.12", 6, engine.FreqBullet, engine.InterestFlatRate)
	lines, err := engine.Generator{}.Generate(loan, loan.DisbursedAt)
	require.NoError(t, err)
	require.Len(t, lines, 1)

	assert.Equal(t, date(2025, time.July, 15), lines[0].DueDate)
	assert.True(t, lines[0].PrincipalDue.Equal(money("1000")))
	assert.True(t, lines[0].InterestDue.Equal(money("60")), "1000 x 12%% x 0.5y")
	assert.True(t, lines[0].TotalDue.Equal(money("1060")))
}

func TestGenerate_ValidationFailures(t *testing.T) {
	gen := engine.Generator{}
	disbursed := date(2025, time.January, 15)

	for _, tt := range []struct {
		name string
		loan *engine.Loan
	}{
		{"zero principal", newTestLoan("0", "0.10", 12, engine.FreqMonthly, engine.InterestFixed)},
		{"negative principal", newTestLoan("-100", "0.10", 12, engine.FreqMonthly, engine.InterestFixed)},
		{"zero term", newTestLoan("1000", "0.10", 0, engine.FreqMonthly, engine.InterestFixed)},
		{"negative rate", newTestLoan("1000", "-0.10", 12, engine.FreqMonthly, engine.InterestFixed)},
		{"bad frequency", newTestLoan("1000", "0.10", 12, engine.Frequency("FORTNIGHTLY"), engine.InterestFixed)},
		{"bad interest type", newTestLoan("1000", "0.10", 12, engine.FreqMonthly, engine.InterestType("MAGIC"))},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gen.Generate(tt.loan, disbursed)
			require.Error(t, err)
			assert.ErrorIs(t, err, engine.ErrValidation)
		})
	}
}

func TestGenerate_ScheduleSatisfiesInvariants(t *testing.T) {
	// GIVEN: Generated schedules across strategies
	// WHEN: Running the invariant checker
	// THEN: Every schedule passes

	for _, it := range []engine.InterestType{
		engine.InterestFixed, engine.InterestReducingBalance, engine.InterestFlatRate,
	} {
		loan := newTestLoan("9999.99", "0.145", 7, engine.FreqMonthly, it)
		lines, err := engine.Generator{}.Generate(loan, loan.DisbursedAt)
		require.NoError(t, err)
		assert.NoError(t, engine.VerifySchedule(loan, lines))
	}
}

// =============================================================================
// ADJUST - Partial regeneration
// =============================================================================

func TestAdjust_PreservesPaidLinesExactly(t *testing.T) {
	// GIVEN: A 12-line schedule with the first three lines PAID
	// WHEN: Regenerating the schedule
	// THEN: The paid lines survive byte-for-byte and the tail re-amortizes the
	//       outstanding principal over the remaining 9 periods

	loan := newTestLoan("12000", "0.12", 12, engine.FreqMonthly, engine.InterestReducingBalance)
	lines, err := engine.Generator{}.Generate(loan, loan.DisbursedAt)
	require.NoError(t, err)

	paid := engine.ZeroMoney()
	for i := 0; i < 3; i++ {
		lines[i].PrincipalPaid = lines[i].PrincipalDue
		lines[i].InterestPaid = lines[i].InterestDue
		lines[i].Status = engine.LinePaid
		paid = paid.Add(lines[i].PrincipalDue)
	}
	originals := make([]engine.ScheduleLine, 3)
	copy(originals, lines[:3])

	regen, err := engine.Generator{}.Adjust(loan, lines)
	require.NoError(t, err)
	require.Len(t, regen, 12)

	for i := 0; i < 3; i++ {
		assert.Equal(t, originals[i], regen[i], "paid line %d must be untouched", i+1)
	}

	// The tail starts at seq 4, continues the due-date grid, and amortizes
	// exactly the outstanding principal.
	assert.Equal(t, 4, regen[3].Seq)
	assert.Equal(t, date(2025, time.May, 15), regen[3].DueDate)
	assert.True(t, regen[3].OpeningBalance.Equal(loan.Principal.Sub(paid)))

	tailPrincipal := engine.ZeroMoney()
	for _, sl := range regen[3:] {
		assert.Equal(t, engine.LinePending, sl.Status)
		tailPrincipal = tailPrincipal.Add(sl.PrincipalDue)
	}
	assert.True(t, tailPrincipal.Equal(loan.Principal.Sub(paid)))
}

func TestAdjust_CountsPartialPaymentsAsCollected(t *testing.T) {
	// GIVEN: A schedule whose first line took a partial principal payment
	// WHEN: Regenerating
	// THEN: The replaced tail amortizes principal minus what was collected;
	//       the borrower never pays principal twice

	loan := newTestLoan("1000", "0.10", 4, engine.FreqMonthly, engine.InterestFixed)
	lines, err := engine.Generator{}.Generate(loan, loan.DisbursedAt)
	require.NoError(t, err)

	lines[0].PrincipalPaid = money("100")
	lines[0].Status = engine.LineOverdue

	regen, err := engine.Generator{}.Adjust(loan, lines)
	require.NoError(t, err)
	require.Len(t, regen, 4, "no PAID lines kept, full term regenerated")

	total := engine.ZeroMoney()
	for _, sl := range regen {
		total = total.Add(sl.PrincipalDue)
	}
	assert.True(t, total.Equal(money("900")), "outstanding principal only, got %s", total)
}

func TestAdjust_AllLinesPaidReturnsKeptOnly(t *testing.T) {
	loan := newTestLoan("1000", "0.10", 2, engine.FreqMonthly, engine.InterestFixed)
	lines, err := engine.Generator{}.Generate(loan, loan.DisbursedAt)
	require.NoError(t, err)

	for i := range lines {
		lines[i].PrincipalPaid = lines[i].PrincipalDue
		lines[i].InterestPaid = lines[i].InterestDue
		lines[i].Status = engine.LinePaid
	}

	regen, err := engine.Generator{}.Adjust(loan, lines)
	require.NoError(t, err)
	assert.Len(t, regen, 2, "nothing to regenerate")
}
