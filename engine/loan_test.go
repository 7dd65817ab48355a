package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesa/lending-engine/engine"
)

// =============================================================================
// LOAN STATE MACHINE
// =============================================================================

func TestLoanTransition_HappyPath(t *testing.T) {
	// GIVEN: A newly created loan
	// WHEN: Walking PENDING -> APPROVED -> ACTIVE -> COMPLETED
	// THEN: Every step succeeds and COMPLETED is terminal

	loan := &engine.Loan{Status: engine.LoanPending}
	require.NoError(t, loan.Transition(engine.LoanApproved))
	require.NoError(t, loan.Transition(engine.LoanActive))
	require.NoError(t, loan.Transition(engine.LoanCompleted))
	assert.True(t, loan.Status.Terminal())
}

func TestLoanTransition_OverdueRecovery(t *testing.T) {
	// An overdue loan returns to ACTIVE once arrears clear, or settles
	// straight to COMPLETED.
	assert.True(t, engine.LoanOverdue.CanTransition(engine.LoanActive))
	assert.True(t, engine.LoanOverdue.CanTransition(engine.LoanCompleted))
	assert.True(t, engine.LoanOverdue.CanTransition(engine.LoanDefaulted))
}

func TestLoanTransition_IllegalMoves(t *testing.T) {
	for _, tt := range []struct {
		name string
		from engine.LoanStatus
		to   engine.LoanStatus
	}{
		{"pending cannot activate without approval", engine.LoanPending, engine.LoanActive},
		{"completed is terminal", engine.LoanCompleted, engine.LoanActive},
		{"rejected is terminal", engine.LoanRejected, engine.LoanApproved},
		{"cancelled is terminal", engine.LoanCancelled, engine.LoanPending},
		{"active cannot be cancelled", engine.LoanActive, engine.LoanCancelled},
	} {
		t.Run(tt.name, func(t *testing.T) {
			loan := &engine.Loan{Status: tt.from}
			err := loan.Transition(tt.to)
			require.Error(t, err)
			assert.ErrorIs(t, err, engine.ErrIllegalTransition)
			assert.Equal(t, tt.from, loan.Status, "status unchanged on rejection")
		})
	}
}

// =============================================================================
// LINE STATE MACHINE AND HELPERS
// =============================================================================

func TestLineTransition_Table(t *testing.T) {
	assert.True(t, engine.LinePending.CanTransition(engine.LineOverdue))
	assert.True(t, engine.LineOverdue.CanTransition(engine.LinePaid))
	assert.True(t, engine.LineAdjusted.CanTransition(engine.LineOverdue))

	assert.False(t, engine.LinePaid.CanTransition(engine.LinePending), "PAID is terminal")
	assert.False(t, engine.LineSkipped.CanTransition(engine.LinePaid))
	assert.False(t, engine.LineOverdue.CanTransition(engine.LineSkipped))
}

func TestLine_OutstandingHelpers(t *testing.T) {
	sl := &engine.ScheduleLine{
		PrincipalDue:  money("1000"),
		InterestDue:   money("300"),
		TotalDue:      money("1300"),
		PrincipalPaid: money("200"),
		InterestPaid:  money("300"),
	}

	assert.True(t, sl.AmountPaid().Equal(money("500")))
	assert.True(t, sl.InterestOutstanding().IsZero())
	assert.True(t, sl.PrincipalOutstanding().Equal(money("800")))
	assert.True(t, sl.Outstanding().Equal(money("800")))
	assert.False(t, sl.FullyPaid())

	sl.PrincipalPaid = sl.PrincipalDue
	assert.True(t, sl.FullyPaid())
}

// =============================================================================
// REPAYMENT STATE MACHINE
// =============================================================================

func TestRepaymentTransition_PendingCreditWaivable(t *testing.T) {
	// A credit-on-account row sits in PENDING until consumed; an operator
	// can forfeit it by waiving directly.
	r := &engine.Repayment{Status: engine.RepaymentPending, Type: engine.RepayPartial}
	require.True(t, r.IsCredit())

	require.NoError(t, r.Transition(engine.RepaymentWaived))
	assert.False(t, r.Status.CanTransition(engine.RepaymentCompleted), "WAIVED is terminal")
	assert.False(t, r.Status.CanTransition(engine.RepaymentPending))
}

// =============================================================================
// SCHEDULE INVARIANTS
// =============================================================================

func TestVerifySchedule_CatchesPortionMismatch(t *testing.T) {
	// GIVEN: A line whose portions do not add up to its total
	// WHEN: Verifying
	// THEN: An invariant violation naming the amounts

	loan := newTestLoan("1000", "0.10", 1, engine.FreqMonthly, engine.InterestFixed)
	lines := []engine.ScheduleLine{{
		PrincipalDue: money("1000"),
		InterestDue:  money("100"),
		TotalDue:     money("1200"),
	}}

	err := engine.VerifySchedule(loan, lines)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrInvariantViolation)
}

func TestVerifySchedule_CatchesPrincipalSumMismatch(t *testing.T) {
	loan := newTestLoan("1000", "0.10", 1, engine.FreqMonthly, engine.InterestFixed)
	lines := []engine.ScheduleLine{{
		PrincipalDue: money("999"),
		InterestDue:  money("100"),
		TotalDue:     money("1099"),
	}}

	err := engine.VerifySchedule(loan, lines)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrInvariantViolation)
}

func TestVerifySchedule_CatchesNegativePortions(t *testing.T) {
	loan := newTestLoan("1000", "0.10", 1, engine.FreqMonthly, engine.InterestFixed)
	lines := []engine.ScheduleLine{{
		PrincipalDue: money("1100"),
		InterestDue:  money("-100"),
		TotalDue:     money("1000"),
	}}

	err := engine.VerifySchedule(loan, lines)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrInvariantViolation)
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func TestLoanSettled(t *testing.T) {
	paid := engine.ScheduleLine{Status: engine.LinePaid}
	pending := engine.ScheduleLine{Status: engine.LinePending}
	livePenalty := engine.Penalty{Status: engine.PenaltyApplied}
	paidPenalty := engine.Penalty{Status: engine.PenaltyPaid}

	assert.False(t, engine.LoanSettled(nil, nil), "no schedule means not settled")
	assert.False(t, engine.LoanSettled([]engine.ScheduleLine{paid, pending}, nil))
	assert.False(t, engine.LoanSettled([]engine.ScheduleLine{paid}, []engine.Penalty{livePenalty}))
	assert.True(t, engine.LoanSettled([]engine.ScheduleLine{paid}, []engine.Penalty{paidPenalty}))

	skipped := engine.ScheduleLine{Status: engine.LineSkipped}
	assert.True(t, engine.LoanSettled([]engine.ScheduleLine{paid, skipped}, nil),
		"SKIPPED counts as settled")
}
