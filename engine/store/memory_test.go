package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesa/lending-engine/engine"
	"github.com/pesa/lending-engine/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func seedLoan(t *testing.T, m *store.Memory) *engine.Loan {
	t.Helper()
	loan := &engine.Loan{
		ID:           engine.LoanID("loan-1"),
		CustomerID:   "cust-1",
		Principal:    engine.MustMoney("1000"),
		AnnualRate:   engine.MustRate("0.10"),
		TermPeriods:  4,
		Frequency:    engine.FreqMonthly,
		InterestType: engine.InterestFixed,
		Status:       engine.LoanActive,
		DisbursedAt:  time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC),
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, m.CreateLoan(context.Background(), loan))
	return loan
}

// =============================================================================
// OPTIMISTIC LOCKING
// =============================================================================

func TestMemory_SaveLoanBumpsVersion(t *testing.T) {
	m := store.NewMemory()
	loan := seedLoan(t, m)
	require.Equal(t, int64(1), loan.Version, "loans start at version 1")

	require.NoError(t, m.SaveLoan(context.Background(), loan))
	assert.Equal(t, int64(2), loan.Version)

	stored, err := m.GetLoan(context.Background(), loan.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
}

func TestMemory_StaleVersionConflicts(t *testing.T) {
	// GIVEN: Two readers holding the same loan version
	// WHEN: Both write
	// THEN: The second write fails with a concurrency conflict and changes
	//       nothing

	m := store.NewMemory()
	loan := seedLoan(t, m)
	ctx := context.Background()

	first, err := m.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	second, err := m.GetLoan(ctx, loan.ID)
	require.NoError(t, err)

	first.Status = engine.LoanOverdue
	require.NoError(t, m.SaveLoan(ctx, first))

	second.Status = engine.LoanCompleted
	err = m.SaveLoan(ctx, second)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrConcurrencyConflict)
	assert.True(t, engine.IsRetryable(err))

	stored, err := m.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.LoanOverdue, stored.Status, "stale write discarded")
}

func TestMemory_SaveUnknownLoan(t *testing.T) {
	m := store.NewMemory()
	err := m.SaveLoan(context.Background(), &engine.Loan{ID: "ghost"})
	assert.ErrorIs(t, err, engine.ErrLoanNotFound)
}

// =============================================================================
// LOAN-SCOPED TRANSACTIONS
// =============================================================================

func TestMemory_WithLoanTxRollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that mutates the loan, its schedule, a penalty, and
	//        a repayment, then fails
	// WHEN: The callback returns an error
	// THEN: Every mutation is rolled back

	m := store.NewMemory()
	loan := seedLoan(t, m)
	ctx := context.Background()

	lines, err := engine.Generator{}.Generate(loan, loan.DisbursedAt)
	require.NoError(t, err)
	require.NoError(t, m.ReplaceSchedule(ctx, loan.ID, lines))

	boom := errors.New("allocation failed mid-flight")
	err = m.WithLoanTx(ctx, loan.ID, func(s engine.Store) error {
		l, err := s.GetLoan(ctx, loan.ID)
		require.NoError(t, err)
		l.Status = engine.LoanOverdue
		require.NoError(t, s.SaveLoan(ctx, l))

		sched, err := s.GetSchedule(ctx, loan.ID)
		require.NoError(t, err)
		sched[0].PrincipalPaid = engine.MustMoney("250")
		require.NoError(t, s.SaveLine(ctx, &sched[0]))

		require.NoError(t, s.SavePenalty(ctx, &engine.Penalty{
			ID: "pen-tx", LoanID: loan.ID, Type: engine.PenaltyLatePayment,
			Amount: engine.MustMoney("50"), Status: engine.PenaltyPending,
		}))
		require.NoError(t, s.AppendRepayment(ctx, &engine.Repayment{
			ID: "rep-tx", LoanID: loan.ID, Amount: engine.MustMoney("250"),
			Type: engine.RepayPrincipal, Status: engine.RepaymentCompleted,
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	stored, err := m.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.LoanActive, stored.Status)
	assert.Equal(t, int64(1), stored.Version)

	sched, err := m.GetSchedule(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, sched[0].PrincipalPaid.IsZero())

	_, err = m.GetPenalty(ctx, "pen-tx")
	assert.ErrorIs(t, err, engine.ErrPenaltyNotFound)
	_, err = m.GetRepayment(ctx, "rep-tx")
	assert.ErrorIs(t, err, engine.ErrRepaymentNotFound)
}

func TestMemory_RollbackKeepsOtherLoansTrail(t *testing.T) {
	// GIVEN: A row is appended for loan B while loan A's transaction is
	//        in flight, and loan A's callback then fails
	// WHEN: Loan A rolls back
	// THEN: Loan B's row stays visible in its trail; only loan A's row is
	//       removed

	m := store.NewMemory()
	loanA := seedLoan(t, m)
	ctx := context.Background()

	loanB := &engine.Loan{
		ID:           engine.LoanID("loan-b"),
		CustomerID:   "cust-2",
		Principal:    engine.MustMoney("500"),
		AnnualRate:   engine.MustRate("0.10"),
		TermPeriods:  2,
		Frequency:    engine.FreqMonthly,
		InterestType: engine.InterestFixed,
		Status:       engine.LoanActive,
	}
	require.NoError(t, m.CreateLoan(ctx, loanB))

	boom := errors.New("allocation failed mid-flight")
	err := m.WithLoanTx(ctx, loanA.ID, func(s engine.Store) error {
		require.NoError(t, s.AppendRepayment(ctx, &engine.Repayment{
			ID: "rep-a", LoanID: loanA.ID, Amount: engine.MustMoney("100"),
			Type: engine.RepayPrincipal, Status: engine.RepaymentCompleted,
		}))
		require.NoError(t, m.AppendRepayment(ctx, &engine.Repayment{
			ID: "rep-b", LoanID: loanB.ID, Amount: engine.MustMoney("50"),
			Type: engine.RepayPrincipal, Status: engine.RepaymentCompleted,
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	rowsB, err := m.RepaymentsByLoan(ctx, loanB.ID)
	require.NoError(t, err)
	require.Len(t, rowsB, 1, "loan B's row survives loan A's rollback")
	assert.Equal(t, engine.RepaymentID("rep-b"), rowsB[0].ID)

	rowsA, err := m.RepaymentsByLoan(ctx, loanA.ID)
	require.NoError(t, err)
	assert.Empty(t, rowsA)
	_, err = m.GetRepayment(ctx, "rep-a")
	assert.ErrorIs(t, err, engine.ErrRepaymentNotFound)
}

func TestMemory_WithLoanTxCommitsOnSuccess(t *testing.T) {
	m := store.NewMemory()
	loan := seedLoan(t, m)
	ctx := context.Background()

	err := m.WithLoanTx(ctx, loan.ID, func(s engine.Store) error {
		l, err := s.GetLoan(ctx, loan.ID)
		if err != nil {
			return err
		}
		l.Status = engine.LoanOverdue
		return s.SaveLoan(ctx, l)
	})
	require.NoError(t, err)

	stored, err := m.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.LoanOverdue, stored.Status)
	assert.Equal(t, int64(2), stored.Version)
}

// =============================================================================
// REPAYMENT TRAIL
// =============================================================================

func TestMemory_RepaymentsKeepInsertionOrder(t *testing.T) {
	m := store.NewMemory()
	loan := seedLoan(t, m)
	ctx := context.Background()

	for i, id := range []engine.RepaymentID{"r1", "r2", "r3"} {
		require.NoError(t, m.AppendRepayment(ctx, &engine.Repayment{
			ID: id, LoanID: loan.ID,
			Amount: engine.NewMoneyFromInt(int64(i + 1)),
			Status: engine.RepaymentCompleted,
		}))
	}

	rows, err := m.RepaymentsByLoan(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, engine.RepaymentID("r1"), rows[0].ID)
	assert.Equal(t, engine.RepaymentID("r3"), rows[2].ID)
}

func TestMemory_UpdateRepaymentStatusEnforcesTransitions(t *testing.T) {
	m := store.NewMemory()
	loan := seedLoan(t, m)
	ctx := context.Background()

	require.NoError(t, m.AppendRepayment(ctx, &engine.Repayment{
		ID: "r1", LoanID: loan.ID, Status: engine.RepaymentCompleted,
	}))

	require.NoError(t, m.UpdateRepaymentStatus(ctx, "r1", engine.RepaymentWaived))

	err := m.UpdateRepaymentStatus(ctx, "r1", engine.RepaymentCompleted)
	require.Error(t, err, "WAIVED is terminal")
	assert.ErrorIs(t, err, engine.ErrIllegalTransition)
}

func TestMemory_SaveLineUnknownLine(t *testing.T) {
	m := store.NewMemory()
	seedLoan(t, m)
	err := m.SaveLine(context.Background(), &engine.ScheduleLine{ID: "ghost", LoanID: "loan-1"})
	assert.ErrorIs(t, err, engine.ErrLineNotFound)
}
