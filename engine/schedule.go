/*
schedule.go - Schedule generation and partial regeneration

PURPOSE:
  Turns validated loan terms into an ordered, dated sequence of
  ScheduleLines, and regenerates the unpaid tail of a schedule when terms
  change mid-loan.

CRITICAL INVARIANT (Adjust):
  Paid history is immutable. Regeneration preserves already-PAID lines
  byte-for-byte and re-amortizes only the outstanding principal over the
  remaining periods. Lines are never reordered.
*/
package engine

import (
	"time"

	"github.com/google/uuid"
)

// Generator produces repayment schedules. It is stateless; generation for
// independent loans is safe to run concurrently.
type Generator struct{}

// Generate produces the full schedule for a loan disbursed at the given
// date. The result is non-empty and has exactly termPeriods lines (one line
// for BULLET regardless of term length). Validation failures return a
// ValidationError before anything is computed.
func (g Generator) Generate(loan *Loan, disbursedAt time.Time) ([]ScheduleLine, error) {
	if err := loan.ValidateTerms(); err != nil {
		return nil, err
	}

	strategy, err := StrategyFor(loan.InterestType)
	if err != nil {
		return nil, err
	}
	splits, err := strategy.ComputeInstallments(loan.Principal, loan.AnnualRate, loan.TermPeriods, loan.Frequency)
	if err != nil {
		return nil, err
	}

	lines := g.buildLines(loan, disbursedAt, splits, loan.Principal, 0)
	if err := VerifySchedule(loan, lines); err != nil {
		return nil, err
	}
	return lines, nil
}

// Adjust regenerates the unpaid tail of an existing schedule. All PAID lines
// are returned unchanged; every other line is replaced by a fresh
// amortization of the outstanding principal (original principal minus
// principal already collected) over the remaining periods. Due dates keep
// stepping on the original disbursement grid.
func (g Generator) Adjust(loan *Loan, existing []ScheduleLine) ([]ScheduleLine, error) {
	if err := loan.ValidateTerms(); err != nil {
		return nil, err
	}

	var kept []ScheduleLine
	collected := ZeroMoney()
	for i := range existing {
		sl := existing[i]
		if sl.Status == LinePaid {
			kept = append(kept, sl)
			collected = collected.Add(sl.PrincipalDue)
		} else {
			// Partial payments on replaced lines still count as collected
			// principal; the borrower does not pay principal twice.
			collected = collected.Add(sl.PrincipalPaid)
		}
	}

	remainingPeriods := loan.TermPeriods - len(kept)
	if loan.Frequency == FreqBullet {
		remainingPeriods = 1 - len(kept)
	}
	if remainingPeriods <= 0 {
		return kept, nil
	}

	remaining := loan.Principal.Sub(collected)
	if remaining.IsNegative() {
		return nil, &InvariantError{
			LoanID: loan.ID,
			Check:  "collected principal <= loan principal",
			Want:   loan.Principal,
			Got:    collected,
		}
	}

	strategy, err := StrategyFor(loan.InterestType)
	if err != nil {
		return nil, err
	}
	splits, err := strategy.ComputeInstallments(remaining, loan.AnnualRate, remainingPeriods, loan.Frequency)
	if err != nil {
		return nil, err
	}

	tail := g.buildLines(loan, loan.DisbursedAt, splits, remaining, len(kept))
	return append(kept, tail...), nil
}

// buildLines dates and numbers a run of installment splits. seqOffset shifts
// the sequence numbers and due dates when regenerating a schedule tail.
func (g Generator) buildLines(loan *Loan, disbursedAt time.Time, splits []InstallmentSplit, openingBalance Money, seqOffset int) []ScheduleLine {
	lines := make([]ScheduleLine, 0, len(splits))
	balance := openingBalance
	for i, split := range splits {
		seq := seqOffset + i + 1
		lines = append(lines, ScheduleLine{
			ID:             LineID(uuid.NewString()),
			LoanID:         loan.ID,
			Seq:            seq,
			DueDate:        DueDate(disbursedAt, loan.Frequency, seq, loan.TermPeriods),
			OpeningBalance: balance,
			PrincipalDue:   split.Principal,
			InterestDue:    split.Interest,
			TotalDue:       split.Principal.Add(split.Interest),
			Status:         LinePending,
		})
		balance = balance.Sub(split.Principal)
	}
	return lines
}
