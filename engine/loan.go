/*
loan.go - Loan aggregate and schedule line types

PURPOSE:
  Defines the Loan and ScheduleLine records, their closed status
  vocabularies, and the transition tables that govern them. The frontend this
  backend serves encodes these vocabularies as loose string maps; here they
  are typed enums so the compiler rejects unknown states and the transition
  tables reject unknown moves.

INVARIANTS (enforced by VerifySchedule):
  - principal due + interest due == total due, per line
  - sum of all principal due == loan principal, exactly (rounding remainder
    absorbed into the final line by the interest strategies)
  - no negative balances anywhere

SEE ALSO:
  - schedule.go: generation and partial regeneration
  - allocation.go: line mutation during payment allocation
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LOAN STATUS - Closed vocabulary with transition table
// =============================================================================

type LoanStatus string

const (
	LoanDraft       LoanStatus = "DRAFT"
	LoanPending     LoanStatus = "PENDING"
	LoanUnderReview LoanStatus = "UNDER_REVIEW"
	LoanApproved    LoanStatus = "APPROVED"
	LoanRejected    LoanStatus = "REJECTED"
	LoanActive      LoanStatus = "ACTIVE"
	LoanCompleted   LoanStatus = "COMPLETED"
	LoanDefaulted   LoanStatus = "DEFAULTED"
	LoanOverdue     LoanStatus = "OVERDUE"
	LoanWrittenOff  LoanStatus = "WRITTEN_OFF"
	LoanCancelled   LoanStatus = "CANCELLED"
)

// loanTransitions is the full state machine for a loan. DEFAULTED and
// WRITTEN_OFF moves are driven by external policy, not by the allocator.
var loanTransitions = map[LoanStatus][]LoanStatus{
	LoanDraft:       {LoanPending, LoanCancelled},
	LoanPending:     {LoanUnderReview, LoanApproved, LoanRejected, LoanCancelled},
	LoanUnderReview: {LoanApproved, LoanRejected, LoanCancelled},
	LoanApproved:    {LoanActive, LoanCancelled},
	LoanActive:      {LoanCompleted, LoanOverdue, LoanDefaulted, LoanWrittenOff},
	LoanOverdue:     {LoanActive, LoanCompleted, LoanDefaulted, LoanWrittenOff},
	LoanDefaulted:   {LoanWrittenOff, LoanCompleted},
	// COMPLETED, REJECTED, WRITTEN_OFF, CANCELLED are terminal.
}

func (s LoanStatus) CanTransition(to LoanStatus) bool {
	for _, next := range loanTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the loan can never change status again.
func (s LoanStatus) Terminal() bool { return len(loanTransitions[s]) == 0 }

// =============================================================================
// LOAN - The aggregate root
// =============================================================================

type Loan struct {
	ID         LoanID
	CustomerID string

	Principal    Money
	AnnualRate   decimal.Decimal // 0.14 = 14% p.a.
	TermPeriods  int             // months for BULLET, periods otherwise
	Frequency    Frequency
	InterestType InterestType

	DisbursedAt time.Time // zero until disbursement
	Status      LoanStatus

	// Version backs optimistic locking on the aggregate. Every mutation of
	// the loan or its schedule bumps it; a mismatch on write is a
	// ErrConcurrencyConflict.
	Version int64

	// Loans are never physically deleted, only soft-archived.
	Archived  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transition moves the loan to a new status or fails with ErrIllegalTransition.
func (l *Loan) Transition(to LoanStatus) error {
	if !l.Status.CanTransition(to) {
		return &TransitionError{Kind: "loan", From: string(l.Status), To: string(to)}
	}
	l.Status = to
	return nil
}

// ValidateTerms rejects malformed loan terms before any schedule math runs.
func (l *Loan) ValidateTerms() error {
	if !l.Principal.IsPositive() {
		return &ValidationError{Field: "principal", Reason: "must be positive"}
	}
	if l.TermPeriods <= 0 {
		return &ValidationError{Field: "term_periods", Reason: "must be positive"}
	}
	if l.AnnualRate.IsNegative() {
		return &ValidationError{Field: "annual_rate", Reason: "must not be negative"}
	}
	if !l.Frequency.Valid() {
		return &ValidationError{Field: "frequency", Reason: "unsupported"}
	}
	if _, err := StrategyFor(l.InterestType); err != nil {
		return err
	}
	return nil
}

// =============================================================================
// SCHEDULE LINE - One due installment of the repayment plan
// =============================================================================

type LineStatus string

const (
	LinePending   LineStatus = "PENDING"
	LinePaid      LineStatus = "PAID"
	LineOverdue   LineStatus = "OVERDUE"
	LineSkipped   LineStatus = "SKIPPED"
	LineAdjusted  LineStatus = "ADJUSTED"
	LineCancelled LineStatus = "CANCELLED"
)

var lineTransitions = map[LineStatus][]LineStatus{
	LinePending:  {LinePaid, LineOverdue, LineSkipped, LineAdjusted, LineCancelled},
	LineOverdue:  {LinePaid, LineAdjusted, LineCancelled},
	LineAdjusted: {LinePaid, LineOverdue, LineCancelled},
	// PAID, SKIPPED, CANCELLED are terminal.
}

func (s LineStatus) CanTransition(to LineStatus) bool {
	for _, next := range lineTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Settled reports whether the line needs no further payment.
func (s LineStatus) Settled() bool {
	return s == LinePaid || s == LineSkipped || s == LineCancelled
}

type ScheduleLine struct {
	ID     LineID
	LoanID LoanID
	Seq    int // 1-based, never reordered

	DueDate        time.Time
	OpeningBalance Money
	PrincipalDue   Money
	InterestDue    Money
	TotalDue       Money

	PrincipalPaid Money
	InterestPaid  Money
	Status        LineStatus
}

func (sl *ScheduleLine) AmountPaid() Money { return sl.PrincipalPaid.Add(sl.InterestPaid) }

func (sl *ScheduleLine) InterestOutstanding() Money  { return sl.InterestDue.Sub(sl.InterestPaid) }
func (sl *ScheduleLine) PrincipalOutstanding() Money { return sl.PrincipalDue.Sub(sl.PrincipalPaid) }
func (sl *ScheduleLine) Outstanding() Money          { return sl.TotalDue.Sub(sl.AmountPaid()) }

// FullyPaid is true when the paid amount covers the total due exactly.
func (sl *ScheduleLine) FullyPaid() bool { return sl.AmountPaid().Equal(sl.TotalDue) }

func (sl *ScheduleLine) Transition(to LineStatus) error {
	if !sl.Status.CanTransition(to) {
		return &TransitionError{Kind: "line", From: string(sl.Status), To: string(to)}
	}
	sl.Status = to
	return nil
}

// =============================================================================
// SCHEDULE INVARIANTS
// =============================================================================

// VerifySchedule checks the schedule invariants for a loan. A failure means
// a calculation bug, never bad input: callers must abort and surface it.
func VerifySchedule(loan *Loan, lines []ScheduleLine) error {
	principalSum := ZeroMoney()
	for i := range lines {
		sl := &lines[i]
		if !sl.PrincipalDue.Add(sl.InterestDue).Equal(sl.TotalDue) {
			return &InvariantError{
				LoanID: loan.ID,
				Check:  "principal + interest == total",
				Want:   sl.TotalDue,
				Got:    sl.PrincipalDue.Add(sl.InterestDue),
			}
		}
		if sl.PrincipalDue.IsNegative() || sl.InterestDue.IsNegative() {
			return &InvariantError{
				LoanID: loan.ID,
				Check:  "non-negative installment portions",
				Want:   ZeroMoney(),
				Got:    sl.PrincipalDue.Min(sl.InterestDue),
			}
		}
		principalSum = principalSum.Add(sl.PrincipalDue)
	}
	if !principalSum.Equal(loan.Principal) {
		return &InvariantError{
			LoanID: loan.ID,
			Check:  "sum(principal due) == loan principal",
			Want:   loan.Principal,
			Got:    principalSum,
		}
	}
	return nil
}

// LoanSettled reports whether every line and penalty is in a terminal
// satisfied state. Only then may the loan move to COMPLETED.
func LoanSettled(lines []ScheduleLine, penalties []Penalty) bool {
	if len(lines) == 0 {
		return false
	}
	for i := range lines {
		if !lines[i].Status.Settled() {
			return false
		}
	}
	for i := range penalties {
		if !penalties[i].Status.Terminal() {
			return false
		}
	}
	return true
}
