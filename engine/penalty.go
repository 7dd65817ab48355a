/*
penalty.go - Overdue penalty evaluation

PURPOSE:
  Scans a loan's schedule as of "now" and emits penalty records for
  installments overdue past the grace period. Amounts come from policy
  (percentage of the overdue installment or a flat fee), never hardcoded.

LIFECYCLE:
  PENDING -> APPLIED -> {WAIVED | PAID | CANCELLED}   (terminal)

IDEMPOTENCE:
  Re-running the scan with the same "now" never duplicates a penalty for the
  same (line, type) pair; a live penalty suppresses re-emission. Applying an
  already-APPLIED penalty is a no-op, not an error.
*/
package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// PENALTY VOCABULARIES
// =============================================================================

type PenaltyType string

const (
	PenaltyLatePayment    PenaltyType = "LATE_PAYMENT"
	PenaltyDefault        PenaltyType = "DEFAULT"
	PenaltyEarlyRepayment PenaltyType = "EARLY_REPAYMENT"
	PenaltyAdministrative PenaltyType = "ADMINISTRATIVE"
	PenaltyOther          PenaltyType = "OTHER"
)

func (t PenaltyType) Valid() bool {
	switch t {
	case PenaltyLatePayment, PenaltyDefault, PenaltyEarlyRepayment,
		PenaltyAdministrative, PenaltyOther:
		return true
	}
	return false
}

type PenaltyStatus string

const (
	PenaltyPending   PenaltyStatus = "PENDING"
	PenaltyApplied   PenaltyStatus = "APPLIED"
	PenaltyWaived    PenaltyStatus = "WAIVED"
	PenaltyCancelled PenaltyStatus = "CANCELLED"
	PenaltyPaid      PenaltyStatus = "PAID"
)

var penaltyTransitions = map[PenaltyStatus][]PenaltyStatus{
	PenaltyPending: {PenaltyApplied, PenaltyCancelled},
	PenaltyApplied: {PenaltyWaived, PenaltyPaid, PenaltyCancelled},
	// WAIVED, PAID, CANCELLED are terminal.
}

func (s PenaltyStatus) CanTransition(to PenaltyStatus) bool {
	for _, next := range penaltyTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s PenaltyStatus) Terminal() bool { return len(penaltyTransitions[s]) == 0 }

// =============================================================================
// PENALTY RECORD
// =============================================================================

// Penalty belongs to one ScheduleLine, or to the loan itself for
// DEFAULT-type penalties (LineID empty).
type Penalty struct {
	ID     PenaltyID
	LoanID LoanID
	LineID LineID // empty for loan-level penalties

	Type   PenaltyType
	Amount Money
	Status PenaltyStatus
	Reason string

	AmountPaid Money // filled in by allocation

	CreatedAt  time.Time
	AppliedAt  *time.Time
	ResolvedAt *time.Time
}

func (p *Penalty) Outstanding() Money { return p.Amount.Sub(p.AmountPaid) }

// Apply moves a PENDING penalty to APPLIED. Applying an APPLIED penalty is a
// no-op so that retried requests and repeated scans stay idempotent.
func (p *Penalty) Apply(at time.Time) error {
	if p.Status == PenaltyApplied {
		return nil
	}
	if !p.Status.CanTransition(PenaltyApplied) {
		return &TransitionError{Kind: "penalty", From: string(p.Status), To: string(PenaltyApplied)}
	}
	p.Status = PenaltyApplied
	p.AppliedAt = &at
	return nil
}

// Resolve moves the penalty to a terminal state (WAIVED, PAID, CANCELLED).
func (p *Penalty) Resolve(to PenaltyStatus, at time.Time) error {
	if !p.Status.CanTransition(to) {
		return &TransitionError{Kind: "penalty", From: string(p.Status), To: string(to)}
	}
	p.Status = to
	p.ResolvedAt = &at
	return nil
}

// =============================================================================
// PENALTY POLICY - Configured, never hardcoded
// =============================================================================

type PenaltyPolicy struct {
	// Days after a due date before a line is overdue and penalized.
	GraceDays int

	// LATE_PAYMENT amount: a percentage of the overdue installment when
	// LateFeePercent is positive, otherwise the flat fee.
	LateFeePercent decimal.Decimal // 0.05 = 5% of the overdue installment
	LateFeeFlat    Money

	// A loan-level DEFAULT penalty fires once this many consecutive lines
	// are overdue. Zero disables it.
	DefaultAfterConsecutive int
	DefaultFeePercent       decimal.Decimal // of total outstanding

	// EARLY_REPAYMENT fee at full payoff before term end. Zero disables it.
	EarlyRepaymentPercent decimal.Decimal // of remaining principal
}

// =============================================================================
// PENALTY ENGINE
// =============================================================================

type PenaltyEngine struct {
	Policy PenaltyPolicy
}

// ScanResult is the outcome of one penalty scan.
type ScanResult struct {
	// NewPenalties are freshly created PENDING penalties.
	NewPenalties []Penalty
	// OverdueSeqs are sequence numbers of lines that should move to OVERDUE.
	OverdueSeqs []int
}

// Scan evaluates the schedule as of "asOf" and produces LATE_PAYMENT
// penalties for lines overdue past the grace period, plus at most one
// loan-level DEFAULT penalty once the consecutive-overdue threshold is
// crossed. Existing live penalties for the same target suppress re-emission.
func (e *PenaltyEngine) Scan(loan *Loan, lines []ScheduleLine, existing []Penalty, asOf time.Time) ScanResult {
	var result ScanResult
	asOf = DateOnly(asOf)

	consecutive := 0
	maxConsecutive := 0
	for i := range lines {
		sl := &lines[i]
		if sl.Status.Settled() {
			consecutive = 0
			continue
		}
		deadline := DateOnly(sl.DueDate).AddDate(0, 0, e.Policy.GraceDays)
		if !asOf.After(deadline) {
			consecutive = 0
			continue
		}

		consecutive++
		if consecutive > maxConsecutive {
			maxConsecutive = consecutive
		}
		if sl.Status == LinePending || sl.Status == LineAdjusted {
			result.OverdueSeqs = append(result.OverdueSeqs, sl.Seq)
		}
		if hasLivePenalty(existing, sl.ID, PenaltyLatePayment) {
			continue
		}
		result.NewPenalties = append(result.NewPenalties, Penalty{
			ID:        PenaltyID(uuid.NewString()),
			LoanID:    loan.ID,
			LineID:    sl.ID,
			Type:      PenaltyLatePayment,
			Amount:    e.lateFee(sl),
			Status:    PenaltyPending,
			Reason:    "installment overdue past grace period",
			CreatedAt: asOf,
		})
	}

	if e.Policy.DefaultAfterConsecutive > 0 &&
		maxConsecutive > e.Policy.DefaultAfterConsecutive &&
		!hasLivePenalty(existing, "", PenaltyDefault) &&
		!hasLivePenalty(result.NewPenalties, "", PenaltyDefault) {
		outstanding := ZeroMoney()
		for i := range lines {
			outstanding = outstanding.Add(lines[i].Outstanding())
		}
		result.NewPenalties = append(result.NewPenalties, Penalty{
			ID:        PenaltyID(uuid.NewString()),
			LoanID:    loan.ID,
			Type:      PenaltyDefault,
			Amount:    outstanding.Mul(e.Policy.DefaultFeePercent).Round(),
			Status:    PenaltyPending,
			Reason:    "consecutive overdue installments exceeded threshold",
			CreatedAt: asOf,
		})
	}

	return result
}

// EarlyRepayment returns the penalty owed for paying a loan off in full
// before its final due date, or nil when not configured or not early.
func (e *PenaltyEngine) EarlyRepayment(loan *Loan, lines []ScheduleLine, asOf time.Time) *Penalty {
	if e.Policy.EarlyRepaymentPercent.IsZero() || len(lines) == 0 {
		return nil
	}
	final := lines[len(lines)-1].DueDate
	if !DateOnly(asOf).Before(DateOnly(final)) {
		return nil
	}
	remaining := ZeroMoney()
	for i := range lines {
		remaining = remaining.Add(lines[i].PrincipalOutstanding())
	}
	if !remaining.IsPositive() {
		return nil
	}
	return &Penalty{
		ID:        PenaltyID(uuid.NewString()),
		LoanID:    loan.ID,
		Type:      PenaltyEarlyRepayment,
		Amount:    remaining.Mul(e.Policy.EarlyRepaymentPercent).Round(),
		Status:    PenaltyPending,
		Reason:    "full payoff before term end",
		CreatedAt: asOf,
	}
}

func (e *PenaltyEngine) lateFee(sl *ScheduleLine) Money {
	if e.Policy.LateFeePercent.IsPositive() {
		return sl.Outstanding().Mul(e.Policy.LateFeePercent).Round()
	}
	return e.Policy.LateFeeFlat
}

// hasLivePenalty reports whether a non-terminal penalty already exists for
// the (target, type) pair. LineID is empty for loan-level targets.
func hasLivePenalty(penalties []Penalty, lineID LineID, t PenaltyType) bool {
	for i := range penalties {
		p := &penalties[i]
		if p.LineID == lineID && p.Type == t && !p.Status.Terminal() {
			return true
		}
	}
	return false
}
