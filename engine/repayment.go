package engine

import "time"

// =============================================================================
// REPAYMENT VOCABULARIES
// =============================================================================

type RepaymentMethod string

const (
	MethodMpesa        RepaymentMethod = "MPESA"
	MethodCash         RepaymentMethod = "CASH"
	MethodBankTransfer RepaymentMethod = "BANK_TRANSFER"
	MethodCheque       RepaymentMethod = "CHEQUE"
	MethodCreditCard   RepaymentMethod = "CREDIT_CARD"
	MethodOther        RepaymentMethod = "OTHER"
)

func (m RepaymentMethod) Valid() bool {
	switch m {
	case MethodMpesa, MethodCash, MethodBankTransfer, MethodCheque,
		MethodCreditCard, MethodOther:
		return true
	}
	return false
}

type RepaymentType string

const (
	RepayPrincipal RepaymentType = "PRINCIPAL"
	RepayInterest  RepaymentType = "INTEREST"
	RepayPenalty   RepaymentType = "PENALTY"
	RepayFee       RepaymentType = "FEE"
	RepayFull      RepaymentType = "FULL"
	RepayPartial   RepaymentType = "PARTIAL"
)

func (t RepaymentType) Valid() bool {
	switch t {
	case RepayPrincipal, RepayInterest, RepayPenalty, RepayFee, RepayFull, RepayPartial:
		return true
	}
	return false
}

type RepaymentStatus string

const (
	RepaymentPending    RepaymentStatus = "PENDING"
	RepaymentProcessing RepaymentStatus = "PROCESSING"
	RepaymentCompleted  RepaymentStatus = "COMPLETED"
	RepaymentFailed     RepaymentStatus = "FAILED"
	RepaymentCancelled  RepaymentStatus = "CANCELLED"
	RepaymentOverdue    RepaymentStatus = "OVERDUE"
	RepaymentPartial    RepaymentStatus = "PARTIAL"
	RepaymentWaived     RepaymentStatus = "WAIVED"
)

// Once COMPLETED, a repayment row is immutable except for the compensating
// WAIVED/CANCELLED transitions. Rows are never deleted. PENDING can be
// waived directly so unconsumed credit-on-account rows can be forfeited.
var repaymentTransitions = map[RepaymentStatus][]RepaymentStatus{
	RepaymentPending:    {RepaymentProcessing, RepaymentCompleted, RepaymentFailed, RepaymentCancelled, RepaymentWaived},
	RepaymentProcessing: {RepaymentCompleted, RepaymentFailed, RepaymentCancelled},
	RepaymentCompleted:  {RepaymentWaived, RepaymentCancelled},
	RepaymentOverdue:    {RepaymentCompleted, RepaymentCancelled},
	RepaymentPartial:    {RepaymentCompleted, RepaymentWaived, RepaymentCancelled},
	// FAILED, CANCELLED, WAIVED are terminal.
}

func (s RepaymentStatus) CanTransition(to RepaymentStatus) bool {
	for _, next := range repaymentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// =============================================================================
// REPAYMENT - Atomic payment event (append-only audit trail)
// =============================================================================

// Repayment is one allocation of incoming funds. A single incoming payment
// fans out into multiple rows, one per allocation target, all sharing a
// transaction reference.
type Repayment struct {
	ID     RepaymentID
	LoanID LoanID

	// Allocation target: a schedule line, a penalty, or neither for
	// credit-on-account rows.
	LineID    LineID
	PenaltyID PenaltyID

	Amount Money
	Method RepaymentMethod
	Type   RepaymentType
	Status RepaymentStatus

	// Reference groups the fan-out rows of one incoming payment.
	Reference string
	Notes     string

	CreatedAt time.Time
}

func (r *Repayment) Transition(to RepaymentStatus) error {
	if !r.Status.CanTransition(to) {
		return &TransitionError{Kind: "repayment", From: string(r.Status), To: string(to)}
	}
	r.Status = to
	return nil
}

// IsCredit reports whether this row holds unallocated funds against future
// installments (no line and no penalty target).
func (r *Repayment) IsCredit() bool { return r.LineID == "" && r.PenaltyID == "" }
