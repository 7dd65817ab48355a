/*
allocation.go - Waterfall allocation of incoming payments

PURPOSE:
  Distributes a single incoming payment across a loan's outstanding
  obligations: APPLIED penalties first, then the interest and principal of
  schedule lines oldest-first. Produces one Repayment row per allocation
  target, all sharing one transaction reference.

PRECEDENCE:
  The default order (penalty -> interest -> principal) is a configurable
  policy, not a constant. An explicit repayment type bypasses precedence and
  applies directly to the matching bucket, still oldest-first within it.

CONSERVATION:
  For any input, sum(repayment amounts) + remaining credit == input amount.
  Remainder after all obligations are cleared is held as credit against
  future installments, never discarded.

MUTATION DISCIPLINE:
  Allocate works on copies of the lines and penalties it is given and
  returns the updated copies; the caller persists them inside one exclusive
  loan-scoped transaction (see store.go). Two concurrent allocations against
  the same loan must never interleave.
*/
package engine

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ALLOCATION POLICY
// =============================================================================

// Bucket is one tier of the waterfall.
type Bucket string

const (
	BucketPenalty   Bucket = "PENALTY"
	BucketInterest  Bucket = "INTEREST"
	BucketPrincipal Bucket = "PRINCIPAL"
)

// AllocationPolicy fixes the precedence of the waterfall tiers. The relative
// order of BucketInterest and BucketPrincipal also decides which portion of
// a line is satisfied first when walking lines oldest-first.
type AllocationPolicy struct {
	Precedence []Bucket
}

// DefaultAllocationPolicy is penalties, then interest, then principal.
func DefaultAllocationPolicy() AllocationPolicy {
	return AllocationPolicy{Precedence: []Bucket{BucketPenalty, BucketInterest, BucketPrincipal}}
}

func (p AllocationPolicy) interestFirst() bool {
	for _, b := range p.Precedence {
		switch b {
		case BucketInterest:
			return true
		case BucketPrincipal:
			return false
		}
	}
	return true
}

func (p AllocationPolicy) penaltiesFirst() bool {
	for _, b := range p.Precedence {
		switch b {
		case BucketPenalty:
			return true
		case BucketInterest, BucketPrincipal:
			return false
		}
	}
	return true
}

// =============================================================================
// ALLOCATOR
// =============================================================================

type Allocator struct {
	Policy AllocationPolicy
}

type AllocationInput struct {
	Loan      *Loan
	Lines     []ScheduleLine
	Penalties []Penalty

	Amount Money
	Method RepaymentMethod
	// ExplicitType, when set to PRINCIPAL/INTEREST/PENALTY/FEE, bypasses the
	// waterfall. FULL, PARTIAL, or nil use the default precedence.
	ExplicitType *RepaymentType
	Reference    string
	Now          time.Time
}

type AllocationResult struct {
	Repayments []Repayment
	Lines      []ScheduleLine
	Penalties  []Penalty

	// Credit is the remainder held against future installments.
	Credit Money

	// LoanStatus is COMPLETED once every line and penalty is settled,
	// otherwise the loan's current status.
	LoanStatus LoanStatus
}

// Allocate distributes in.Amount across the loan's outstanding obligations.
// It returns an AllocationError (wrapped) for non-positive amounts or a loan
// with nothing outstanding; the caller records those payments as FAILED.
func (a Allocator) Allocate(in AllocationInput) (*AllocationResult, error) {
	if !in.Amount.IsPositive() {
		return nil, &AllocationError{LoanID: in.Loan.ID, Amount: in.Amount, Reason: "amount must be positive"}
	}
	if in.Method != "" && !in.Method.Valid() {
		return nil, &AllocationError{LoanID: in.Loan.ID, Amount: in.Amount, Reason: "unknown payment method"}
	}
	if in.ExplicitType != nil && !in.ExplicitType.Valid() {
		return nil, &AllocationError{LoanID: in.Loan.ID, Amount: in.Amount, Reason: "unknown repayment type"}
	}

	st := &allocState{
		loan:      in.Loan,
		lines:     append([]ScheduleLine(nil), in.Lines...),
		penalties: append([]Penalty(nil), in.Penalties...),
		method:    in.Method,
		ref:       in.Reference,
		now:       in.Now,
	}
	if st.ref == "" {
		st.ref = uuid.NewString()
	}
	if !st.hasOutstanding() {
		return nil, &AllocationError{LoanID: in.Loan.ID, Amount: in.Amount, Reason: "no outstanding obligations"}
	}

	remaining := in.Amount
	switch {
	case in.ExplicitType == nil, *in.ExplicitType == RepayFull, *in.ExplicitType == RepayPartial:
		remaining = st.waterfall(remaining, a.policyOrDefault())
	case *in.ExplicitType == RepayPenalty:
		remaining = st.payPenalties(remaining, nil)
	case *in.ExplicitType == RepayFee:
		// FEE targets administrative-class penalties only.
		remaining = st.payPenalties(remaining, []PenaltyType{PenaltyAdministrative, PenaltyOther})
	case *in.ExplicitType == RepayInterest:
		remaining = st.payLines(remaining, true, false, true)
	case *in.ExplicitType == RepayPrincipal:
		remaining = st.payLines(remaining, false, true, false)
	}

	// Anything left over is credit on account, never discarded.
	if remaining.IsPositive() {
		st.repayments = append(st.repayments, Repayment{
			ID:        RepaymentID(uuid.NewString()),
			LoanID:    st.loan.ID,
			Amount:    remaining,
			Method:    st.method,
			Type:      RepayPartial,
			Status:    RepaymentPending,
			Reference: st.ref,
			Notes:     "credit held against future installments",
			CreatedAt: st.now,
		})
	}

	if err := st.verifyConservation(in.Amount, remaining); err != nil {
		return nil, err
	}

	status := st.loan.Status
	if LoanSettled(st.lines, st.penalties) && st.loan.Status.CanTransition(LoanCompleted) {
		status = LoanCompleted
	}

	return &AllocationResult{
		Repayments: st.repayments,
		Lines:      st.lines,
		Penalties:  st.penalties,
		Credit:     remaining,
		LoanStatus: status,
	}, nil
}

func (a Allocator) policyOrDefault() AllocationPolicy {
	if len(a.Policy.Precedence) == 0 {
		return DefaultAllocationPolicy()
	}
	return a.Policy
}

// =============================================================================
// WAIVE / CANCEL - Compensating reversals
// =============================================================================

// Reverse undoes a COMPLETED repayment's effect on its target's paid
// amounts and moves the row to WAIVED or CANCELLED. The row itself is never
// deleted; the audit trail stays append-only.
func Reverse(rep *Repayment, to RepaymentStatus, lines []ScheduleLine, penalties []Penalty, now time.Time) error {
	if to != RepaymentWaived && to != RepaymentCancelled {
		return &TransitionError{Kind: "repayment", From: string(rep.Status), To: string(to)}
	}
	if err := rep.Transition(to); err != nil {
		return err
	}

	switch {
	case rep.PenaltyID != "":
		for i := range penalties {
			p := &penalties[i]
			if p.ID != rep.PenaltyID {
				continue
			}
			p.AmountPaid = p.AmountPaid.Sub(rep.Amount)
			if p.Status == PenaltyPaid {
				p.Status = PenaltyApplied
				p.ResolvedAt = nil
			}
			return nil
		}
		return ErrPenaltyNotFound
	case rep.LineID != "":
		for i := range lines {
			sl := &lines[i]
			if sl.ID != rep.LineID {
				continue
			}
			switch rep.Type {
			case RepayInterest:
				sl.InterestPaid = sl.InterestPaid.Sub(rep.Amount)
			default:
				sl.PrincipalPaid = sl.PrincipalPaid.Sub(rep.Amount)
			}
			if sl.Status == LinePaid && !sl.FullyPaid() {
				// Reopen the line; overdue reclassification happens on the
				// next penalty scan.
				sl.Status = LinePending
			}
			return nil
		}
		return ErrLineNotFound
	default:
		// Credit rows carry no target; nothing to reverse.
		return nil
	}
}

// =============================================================================
// INTERNAL WATERFALL STATE
// =============================================================================

type allocState struct {
	loan      *Loan
	lines     []ScheduleLine
	penalties []Penalty

	method     RepaymentMethod
	ref        string
	now        time.Time
	repayments []Repayment
}

func (st *allocState) hasOutstanding() bool {
	for i := range st.penalties {
		p := &st.penalties[i]
		if p.Status == PenaltyApplied && p.Outstanding().IsPositive() {
			return true
		}
	}
	for i := range st.lines {
		if !st.lines[i].Status.Settled() && st.lines[i].Outstanding().IsPositive() {
			return true
		}
	}
	return false
}

// waterfall runs the configured precedence until the amount is exhausted or
// every obligation is satisfied.
func (st *allocState) waterfall(remaining Money, policy AllocationPolicy) Money {
	if policy.penaltiesFirst() {
		remaining = st.payPenalties(remaining, nil)
		remaining = st.payLines(remaining, true, true, policy.interestFirst())
		return remaining
	}
	remaining = st.payLines(remaining, true, true, policy.interestFirst())
	return st.payPenalties(remaining, nil)
}

// payPenalties drains APPLIED penalties oldest-first. A non-nil type filter
// restricts which penalty classes are eligible (explicit FEE payments).
func (st *allocState) payPenalties(remaining Money, only []PenaltyType) Money {
	for i := range st.penalties {
		if !remaining.IsPositive() {
			break
		}
		p := &st.penalties[i]
		if p.Status != PenaltyApplied || !p.Outstanding().IsPositive() {
			continue
		}
		if only != nil && !containsType(only, p.Type) {
			continue
		}
		pay := p.Outstanding().Min(remaining)
		p.AmountPaid = p.AmountPaid.Add(pay)
		remaining = remaining.Sub(pay)
		if p.Outstanding().IsZero() {
			p.Status = PenaltyPaid
			t := st.now
			p.ResolvedAt = &t
		}
		st.record(pay, RepayPenalty, "", p.ID)
	}
	return remaining
}

// payLines walks unpaid lines oldest-first. interest/principal flags select
// which portions are eligible; interestFirst decides the order of the two
// within a line (interest first under the default policy).
func (st *allocState) payLines(remaining Money, interest, principal, interestFirst bool) Money {
	for i := range st.lines {
		if !remaining.IsPositive() {
			break
		}
		sl := &st.lines[i]
		if sl.Status.Settled() {
			continue
		}

		if interestFirst {
			remaining = st.payPortion(remaining, sl, interest, RepayInterest)
			remaining = st.payPortion(remaining, sl, principal, RepayPrincipal)
		} else {
			remaining = st.payPortion(remaining, sl, principal, RepayPrincipal)
			remaining = st.payPortion(remaining, sl, interest, RepayInterest)
		}

		if sl.FullyPaid() {
			sl.Status = LinePaid
		}
	}
	return remaining
}

// payPortion pays down one portion (interest or principal) of one line.
func (st *allocState) payPortion(remaining Money, sl *ScheduleLine, eligible bool, t RepaymentType) Money {
	if !eligible || !remaining.IsPositive() {
		return remaining
	}
	var due Money
	if t == RepayInterest {
		due = sl.InterestOutstanding()
	} else {
		due = sl.PrincipalOutstanding()
	}
	if !due.IsPositive() {
		return remaining
	}
	pay := due.Min(remaining)
	if t == RepayInterest {
		sl.InterestPaid = sl.InterestPaid.Add(pay)
	} else {
		sl.PrincipalPaid = sl.PrincipalPaid.Add(pay)
	}
	st.record(pay, t, sl.ID, "")
	return remaining.Sub(pay)
}

func (st *allocState) record(amount Money, t RepaymentType, lineID LineID, penaltyID PenaltyID) {
	st.repayments = append(st.repayments, Repayment{
		ID:        RepaymentID(uuid.NewString()),
		LoanID:    st.loan.ID,
		LineID:    lineID,
		PenaltyID: penaltyID,
		Amount:    amount,
		Method:    st.method,
		Type:      t,
		Status:    RepaymentCompleted,
		Reference: st.ref,
		CreatedAt: st.now,
	})
}

func (st *allocState) verifyConservation(input, credit Money) error {
	allocated := ZeroMoney()
	for i := range st.repayments {
		if !st.repayments[i].IsCredit() {
			allocated = allocated.Add(st.repayments[i].Amount)
		}
	}
	if !allocated.Add(credit).Equal(input) {
		return &InvariantError{
			LoanID: st.loan.ID,
			Check:  "sum(allocations) + credit == payment amount",
			Want:   input,
			Got:    allocated.Add(credit),
		}
	}
	return nil
}

func containsType(ts []PenaltyType, t PenaltyType) bool {
	for _, c := range ts {
		if c == t {
			return true
		}
	}
	return false
}
