/*
errors.go - Centralized error types for the lending engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer maps these onto HTTP status codes.

ERROR CATEGORIES:
  1. Validation errors  - malformed loan terms, rejected before anything persists
  2. Allocation errors  - unusable payments, recorded as FAILED repayments
  3. Concurrency errors - version contention on a loan aggregate, caller retries
  4. Invariant errors   - calculation bugs; fatal, surfaced, never auto-corrected

USAGE:
  if errors.Is(err, engine.ErrConcurrencyConflict) {
      // retry the whole allocation
  }
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed loan terms (zero term, negative
	// rate, unsupported frequency). Nothing is persisted on this path.
	ErrValidation = errors.New("invalid loan terms")

	// ErrAllocation is returned when a payment cannot be allocated: amount is
	// not positive, or the loan has no outstanding obligations. The caller
	// records the repayment as FAILED rather than silently dropping it.
	ErrAllocation = errors.New("allocation rejected")

	// ErrConcurrencyConflict is returned when the loan aggregate's version
	// changed under an allocation. The caller must retry the whole call;
	// partial application never happens.
	ErrConcurrencyConflict = errors.New("concurrent modification of loan aggregate")

	// ErrInvariantViolation indicates a calculation bug (schedule sum
	// mismatch, negative balance). Fatal: abort and surface.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrIllegalTransition is returned when a status change is not permitted
	// by the transition table for that vocabulary.
	ErrIllegalTransition = errors.New("illegal status transition")

	ErrLoanNotFound      = errors.New("loan not found")
	ErrLineNotFound      = errors.New("schedule line not found")
	ErrPenaltyNotFound   = errors.New("penalty not found")
	ErrRepaymentNotFound = errors.New("repayment not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports which loan field failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid loan terms: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// AllocationError reports why a payment could not be allocated.
type AllocationError struct {
	LoanID LoanID
	Amount Money
	Reason string
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocation rejected for loan %s (amount %s): %s",
		e.LoanID, e.Amount, e.Reason)
}

func (e *AllocationError) Unwrap() error { return ErrAllocation }

// InvariantError reports a broken schedule invariant with the amounts
// involved. It always indicates a bug, never bad input.
type InvariantError struct {
	LoanID  LoanID
	Check   string
	Want    Money
	Got     Money
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation on loan %s: %s (want %s, got %s)",
		e.LoanID, e.Check, e.Want, e.Got)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// TransitionError reports a rejected status transition.
type TransitionError struct {
	Kind string // "loan", "line", "penalty", "repayment"
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition %s -> %s", e.Kind, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrAllocation) ||
		errors.Is(err, ErrIllegalTransition)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLoanNotFound) ||
		errors.Is(err, ErrLineNotFound) ||
		errors.Is(err, ErrPenaltyNotFound) ||
		errors.Is(err, ErrRepaymentNotFound)
}
