/*
store.go - Persistence interfaces for the lending engine

PURPOSE:
  Defines the interface between the pure computation layer and the database.
  The engine never does I/O itself; handlers load state, run the math, and
  persist results through these interfaces.

APPEND-ONLY CONTRACT:
  Repayment rows are append-only. The only writes after creation are the
  compensating status transitions (WAIVED/CANCELLED); there is no delete.
  Error paths preserve the full repayment and penalty trail.

CONCURRENCY:
  WithLoanTx serializes all mutation of one loan aggregate. Two concurrent
  allocations against the same loan must not interleave their
  read-modify-write of schedule balances; implementations take an exclusive
  scope (database transaction plus an optimistic version check on the loans
  row) for the duration of the callback. A version mismatch surfaces as
  ErrConcurrencyConflict and the caller retries the whole call.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store
  - engine/store: in-memory store for tests and development
*/
package engine

import "context"

// Store is the persistence surface for loans, schedules, penalties, and
// repayments.
type Store interface {
	// CreateLoan inserts a new loan at version 1.
	CreateLoan(ctx context.Context, loan *Loan) error

	// SaveLoan updates a loan, checking loan.Version against the stored
	// version and bumping it on success. Mismatch: ErrConcurrencyConflict.
	SaveLoan(ctx context.Context, loan *Loan) error

	GetLoan(ctx context.Context, id LoanID) (*Loan, error)
	ListLoans(ctx context.Context) ([]Loan, error)

	// ReplaceSchedule atomically replaces a loan's full schedule. Callers
	// pass the complete new line set (preserved PAID lines included).
	ReplaceSchedule(ctx context.Context, loanID LoanID, lines []ScheduleLine) error
	GetSchedule(ctx context.Context, loanID LoanID) ([]ScheduleLine, error)
	SaveLine(ctx context.Context, line *ScheduleLine) error

	SavePenalty(ctx context.Context, p *Penalty) error
	GetPenalty(ctx context.Context, id PenaltyID) (*Penalty, error)
	PenaltiesByLoan(ctx context.Context, loanID LoanID) ([]Penalty, error)

	// AppendRepayment adds a repayment row. Append-only: rows are never
	// updated except via UpdateRepaymentStatus, never deleted.
	AppendRepayment(ctx context.Context, r *Repayment) error
	GetRepayment(ctx context.Context, id RepaymentID) (*Repayment, error)
	RepaymentsByLoan(ctx context.Context, loanID LoanID) ([]Repayment, error)

	// UpdateRepaymentStatus applies a compensating transition to an existing
	// row (e.g. PENDING credit consumed -> COMPLETED, COMPLETED -> WAIVED).
	UpdateRepaymentStatus(ctx context.Context, id RepaymentID, status RepaymentStatus) error
}

// TxStore adds loan-scoped exclusive transactions.
type TxStore interface {
	Store

	// WithLoanTx executes fn within an exclusive scope over one loan
	// aggregate. If fn returns an error, nothing is applied.
	WithLoanTx(ctx context.Context, loanID LoanID, fn func(Store) error) error
}
