/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements engine.Store and engine.TxStore using SQLite. In production, the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  loans:          Aggregate roots with an optimistic-lock version column
  schedule_lines: The amortization plan, replaced as a set on regeneration
  penalties:      Overdue/default/early-repayment fee records
  repayments:     Append-only allocation audit trail

APPEND-ONLY ENFORCEMENT:
  The repayments table takes INSERTs plus status-only UPDATEs (the
  compensating WAIVED/CANCELLED transitions). There are no DELETE statements
  on repayments, and no UPDATE touches an amount.

OPTIMISTIC LOCKING:
  SaveLoan executes UPDATE ... WHERE id = ? AND version = ?. Zero rows
  affected with an existing loan means another writer got there first and the
  caller sees engine.ErrConcurrencyConflict. WithLoanTx wraps the callback in
  a database transaction so a conflict rolls everything back.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/lending.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/pesa/lending-engine/engine"
)

// Store implements engine.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Loans (aggregate roots, soft-archived, never deleted)
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		principal TEXT NOT NULL,
		annual_rate TEXT NOT NULL,
		term_periods INTEGER NOT NULL,
		frequency TEXT NOT NULL,
		interest_type TEXT NOT NULL,
		disbursed_at TEXT,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		archived BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_loans_customer
		ON loans(customer_id);
	CREATE INDEX IF NOT EXISTS idx_loans_status
		ON loans(status);

	-- Schedule lines (replaced as a set on regeneration)
	CREATE TABLE IF NOT EXISTS schedule_lines (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id),
		seq INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		opening_balance TEXT NOT NULL,
		principal_due TEXT NOT NULL,
		interest_due TEXT NOT NULL,
		total_due TEXT NOT NULL,
		principal_paid TEXT NOT NULL,
		interest_paid TEXT NOT NULL,
		status TEXT NOT NULL,
		UNIQUE(loan_id, seq)
	);

	-- Hot path: allocation walks the schedule in seq order
	CREATE INDEX IF NOT EXISTS idx_lines_loan_seq
		ON schedule_lines(loan_id, seq);
	CREATE INDEX IF NOT EXISTS idx_lines_status
		ON schedule_lines(status);

	-- Penalties (line-level or loan-level, line_id empty for loan-level)
	CREATE TABLE IF NOT EXISTS penalties (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id),
		line_id TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		created_at TEXT NOT NULL,
		applied_at TEXT,
		resolved_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_penalties_loan
		ON penalties(loan_id);
	CREATE INDEX IF NOT EXISTS idx_penalties_line
		ON penalties(line_id) WHERE line_id != '';
	CREATE INDEX IF NOT EXISTS idx_penalties_status
		ON penalties(status);

	-- Repayments (append-only audit trail)
	CREATE TABLE IF NOT EXISTS repayments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id),
		line_id TEXT NOT NULL DEFAULT '',
		penalty_id TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		reference TEXT,
		notes TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_repayments_loan
		ON repayments(loan_id);

	-- Groups the fan-out rows of one incoming payment
	CREATE INDEX IF NOT EXISTS idx_repayments_reference
		ON repayments(reference) WHERE reference IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the same queries serve
// Store and its transactional view.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// LOANS
// =============================================================================

func (s *Store) CreateLoan(ctx context.Context, loan *engine.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createLoan(ctx, s.db, loan)
}

func createLoan(ctx context.Context, db dbtx, loan *engine.Loan) error {
	loan.Version = 1

	query := `
		INSERT INTO loans
		(id, customer_id, principal, annual_rate, term_periods, frequency,
		 interest_type, disbursed_at, status, version, archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		loan.ID,
		loan.CustomerID,
		loan.Principal.Value.String(),
		loan.AnnualRate.String(),
		loan.TermPeriods,
		loan.Frequency,
		loan.InterestType,
		nullTime(loan.DisbursedAt),
		loan.Status,
		loan.Version,
		loan.Archived,
		loan.CreatedAt.UTC().Format(time.RFC3339),
		loan.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert loan: %w", err)
	}
	return nil
}

func (s *Store) SaveLoan(ctx context.Context, loan *engine.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveLoan(ctx, s.db, loan)
}

func saveLoan(ctx context.Context, db dbtx, loan *engine.Loan) error {
	query := `
		UPDATE loans SET
			customer_id = ?,
			principal = ?,
			annual_rate = ?,
			term_periods = ?,
			frequency = ?,
			interest_type = ?,
			disbursed_at = ?,
			status = ?,
			version = version + 1,
			archived = ?,
			updated_at = ?
		WHERE id = ? AND version = ?
	`

	res, err := db.ExecContext(ctx, query,
		loan.CustomerID,
		loan.Principal.Value.String(),
		loan.AnnualRate.String(),
		loan.TermPeriods,
		loan.Frequency,
		loan.InterestType,
		nullTime(loan.DisbursedAt),
		loan.Status,
		loan.Archived,
		loan.UpdatedAt.UTC().Format(time.RFC3339),
		loan.ID,
		loan.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists int
		if err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM loans WHERE id = ?", loan.ID,
		).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return engine.ErrLoanNotFound
		}
		return engine.ErrConcurrencyConflict
	}

	loan.Version++
	return nil
}

func (s *Store) GetLoan(ctx context.Context, id engine.LoanID) (*engine.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLoan(ctx, s.db, id)
}

func getLoan(ctx context.Context, db dbtx, id engine.LoanID) (*engine.Loan, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, customer_id, principal, annual_rate, term_periods, frequency,
		       interest_type, disbursed_at, status, version, archived, created_at, updated_at
		FROM loans WHERE id = ?
	`, id)

	loan, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return nil, engine.ErrLoanNotFound
	}
	if err != nil {
		return nil, err
	}
	return loan, nil
}

func (s *Store) ListLoans(ctx context.Context) ([]engine.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listLoans(ctx, s.db)
}

func listLoans(ctx context.Context, db dbtx) ([]engine.Loan, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, customer_id, principal, annual_rate, term_periods, frequency,
		       interest_type, disbursed_at, status, version, archived, created_at, updated_at
		FROM loans
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	var loans []engine.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, *loan)
	}
	return loans, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*engine.Loan, error) {
	var (
		loan         engine.Loan
		principal    string
		annualRate   string
		disbursedAt  sql.NullString
		createdAt    string
		updatedAt    string
	)

	err := row.Scan(
		&loan.ID, &loan.CustomerID, &principal, &annualRate,
		&loan.TermPeriods, &loan.Frequency, &loan.InterestType,
		&disbursedAt, &loan.Status, &loan.Version, &loan.Archived,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	loan.Principal = mustMoney(principal)
	loan.AnnualRate, _ = decimal.NewFromString(annualRate)
	if disbursedAt.Valid {
		loan.DisbursedAt, _ = time.Parse(time.RFC3339, disbursedAt.String)
	}
	loan.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	loan.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &loan, nil
}

// =============================================================================
// SCHEDULE LINES
// =============================================================================

func (s *Store) ReplaceSchedule(ctx context.Context, loanID engine.LoanID, lines []engine.ScheduleLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return replaceSchedule(ctx, s.db, loanID, lines)
}

func replaceSchedule(ctx context.Context, db dbtx, loanID engine.LoanID, lines []engine.ScheduleLine) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM schedule_lines WHERE loan_id = ?", loanID); err != nil {
		return fmt.Errorf("failed to clear schedule: %w", err)
	}

	query := `
		INSERT INTO schedule_lines
		(id, loan_id, seq, due_date, opening_balance, principal_due, interest_due,
		 total_due, principal_paid, interest_paid, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i := range lines {
		sl := &lines[i]
		_, err := db.ExecContext(ctx, query,
			sl.ID, loanID, sl.Seq,
			sl.DueDate.UTC().Format(time.RFC3339),
			sl.OpeningBalance.Value.String(),
			sl.PrincipalDue.Value.String(),
			sl.InterestDue.Value.String(),
			sl.TotalDue.Value.String(),
			sl.PrincipalPaid.Value.String(),
			sl.InterestPaid.Value.String(),
			sl.Status,
		)
		if err != nil {
			return fmt.Errorf("failed to insert schedule line %d: %w", sl.Seq, err)
		}
	}
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, loanID engine.LoanID) ([]engine.ScheduleLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSchedule(ctx, s.db, loanID)
}

func getSchedule(ctx context.Context, db dbtx, loanID engine.LoanID) ([]engine.ScheduleLine, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, loan_id, seq, due_date, opening_balance, principal_due, interest_due,
		       total_due, principal_paid, interest_paid, status
		FROM schedule_lines
		WHERE loan_id = ?
		ORDER BY seq ASC
	`, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule: %w", err)
	}
	defer rows.Close()

	var lines []engine.ScheduleLine
	for rows.Next() {
		var (
			sl             engine.ScheduleLine
			dueDate        string
			openingBalance string
			principalDue   string
			interestDue    string
			totalDue       string
			principalPaid  string
			interestPaid   string
		)
		if err := rows.Scan(
			&sl.ID, &sl.LoanID, &sl.Seq, &dueDate, &openingBalance,
			&principalDue, &interestDue, &totalDue,
			&principalPaid, &interestPaid, &sl.Status,
		); err != nil {
			return nil, fmt.Errorf("failed to scan schedule line: %w", err)
		}

		sl.DueDate, _ = time.Parse(time.RFC3339, dueDate)
		sl.OpeningBalance = mustMoney(openingBalance)
		sl.PrincipalDue = mustMoney(principalDue)
		sl.InterestDue = mustMoney(interestDue)
		sl.TotalDue = mustMoney(totalDue)
		sl.PrincipalPaid = mustMoney(principalPaid)
		sl.InterestPaid = mustMoney(interestPaid)
		lines = append(lines, sl)
	}
	return lines, rows.Err()
}

func (s *Store) SaveLine(ctx context.Context, line *engine.ScheduleLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveLine(ctx, s.db, line)
}

func saveLine(ctx context.Context, db dbtx, line *engine.ScheduleLine) error {
	res, err := db.ExecContext(ctx, `
		UPDATE schedule_lines SET
			due_date = ?,
			opening_balance = ?,
			principal_due = ?,
			interest_due = ?,
			total_due = ?,
			principal_paid = ?,
			interest_paid = ?,
			status = ?
		WHERE id = ?
	`,
		line.DueDate.UTC().Format(time.RFC3339),
		line.OpeningBalance.Value.String(),
		line.PrincipalDue.Value.String(),
		line.InterestDue.Value.String(),
		line.TotalDue.Value.String(),
		line.PrincipalPaid.Value.String(),
		line.InterestPaid.Value.String(),
		line.Status,
		line.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule line: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return engine.ErrLineNotFound
	}
	return nil
}

// =============================================================================
// PENALTIES
// =============================================================================

func (s *Store) SavePenalty(ctx context.Context, p *engine.Penalty) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return savePenalty(ctx, s.db, p)
}

func savePenalty(ctx context.Context, db dbtx, p *engine.Penalty) error {
	query := `
		INSERT INTO penalties
		(id, loan_id, line_id, type, amount, amount_paid, status, reason,
		 created_at, applied_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			amount_paid = excluded.amount_paid,
			status = excluded.status,
			reason = excluded.reason,
			applied_at = excluded.applied_at,
			resolved_at = excluded.resolved_at
	`

	_, err := db.ExecContext(ctx, query,
		p.ID, p.LoanID, p.LineID, p.Type,
		p.Amount.Value.String(),
		p.AmountPaid.Value.String(),
		p.Status, p.Reason,
		p.CreatedAt.UTC().Format(time.RFC3339),
		nullTimePtr(p.AppliedAt),
		nullTimePtr(p.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save penalty: %w", err)
	}
	return nil
}

func (s *Store) GetPenalty(ctx context.Context, id engine.PenaltyID) (*engine.Penalty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPenalty(ctx, s.db, id)
}

func getPenalty(ctx context.Context, db dbtx, id engine.PenaltyID) (*engine.Penalty, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, loan_id, line_id, type, amount, amount_paid, status, reason,
		       created_at, applied_at, resolved_at
		FROM penalties WHERE id = ?
	`, id)

	p, err := scanPenalty(row)
	if err == sql.ErrNoRows {
		return nil, engine.ErrPenaltyNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) PenaltiesByLoan(ctx context.Context, loanID engine.LoanID) ([]engine.Penalty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return penaltiesByLoan(ctx, s.db, loanID)
}

func penaltiesByLoan(ctx context.Context, db dbtx, loanID engine.LoanID) ([]engine.Penalty, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, loan_id, line_id, type, amount, amount_paid, status, reason,
		       created_at, applied_at, resolved_at
		FROM penalties
		WHERE loan_id = ?
		ORDER BY created_at ASC, id ASC
	`, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query penalties: %w", err)
	}
	defer rows.Close()

	var penalties []engine.Penalty
	for rows.Next() {
		p, err := scanPenalty(rows)
		if err != nil {
			return nil, err
		}
		penalties = append(penalties, *p)
	}
	return penalties, rows.Err()
}

func scanPenalty(row rowScanner) (*engine.Penalty, error) {
	var (
		p          engine.Penalty
		amount     string
		amountPaid string
		reason     sql.NullString
		createdAt  string
		appliedAt  sql.NullString
		resolvedAt sql.NullString
	)

	err := row.Scan(
		&p.ID, &p.LoanID, &p.LineID, &p.Type, &amount, &amountPaid,
		&p.Status, &reason, &createdAt, &appliedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Amount = mustMoney(amount)
	p.AmountPaid = mustMoney(amountPaid)
	p.Reason = reason.String
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if appliedAt.Valid {
		t, _ := time.Parse(time.RFC3339, appliedAt.String)
		p.AppliedAt = &t
	}
	if resolvedAt.Valid {
		t, _ := time.Parse(time.RFC3339, resolvedAt.String)
		p.ResolvedAt = &t
	}
	return &p, nil
}

// =============================================================================
// REPAYMENTS (append-only)
// =============================================================================

func (s *Store) AppendRepayment(ctx context.Context, r *engine.Repayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendRepayment(ctx, s.db, r)
}

func appendRepayment(ctx context.Context, db dbtx, r *engine.Repayment) error {
	query := `
		INSERT INTO repayments
		(id, loan_id, line_id, penalty_id, amount, method, type, status,
		 reference, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		r.ID, r.LoanID, r.LineID, r.PenaltyID,
		r.Amount.Value.String(),
		r.Method, r.Type, r.Status,
		nullString(r.Reference),
		r.Notes,
		r.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append repayment: %w", err)
	}
	return nil
}

func (s *Store) GetRepayment(ctx context.Context, id engine.RepaymentID) (*engine.Repayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRepayment(ctx, s.db, id)
}

func getRepayment(ctx context.Context, db dbtx, id engine.RepaymentID) (*engine.Repayment, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, loan_id, line_id, penalty_id, amount, method, type, status,
		       reference, notes, created_at
		FROM repayments WHERE id = ?
	`, id)

	r, err := scanRepayment(row)
	if err == sql.ErrNoRows {
		return nil, engine.ErrRepaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) RepaymentsByLoan(ctx context.Context, loanID engine.LoanID) ([]engine.Repayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return repaymentsByLoan(ctx, s.db, loanID)
}

func repaymentsByLoan(ctx context.Context, db dbtx, loanID engine.LoanID) ([]engine.Repayment, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, loan_id, line_id, penalty_id, amount, method, type, status,
		       reference, notes, created_at
		FROM repayments
		WHERE loan_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query repayments: %w", err)
	}
	defer rows.Close()

	var repayments []engine.Repayment
	for rows.Next() {
		r, err := scanRepayment(rows)
		if err != nil {
			return nil, err
		}
		repayments = append(repayments, *r)
	}
	return repayments, rows.Err()
}

func (s *Store) UpdateRepaymentStatus(ctx context.Context, id engine.RepaymentID, status engine.RepaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateRepaymentStatus(ctx, s.db, id, status)
}

func updateRepaymentStatus(ctx context.Context, db dbtx, id engine.RepaymentID, status engine.RepaymentStatus) error {
	r, err := getRepayment(ctx, db, id)
	if err != nil {
		return err
	}
	if err := r.Transition(status); err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		"UPDATE repayments SET status = ? WHERE id = ?", r.Status, id)
	if err != nil {
		return fmt.Errorf("failed to update repayment status: %w", err)
	}
	return nil
}

func scanRepayment(row rowScanner) (*engine.Repayment, error) {
	var (
		r         engine.Repayment
		amount    string
		reference sql.NullString
		notes     sql.NullString
		createdAt string
	)

	err := row.Scan(
		&r.ID, &r.LoanID, &r.LineID, &r.PenaltyID, &amount,
		&r.Method, &r.Type, &r.Status, &reference, &notes, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	r.Amount = mustMoney(amount)
	r.Reference = reference.String
	r.Notes = notes.String
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &r, nil
}

// =============================================================================
// LOAN-SCOPED TRANSACTIONS (engine.TxStore interface)
// =============================================================================

// WithLoanTx executes fn within a database transaction scoped to one loan
// aggregate. Any error from fn rolls the whole transaction back, so partial
// allocations never persist. Version conflicts detected by saveLoan inside
// the callback surface as engine.ErrConcurrencyConflict.
func (s *Store) WithLoanTx(ctx context.Context, loanID engine.LoanID, fn func(engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore is the transactional view handed to WithLoanTx callbacks.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) CreateLoan(ctx context.Context, loan *engine.Loan) error {
	return createLoan(ctx, ts.tx, loan)
}

func (ts *txStore) SaveLoan(ctx context.Context, loan *engine.Loan) error {
	return saveLoan(ctx, ts.tx, loan)
}

func (ts *txStore) GetLoan(ctx context.Context, id engine.LoanID) (*engine.Loan, error) {
	return getLoan(ctx, ts.tx, id)
}

func (ts *txStore) ListLoans(ctx context.Context) ([]engine.Loan, error) {
	return listLoans(ctx, ts.tx)
}

func (ts *txStore) ReplaceSchedule(ctx context.Context, loanID engine.LoanID, lines []engine.ScheduleLine) error {
	return replaceSchedule(ctx, ts.tx, loanID, lines)
}

func (ts *txStore) GetSchedule(ctx context.Context, loanID engine.LoanID) ([]engine.ScheduleLine, error) {
	return getSchedule(ctx, ts.tx, loanID)
}

func (ts *txStore) SaveLine(ctx context.Context, line *engine.ScheduleLine) error {
	return saveLine(ctx, ts.tx, line)
}

func (ts *txStore) SavePenalty(ctx context.Context, p *engine.Penalty) error {
	return savePenalty(ctx, ts.tx, p)
}

func (ts *txStore) GetPenalty(ctx context.Context, id engine.PenaltyID) (*engine.Penalty, error) {
	return getPenalty(ctx, ts.tx, id)
}

func (ts *txStore) PenaltiesByLoan(ctx context.Context, loanID engine.LoanID) ([]engine.Penalty, error) {
	return penaltiesByLoan(ctx, ts.tx, loanID)
}

func (ts *txStore) AppendRepayment(ctx context.Context, r *engine.Repayment) error {
	return appendRepayment(ctx, ts.tx, r)
}

func (ts *txStore) GetRepayment(ctx context.Context, id engine.RepaymentID) (*engine.Repayment, error) {
	return getRepayment(ctx, ts.tx, id)
}

func (ts *txStore) RepaymentsByLoan(ctx context.Context, loanID engine.LoanID) ([]engine.Repayment, error) {
	return repaymentsByLoan(ctx, ts.tx, loanID)
}

func (ts *txStore) UpdateRepaymentStatus(ctx context.Context, id engine.RepaymentID, status engine.RepaymentStatus) error {
	return updateRepaymentStatus(ctx, ts.tx, id, status)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"repayments", "penalties", "schedule_lines", "loans"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return nullTime(*t)
}

func mustMoney(s string) engine.Money {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		d = decimal.Zero
	}
	return engine.Money{Value: d}
}
