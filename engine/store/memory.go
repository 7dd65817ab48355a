// Package store provides engine.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/pesa/lending-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	loans      map[engine.LoanID]engine.Loan
	schedules  map[engine.LoanID][]engine.ScheduleLine
	penalties  map[engine.PenaltyID]engine.Penalty
	repayments map[engine.RepaymentID]engine.Repayment
	repayOrder []engine.RepaymentID

	loanLocks map[engine.LoanID]*sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{
		loans:      make(map[engine.LoanID]engine.Loan),
		schedules:  make(map[engine.LoanID][]engine.ScheduleLine),
		penalties:  make(map[engine.PenaltyID]engine.Penalty),
		repayments: make(map[engine.RepaymentID]engine.Repayment),
		loanLocks:  make(map[engine.LoanID]*sync.Mutex),
	}
}

func (m *Memory) CreateLoan(_ context.Context, loan *engine.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan.Version = 1
	m.loans[loan.ID] = *loan
	return nil
}

func (m *Memory) SaveLoan(_ context.Context, loan *engine.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.loans[loan.ID]
	if !ok {
		return engine.ErrLoanNotFound
	}
	if current.Version != loan.Version {
		return engine.ErrConcurrencyConflict
	}
	loan.Version++
	m.loans[loan.ID] = *loan
	return nil
}

func (m *Memory) GetLoan(_ context.Context, id engine.LoanID) (*engine.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loan, ok := m.loans[id]
	if !ok {
		return nil, engine.ErrLoanNotFound
	}
	return &loan, nil
}

func (m *Memory) ListLoans(_ context.Context) ([]engine.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loans := make([]engine.Loan, 0, len(m.loans))
	for _, l := range m.loans {
		loans = append(loans, l)
	}
	sort.Slice(loans, func(i, j int) bool { return loans[i].CreatedAt.Before(loans[j].CreatedAt) })
	return loans, nil
}

func (m *Memory) ReplaceSchedule(_ context.Context, loanID engine.LoanID, lines []engine.ScheduleLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[loanID] = append([]engine.ScheduleLine(nil), lines...)
	return nil
}

func (m *Memory) GetSchedule(_ context.Context, loanID engine.LoanID) ([]engine.ScheduleLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]engine.ScheduleLine(nil), m.schedules[loanID]...), nil
}

func (m *Memory) SaveLine(_ context.Context, line *engine.ScheduleLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lines := m.schedules[line.LoanID]
	for i := range lines {
		if lines[i].ID == line.ID {
			lines[i] = *line
			return nil
		}
	}
	return engine.ErrLineNotFound
}

func (m *Memory) SavePenalty(_ context.Context, p *engine.Penalty) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.penalties[p.ID] = *p
	return nil
}

func (m *Memory) GetPenalty(_ context.Context, id engine.PenaltyID) (*engine.Penalty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.penalties[id]
	if !ok {
		return nil, engine.ErrPenaltyNotFound
	}
	return &p, nil
}

func (m *Memory) PenaltiesByLoan(_ context.Context, loanID engine.LoanID) ([]engine.Penalty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.Penalty
	for _, p := range m.penalties {
		if p.LoanID == loanID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) AppendRepayment(_ context.Context, r *engine.Repayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repayments[r.ID] = *r
	m.repayOrder = append(m.repayOrder, r.ID)
	return nil
}

func (m *Memory) GetRepayment(_ context.Context, id engine.RepaymentID) (*engine.Repayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.repayments[id]
	if !ok {
		return nil, engine.ErrRepaymentNotFound
	}
	return &r, nil
}

func (m *Memory) RepaymentsByLoan(_ context.Context, loanID engine.LoanID) ([]engine.Repayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.Repayment
	for _, id := range m.repayOrder {
		if r := m.repayments[id]; r.LoanID == loanID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) UpdateRepaymentStatus(_ context.Context, id engine.RepaymentID, status engine.RepaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.repayments[id]
	if !ok {
		return engine.ErrRepaymentNotFound
	}
	if err := r.Transition(status); err != nil {
		return err
	}
	m.repayments[id] = r
	return nil
}

// =============================================================================
// LOAN-SCOPED TRANSACTIONS
// =============================================================================

// WithLoanTx serializes mutation of one loan aggregate with a per-loan
// mutex, restoring a snapshot of the aggregate if fn fails. The version
// check in SaveLoan still applies, mirroring the optimistic check the
// SQLite store performs.
func (m *Memory) WithLoanTx(_ context.Context, loanID engine.LoanID, fn func(engine.Store) error) error {
	m.mu.Lock()
	lock, ok := m.loanLocks[loanID]
	if !ok {
		lock = &sync.Mutex{}
		m.loanLocks[loanID] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	snap := m.snapshot(loanID)
	if err := fn(m); err != nil {
		m.restore(loanID, snap)
		return err
	}
	return nil
}

type aggregateSnapshot struct {
	loan       *engine.Loan
	lines      []engine.ScheduleLine
	penalties  []engine.Penalty
	repayments map[engine.RepaymentID]engine.Repayment
}

func (m *Memory) snapshot(loanID engine.LoanID) aggregateSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var snap aggregateSnapshot
	if loan, ok := m.loans[loanID]; ok {
		snap.loan = &loan
	}
	snap.lines = append([]engine.ScheduleLine(nil), m.schedules[loanID]...)
	for _, p := range m.penalties {
		if p.LoanID == loanID {
			snap.penalties = append(snap.penalties, p)
		}
	}
	snap.repayments = make(map[engine.RepaymentID]engine.Repayment)
	for id, r := range m.repayments {
		if r.LoanID == loanID {
			snap.repayments[id] = r
		}
	}
	return snap
}

func (m *Memory) restore(loanID engine.LoanID, snap aggregateSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.loan != nil {
		m.loans[loanID] = *snap.loan
	} else {
		delete(m.loans, loanID)
	}
	m.schedules[loanID] = snap.lines
	for id, p := range m.penalties {
		if p.LoanID == loanID {
			delete(m.penalties, id)
		}
	}
	for _, p := range snap.penalties {
		m.penalties[p.ID] = p
	}
	// Drop order entries for this loan's rows appended by the failed
	// callback. Rows appended for other loans in the interim keep their
	// positions in the trail.
	order := m.repayOrder[:0]
	for _, id := range m.repayOrder {
		if r, ok := m.repayments[id]; ok && r.LoanID == loanID {
			if _, kept := snap.repayments[id]; !kept {
				continue
			}
		}
		order = append(order, id)
	}
	m.repayOrder = order

	for id, r := range m.repayments {
		if r.LoanID == loanID {
			delete(m.repayments, id)
		}
	}
	for id, r := range snap.repayments {
		m.repayments[id] = r
	}
}
