/*
Package engine provides the core loan repayment computation engine.

PURPOSE:
  This package contains the deterministic math behind a microfinance lending
  backend: installment schedule generation, interest accrual strategies,
  overdue penalty evaluation, waterfall payment allocation, and affordability
  assessment. It is a pure computation layer - persistence and locking are the
  caller's responsibility (see store.go).

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A fixed-point monetary amount backed by decimal.Decimal
  - Loan/Line/Penalty/Repayment IDs: Type-safe identifiers
  - Rate helpers: annual rates are plain decimals (0.12 = 12% p.a.)

DESIGN PRINCIPLES:
  1. Precision: All monetary and rate arithmetic uses decimal.Decimal.
     Binary floats never touch a balance, rate, or allocation.
  2. Immutability: Repayment rows are append-only; corrections happen via
     compensating WAIVED/CANCELLED transitions, never deletion.
  3. Closed vocabularies: Every status field is a typed enum with an explicit
     transition table (loan.go, penalty.go, repayment.go).
  4. Determinism: Same inputs always produce the same schedule, to the cent.

USAGE:
  principal := engine.MustMoney("250000.00")
  rate := engine.MustRate("0.14")
  lines, err := engine.Generator{}.Generate(loan, disbursedAt)

SEE ALSO:
  - calendar.go: Repayment frequency and due-date stepping
  - interest.go: FIXED / REDUCING_BALANCE / FLAT_RATE strategies
  - schedule.go: Schedule generation and partial regeneration
  - allocation.go: Waterfall allocation of incoming payments
*/
package engine

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point monetary amount (minor-unit precision)
// =============================================================================

// Money is a monetary amount. The zero value is zero currency units.
// Amounts are kept at full decimal precision internally and rounded to two
// minor-unit places only at installment boundaries (see interest.go).
type Money struct {
	Value decimal.Decimal
}

func NewMoney(d decimal.Decimal) Money  { return Money{Value: d} }
func NewMoneyFromInt(v int64) Money     { return Money{Value: decimal.NewFromInt(v)} }
func ZeroMoney() Money                  { return Money{Value: decimal.Zero} }

// ParseMoney parses a decimal string ("1500.50"). Money crosses the API
// boundary as strings, never as binary floats.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Value: d}, nil
}

// MustMoney parses a decimal string and panics on failure. Test/config use.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MustRate parses a decimal rate string ("0.14" = 14% p.a.). Test/config use.
func MustRate(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (m Money) Add(o Money) Money              { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money              { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Mul(s decimal.Decimal) Money    { return Money{Value: m.Value.Mul(s)} }
func (m Money) Div(s decimal.Decimal) Money    { return Money{Value: m.Value.Div(s)} }
func (m Money) Neg() Money                     { return Money{Value: m.Value.Neg()} }
func (m Money) Round() Money                   { return Money{Value: m.Value.Round(2)} }
func (m Money) IsZero() bool                   { return m.Value.IsZero() }
func (m Money) IsNegative() bool               { return m.Value.IsNegative() }
func (m Money) IsPositive() bool               { return m.Value.IsPositive() }
func (m Money) Equal(o Money) bool             { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool       { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool          { return m.Value.LessThan(o.Value) }
func (m Money) Min(o Money) Money              { if m.LessThan(o) { return m }; return o }

// String renders the amount with two minor-unit places, the wire format for
// all monetary fields.
func (m Money) String() string { return m.Value.StringFixed(2) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type LoanID string
type LineID string
type PenaltyID string
type RepaymentID string
