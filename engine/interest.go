/*
interest.go - Interest accrual strategies

PURPOSE:
  Implements the three interest types a loan can carry. Each strategy splits
  the loan into per-period {principal, interest} portions; the schedule
  generator turns those portions into dated ScheduleLines.

STRATEGIES:
  FIXED:
    Interest computed once on the original principal (principal x rate),
    divided evenly across periods. Principal divided evenly. The final period
    absorbs the rounding remainder of both portions, so cumulative rounding
    error is never left outstanding.

  FLAT_RATE:
    Interest = principal x rate x term-in-years, divided evenly. Same
    remainder absorption as FIXED.

  REDUCING_BALANCE:
    Standard annuity. Periodic rate r = annual rate / periods-per-year;
    installment A = P*r*(1+r)^n / ((1+r)^n - 1). Each period's interest is
    the outstanding balance times r; principal is the installment minus
    interest. The final period's principal is clamped to the remaining
    balance exactly, eliminating residual cents.

EDGE CASES:
  - Zero-rate loans route through the reducing-balance path with r = 0,
    collapsing to even principal and zero interest. No division by zero.
  - A term of one period yields a single installment of principal + interest.
  - BULLET frequency yields a single installment at term end; interest
    accrues on the full principal for the whole term.
*/
package engine

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// INTEREST TYPE - Closed vocabulary
// =============================================================================

type InterestType string

const (
	InterestFixed           InterestType = "FIXED"
	InterestReducingBalance InterestType = "REDUCING_BALANCE"
	InterestFlatRate        InterestType = "FLAT_RATE"
)

// InstallmentSplit is one period's principal/interest portion, rounded to
// minor-unit precision.
type InstallmentSplit struct {
	Principal Money
	Interest  Money
}

// InterestStrategy computes the ordered per-period splits for a loan.
// Implementations must guarantee sum(Principal) == principal exactly.
type InterestStrategy interface {
	ComputeInstallments(principal Money, annualRate decimal.Decimal, termPeriods int, freq Frequency) ([]InstallmentSplit, error)
}

// StrategyFor returns the strategy for an interest type.
func StrategyFor(t InterestType) (InterestStrategy, error) {
	switch t {
	case InterestFixed:
		return FixedStrategy{}, nil
	case InterestReducingBalance:
		return ReducingBalanceStrategy{}, nil
	case InterestFlatRate:
		return FlatRateStrategy{}, nil
	default:
		return nil, &ValidationError{Field: "interest_type", Reason: "unsupported"}
	}
}

var one = decimal.NewFromInt(1)

// =============================================================================
// FIXED - One-shot interest on original principal
// =============================================================================

type FixedStrategy struct{}

func (FixedStrategy) ComputeInstallments(principal Money, annualRate decimal.Decimal, termPeriods int, freq Frequency) ([]InstallmentSplit, error) {
	totalInterest := principal.Mul(annualRate).Round()
	if freq == FreqBullet {
		return []InstallmentSplit{{Principal: principal, Interest: totalInterest}}, nil
	}
	return evenSplits(principal, totalInterest, termPeriods), nil
}

// =============================================================================
// FLAT_RATE - Simple interest over the full term
// =============================================================================

type FlatRateStrategy struct{}

func (FlatRateStrategy) ComputeInstallments(principal Money, annualRate decimal.Decimal, termPeriods int, freq Frequency) ([]InstallmentSplit, error) {
	totalInterest := principal.Mul(annualRate).Mul(freq.TermYears(termPeriods)).Round()
	if freq == FreqBullet {
		return []InstallmentSplit{{Principal: principal, Interest: totalInterest}}, nil
	}
	return evenSplits(principal, totalInterest, termPeriods), nil
}

// =============================================================================
// REDUCING_BALANCE - Annuity on outstanding balance
// =============================================================================

type ReducingBalanceStrategy struct{}

func (ReducingBalanceStrategy) ComputeInstallments(principal Money, annualRate decimal.Decimal, termPeriods int, freq Frequency) ([]InstallmentSplit, error) {
	if freq == FreqBullet {
		// A single payment cannot reduce the balance mid-term; interest is
		// simple interest on the full principal for the term.
		totalInterest := principal.Mul(annualRate).Mul(freq.TermYears(termPeriods)).Round()
		return []InstallmentSplit{{Principal: principal, Interest: totalInterest}}, nil
	}

	r := annualRate.Div(decimal.NewFromInt(freq.PeriodsPerYear()))
	if r.IsZero() {
		// Zero-rate collapses to an even principal split with no interest.
		return evenSplits(principal, ZeroMoney(), termPeriods), nil
	}

	// A = P*r*(1+r)^n / ((1+r)^n - 1)
	n := decimal.NewFromInt(int64(termPeriods))
	compound := one.Add(r).Pow(n)
	installment := principal.Value.Mul(r).Mul(compound).Div(compound.Sub(one)).Round(2)

	splits := make([]InstallmentSplit, 0, termPeriods)
	balance := principal
	for i := 1; i <= termPeriods; i++ {
		interest := balance.Mul(r).Round()
		var principalPart Money
		if i == termPeriods {
			// Clamp the final principal to the remaining balance exactly.
			principalPart = balance
		} else {
			principalPart = Money{Value: installment}.Sub(interest)
		}
		balance = balance.Sub(principalPart)
		splits = append(splits, InstallmentSplit{Principal: principalPart, Interest: interest})
	}
	return splits, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// evenSplits divides principal and interest evenly over n periods, rounding
// each period to minor-unit precision. The final period takes the target
// total minus the sum of all prior periods, so the remainder (at most one
// minor unit per portion) is always corrected by period n.
func evenSplits(principal, totalInterest Money, n int) []InstallmentSplit {
	periods := decimal.NewFromInt(int64(n))
	perPrincipal := principal.Div(periods).Round()
	perInterest := totalInterest.Div(periods).Round()

	splits := make([]InstallmentSplit, n)
	var paidPrincipal, paidInterest Money
	for i := 0; i < n-1; i++ {
		splits[i] = InstallmentSplit{Principal: perPrincipal, Interest: perInterest}
		paidPrincipal = paidPrincipal.Add(perPrincipal)
		paidInterest = paidInterest.Add(perInterest)
	}
	splits[n-1] = InstallmentSplit{
		Principal: principal.Sub(paidPrincipal),
		Interest:  totalInterest.Sub(paidInterest),
	}
	return splits
}
