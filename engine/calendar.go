package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FREQUENCY - How often installments fall due
// =============================================================================

type Frequency string

const (
	FreqDaily     Frequency = "DAILY"
	FreqWeekly    Frequency = "WEEKLY"
	FreqBiweekly  Frequency = "BIWEEKLY"
	FreqMonthly   Frequency = "MONTHLY"
	FreqQuarterly Frequency = "QUARTERLY"
	FreqBiannual  Frequency = "BIANNUAL"
	FreqAnnual    Frequency = "ANNUAL"

	// FreqBullet produces a single installment at term end covering the full
	// principal plus total accrued interest. The loan term is expressed in
	// months for bullet loans.
	FreqBullet Frequency = "BULLET"
)

func (f Frequency) Valid() bool {
	switch f {
	case FreqDaily, FreqWeekly, FreqBiweekly, FreqMonthly, FreqQuarterly,
		FreqBiannual, FreqAnnual, FreqBullet:
		return true
	}
	return false
}

// PeriodsPerYear returns how many installment periods make up a year.
// Bullet loans have no recurring period; callers must special-case them.
func (f Frequency) PeriodsPerYear() int64 {
	switch f {
	case FreqDaily:
		return 365
	case FreqWeekly:
		return 52
	case FreqBiweekly:
		return 26
	case FreqMonthly:
		return 12
	case FreqQuarterly:
		return 4
	case FreqBiannual:
		return 2
	case FreqAnnual:
		return 1
	default:
		return 0
	}
}

// stepDays returns the fixed day-count for day-stepped frequencies, 0 for
// calendar-month frequencies.
func (f Frequency) stepDays() int {
	switch f {
	case FreqDaily:
		return 1
	case FreqWeekly:
		return 7
	case FreqBiweekly:
		return 14
	default:
		return 0
	}
}

// stepMonths returns the month increment for calendar-stepped frequencies.
func (f Frequency) stepMonths() int {
	switch f {
	case FreqMonthly:
		return 1
	case FreqQuarterly:
		return 3
	case FreqBiannual:
		return 6
	case FreqAnnual:
		return 12
	default:
		return 0
	}
}

// TermYears converts a term of n periods into years as a decimal.
// For bullet loans the term is in months.
func (f Frequency) TermYears(termPeriods int) decimal.Decimal {
	n := decimal.NewFromInt(int64(termPeriods))
	if f == FreqBullet {
		return n.Div(decimal.NewFromInt(12))
	}
	return n.Div(decimal.NewFromInt(f.PeriodsPerYear()))
}

// =============================================================================
// DUE DATE STEPPING
// =============================================================================

// DueDate returns the n-th due date (1-based) for a loan disbursed at the
// given date. Month-stepped frequencies keep the disbursement day-of-month,
// clamped to shorter months: a loan disbursed January 31 falls due
// February 28 (or 29), then March 31. Day-stepped frequencies use a fixed
// day-count. Bullet loans fall due termPeriods months after disbursement.
func DueDate(disbursed time.Time, f Frequency, n int, termPeriods int) time.Time {
	if f == FreqBullet {
		return addMonthsClamped(disbursed, termPeriods)
	}
	if d := f.stepDays(); d > 0 {
		return disbursed.AddDate(0, 0, n*d)
	}
	return addMonthsClamped(disbursed, n*f.stepMonths())
}

// addMonthsClamped advances by whole calendar months, keeping the original
// day-of-month and clamping to the last day of shorter months. This differs
// from time.AddDate, which normalizes Jan 31 + 1 month to March 2/3.
func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	total := int(m) - 1 + months
	ny := y + total/12
	nm := time.Month(total%12 + 1)
	if total < 0 {
		// Go's integer division truncates toward zero; fix up negatives.
		ny = y + (total-11)/12
		nm = time.Month((total%12+12)%12 + 1)
	}
	if last := daysIn(ny, nm); d > last {
		d = last
	}
	return time.Date(ny, nm, d, 0, 0, 0, 0, t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DateOnly truncates a timestamp to midnight UTC. Due dates and scan times
// are compared at day granularity.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
