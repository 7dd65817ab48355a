/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

MONEY ON THE WIRE:
  Every monetary amount and rate crosses the boundary as a decimal string
  ("1500.50", "0.14"). Binary floats never appear in a payload.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/types.go: Money wire-format rationale
*/
package api

import (
	"time"

	"github.com/pesa/lending-engine/engine"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// LoanDTO represents a loan in API responses.
type LoanDTO struct {
	ID           string `json:"id"`
	CustomerID   string `json:"customer_id"`
	Principal    string `json:"principal"`
	AnnualRate   string `json:"annual_rate"`
	TermPeriods  int    `json:"term_periods"`
	Frequency    string `json:"frequency"`
	InterestType string `json:"interest_type"`
	DisbursedAt  string `json:"disbursed_at,omitempty"`
	Status       string `json:"status"`
	Version      int64  `json:"version"`
	CreatedAt    string `json:"created_at,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

// CreateLoanRequest is the request to create a loan.
type CreateLoanRequest struct {
	CustomerID   string `json:"customer_id"`
	Principal    string `json:"principal"`
	AnnualRate   string `json:"annual_rate"`
	TermPeriods  int    `json:"term_periods"`
	Frequency    string `json:"frequency"`
	InterestType string `json:"interest_type"`
}

// DisburseRequest optionally pins the disbursement date (YYYY-MM-DD).
// Empty means today.
type DisburseRequest struct {
	DisbursedAt string `json:"disbursed_at,omitempty"`
}

// ScheduleLineDTO represents one installment of the repayment plan.
type ScheduleLineDTO struct {
	ID             string `json:"id"`
	Seq            int    `json:"seq"`
	DueDate        string `json:"due_date"`
	OpeningBalance string `json:"opening_balance"`
	PrincipalDue   string `json:"principal_due"`
	InterestDue    string `json:"interest_due"`
	TotalDue       string `json:"total_due"`
	PrincipalPaid  string `json:"principal_paid"`
	InterestPaid   string `json:"interest_paid"`
	Outstanding    string `json:"outstanding"`
	Status         string `json:"status"`
}

// ScheduleSummaryDTO aggregates a schedule for list views.
type ScheduleSummaryDTO struct {
	TotalDue         string `json:"total_due"`
	TotalPrincipal   string `json:"total_principal"`
	TotalInterest    string `json:"total_interest"`
	TotalPaid        string `json:"total_paid"`
	TotalOutstanding string `json:"total_outstanding"`
	LinesTotal       int    `json:"lines_total"`
	LinesPaid        int    `json:"lines_paid"`
	LinesOverdue     int    `json:"lines_overdue"`
	NextDueDate      string `json:"next_due_date,omitempty"`
	CreditBalance    string `json:"credit_balance"`
}

// ScheduleDTO is the full schedule response.
type ScheduleDTO struct {
	LoanID  string             `json:"loan_id"`
	Lines   []ScheduleLineDTO  `json:"lines"`
	Summary ScheduleSummaryDTO `json:"summary"`
}

// AdjustLineRequest reschedules a single installment (YYYY-MM-DD).
type AdjustLineRequest struct {
	LoanID  string `json:"loan_id"`
	DueDate string `json:"due_date"`
}

// RepaymentDTO represents one allocation row of the audit trail.
type RepaymentDTO struct {
	ID        string `json:"id"`
	LoanID    string `json:"loan_id"`
	LineID    string `json:"line_id,omitempty"`
	PenaltyID string `json:"penalty_id,omitempty"`
	Amount    string `json:"amount"`
	Method    string `json:"method,omitempty"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Reference string `json:"reference,omitempty"`
	Notes     string `json:"notes,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateRepaymentRequest is the request to record and allocate a payment.
type CreateRepaymentRequest struct {
	LoanID    string `json:"loan_id"`
	Amount    string `json:"amount"`
	Method    string `json:"method,omitempty"`
	Type      string `json:"type,omitempty"` // empty = waterfall
	Reference string `json:"reference,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// AllocationResponseDTO is the result of one payment allocation.
type AllocationResponseDTO struct {
	Reference  string         `json:"reference"`
	Amount     string         `json:"amount"`
	Allocated  string         `json:"allocated"`
	Credit     string         `json:"credit"`
	LoanStatus string         `json:"loan_status"`
	Repayments []RepaymentDTO `json:"repayments"`
}

// WaiveRepaymentRequest selects the compensating transition.
type WaiveRepaymentRequest struct {
	Status string `json:"status,omitempty"` // WAIVED (default) or CANCELLED
	Reason string `json:"reason,omitempty"`
}

// PenaltyDTO represents a penalty record.
type PenaltyDTO struct {
	ID         string `json:"id"`
	LoanID     string `json:"loan_id"`
	LineID     string `json:"line_id,omitempty"`
	Type       string `json:"type"`
	Amount     string `json:"amount"`
	AmountPaid string `json:"amount_paid"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
	AppliedAt  string `json:"applied_at,omitempty"`
	ResolvedAt string `json:"resolved_at,omitempty"`
}

// CreatePenaltyRequest is the request to raise a manual penalty.
type CreatePenaltyRequest struct {
	LoanID string `json:"loan_id"`
	LineID string `json:"line_id,omitempty"`
	Type   string `json:"type"`
	Amount string `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

// ScanRequest optionally pins the evaluation date (YYYY-MM-DD).
type ScanRequest struct {
	AsOf string `json:"as_of,omitempty"`
}

// ScanResultDTO summarizes one penalty scan run.
type ScanResultDTO struct {
	AsOf          string `json:"as_of"`
	LoansScanned  int    `json:"loans_scanned"`
	NewPenalties  int    `json:"new_penalties"`
	LinesOverdue  int    `json:"lines_overdue"`
	LoansOverdue  int    `json:"loans_overdue"`
}

// CalculatorRequest feeds the affordability assessor. Either a proposed
// installment or full loan terms (from which the first installment is
// derived) must be supplied.
type CalculatorRequest struct {
	MonthlyIncome   string `json:"monthly_income"`
	MonthlyExpenses string `json:"monthly_expenses"`

	ProposedInstallment string `json:"proposed_installment,omitempty"`

	Principal    string `json:"principal,omitempty"`
	AnnualRate   string `json:"annual_rate,omitempty"`
	TermPeriods  int    `json:"term_periods,omitempty"`
	Frequency    string `json:"frequency,omitempty"`
	InterestType string `json:"interest_type,omitempty"`
}

// CalculatorResponseDTO is the affordability verdict.
type CalculatorResponseDTO struct {
	DisposableIncome    string `json:"disposable_income"`
	ProposedInstallment string `json:"proposed_installment"`
	InstallmentRatio    string `json:"installment_ratio"`
	Score               string `json:"score"`
	Level               string `json:"level"`
	Recommendation      string `json:"recommendation"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toLoanDTO(l *engine.Loan) LoanDTO {
	dto := LoanDTO{
		ID:           string(l.ID),
		CustomerID:   l.CustomerID,
		Principal:    l.Principal.String(),
		AnnualRate:   l.AnnualRate.String(),
		TermPeriods:  l.TermPeriods,
		Frequency:    string(l.Frequency),
		InterestType: string(l.InterestType),
		Status:       string(l.Status),
		Version:      l.Version,
		CreatedAt:    l.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    l.UpdatedAt.Format(time.RFC3339),
	}
	if !l.DisbursedAt.IsZero() {
		dto.DisbursedAt = l.DisbursedAt.Format("2006-01-02")
	}
	return dto
}

func toLineDTO(sl *engine.ScheduleLine) ScheduleLineDTO {
	return ScheduleLineDTO{
		ID:             string(sl.ID),
		Seq:            sl.Seq,
		DueDate:        sl.DueDate.Format("2006-01-02"),
		OpeningBalance: sl.OpeningBalance.String(),
		PrincipalDue:   sl.PrincipalDue.String(),
		InterestDue:    sl.InterestDue.String(),
		TotalDue:       sl.TotalDue.String(),
		PrincipalPaid:  sl.PrincipalPaid.String(),
		InterestPaid:   sl.InterestPaid.String(),
		Outstanding:    sl.Outstanding().String(),
		Status:         string(sl.Status),
	}
}

func toRepaymentDTO(r *engine.Repayment) RepaymentDTO {
	return RepaymentDTO{
		ID:        string(r.ID),
		LoanID:    string(r.LoanID),
		LineID:    string(r.LineID),
		PenaltyID: string(r.PenaltyID),
		Amount:    r.Amount.String(),
		Method:    string(r.Method),
		Type:      string(r.Type),
		Status:    string(r.Status),
		Reference: r.Reference,
		Notes:     r.Notes,
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
	}
}

func toRepaymentDTOs(rs []engine.Repayment) []RepaymentDTO {
	dtos := make([]RepaymentDTO, len(rs))
	for i := range rs {
		dtos[i] = toRepaymentDTO(&rs[i])
	}
	return dtos
}

func toPenaltyDTO(p *engine.Penalty) PenaltyDTO {
	dto := PenaltyDTO{
		ID:         string(p.ID),
		LoanID:     string(p.LoanID),
		LineID:     string(p.LineID),
		Type:       string(p.Type),
		Amount:     p.Amount.String(),
		AmountPaid: p.AmountPaid.String(),
		Status:     string(p.Status),
		Reason:     p.Reason,
		CreatedAt:  p.CreatedAt.Format(time.RFC3339),
	}
	if p.AppliedAt != nil {
		dto.AppliedAt = p.AppliedAt.Format(time.RFC3339)
	}
	if p.ResolvedAt != nil {
		dto.ResolvedAt = p.ResolvedAt.Format(time.RFC3339)
	}
	return dto
}

func toPenaltyDTOs(ps []engine.Penalty) []PenaltyDTO {
	dtos := make([]PenaltyDTO, len(ps))
	for i := range ps {
		dtos[i] = toPenaltyDTO(&ps[i])
	}
	return dtos
}

// buildScheduleDTO renders the schedule with its summary block. creditBalance
// is the sum of unconsumed credit rows.
func buildScheduleDTO(loanID engine.LoanID, lines []engine.ScheduleLine, creditBalance engine.Money) ScheduleDTO {
	dto := ScheduleDTO{
		LoanID: string(loanID),
		Lines:  make([]ScheduleLineDTO, len(lines)),
	}

	totalDue := engine.ZeroMoney()
	totalPrincipal := engine.ZeroMoney()
	totalInterest := engine.ZeroMoney()
	totalPaid := engine.ZeroMoney()
	totalOutstanding := engine.ZeroMoney()
	var nextDue string

	for i := range lines {
		sl := &lines[i]
		dto.Lines[i] = toLineDTO(sl)

		totalDue = totalDue.Add(sl.TotalDue)
		totalPrincipal = totalPrincipal.Add(sl.PrincipalDue)
		totalInterest = totalInterest.Add(sl.InterestDue)
		totalPaid = totalPaid.Add(sl.AmountPaid())

		switch sl.Status {
		case engine.LinePaid:
			dto.Summary.LinesPaid++
		case engine.LineOverdue:
			dto.Summary.LinesOverdue++
		}
		if !sl.Status.Settled() {
			totalOutstanding = totalOutstanding.Add(sl.Outstanding())
			if nextDue == "" {
				nextDue = sl.DueDate.Format("2006-01-02")
			}
		}
	}

	dto.Summary.TotalDue = totalDue.String()
	dto.Summary.TotalPrincipal = totalPrincipal.String()
	dto.Summary.TotalInterest = totalInterest.String()
	dto.Summary.TotalPaid = totalPaid.String()
	dto.Summary.TotalOutstanding = totalOutstanding.String()
	dto.Summary.LinesTotal = len(lines)
	dto.Summary.NextDueDate = nextDue
	dto.Summary.CreditBalance = creditBalance.String()
	return dto
}
