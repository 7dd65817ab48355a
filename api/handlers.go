/*
handlers.go - HTTP API handlers for the lending engine

PURPOSE:
  Exposes the loan scheduling and allocation engine via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to the engine.

ENDPOINTS:
  Loans:
    GET    /api/loans                    List all loans
    POST   /api/loans                    Create loan
    GET    /api/loans/{id}               Get loan details
    POST   /api/loans/{id}/approve       PENDING -> APPROVED
    POST   /api/loans/{id}/cancel        Cancel before activation
    POST   /api/loans/{id}/disburse      Generate schedule, loan ACTIVE
    POST   /api/loans/calculator         Affordability assessment (stateless)

  Schedules:
    GET    /api/repayments/loan/{id}/schedule           Schedule + summary
    POST   /api/repayments/loan/{id}/schedule/generate  Regenerate unpaid tail
    POST   /api/repayments/schedule/{id}/adjust         Reschedule one line

  Repayments:
    POST   /api/repayments/create        Record + allocate a payment
    GET    /api/repayments/loan/{id}     Allocation history
    POST   /api/repayments/{id}/waive    Compensating reversal

  Penalties:
    POST   /api/repayments/penalties/create
    GET    /api/repayments/penalties/loan/{id}
    POST   /api/repayments/penalties/{id}/apply
    POST   /api/repayments/penalties/{id}/waive
    POST   /api/repayments/penalties/scan    Manual trigger of the cron scan

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Open a loan-scoped transaction for any mutation (WithLoanTx)
  4. Call engine logic, persist results
  5. Serialize response

ERROR HANDLING:
  Engine errors map onto HTTP status via the error taxonomy:
  - 400: ErrValidation, ErrIllegalTransition, malformed input
  - 404: *NotFound sentinels
  - 409: ErrConcurrencyConflict (caller retries the whole call)
  - 422: ErrAllocation (payment recorded as FAILED, never dropped)
  - 500: ErrInvariantViolation and everything else

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scheduler.go: Cron-driven penalty scan
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pesa/lending-engine/engine"
	"github.com/pesa/lending-engine/store/cache"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store engine.TxStore
	Cache cache.ScheduleCache
	Log   *logrus.Logger

	Generator engine.Generator
	Allocator engine.Allocator
	Penalties engine.PenaltyEngine
	Afford    engine.AffordabilityPolicy
}

// NewHandler creates a new handler with the given store and policies.
func NewHandler(store engine.TxStore, scheduleCache cache.ScheduleCache, log *logrus.Logger,
	penaltyPolicy engine.PenaltyPolicy, allocPolicy engine.AllocationPolicy, affordPolicy engine.AffordabilityPolicy) *Handler {
	return &Handler{
		Store:     store,
		Cache:     scheduleCache,
		Log:       log,
		Allocator: engine.Allocator{Policy: allocPolicy},
		Penalties: engine.PenaltyEngine{Policy: penaltyPolicy},
		Afford:    affordPolicy,
	}
}

// =============================================================================
// LOAN HANDLERS
// =============================================================================

// ListLoans returns all loans.
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.Store.ListLoans(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list loans", err)
		return
	}

	dtos := make([]LoanDTO, len(loans))
	for i := range loans {
		dtos[i] = toLoanDTO(&loans[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetLoan returns a single loan.
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.Store.GetLoan(r.Context(), engine.LoanID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, "Failed to get loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(loan))
}

// CreateLoan creates a new loan in PENDING status.
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req CreateLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	principal, err := engine.ParseMoney(req.Principal)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid principal (use a decimal string)", err)
		return
	}
	rate, err := engine.ParseMoney(req.AnnualRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid annual_rate (use a decimal string)", err)
		return
	}

	now := time.Now().UTC()
	loan := engine.Loan{
		ID:           engine.LoanID(uuid.NewString()),
		CustomerID:   req.CustomerID,
		Principal:    principal,
		AnnualRate:   rate.Value,
		TermPeriods:  req.TermPeriods,
		Frequency:    engine.Frequency(req.Frequency),
		InterestType: engine.InterestType(req.InterestType),
		Status:       engine.LoanPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := loan.ValidateTerms(); err != nil {
		writeEngineError(w, "Invalid loan terms", err)
		return
	}

	if err := h.Store.CreateLoan(r.Context(), &loan); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create loan", err)
		return
	}

	h.Log.WithFields(logrus.Fields{
		"loan_id":  loan.ID,
		"customer": loan.CustomerID,
		"amount":   loan.Principal.String(),
	}).Info("loan created")

	writeJSON(w, http.StatusCreated, toLoanDTO(&loan))
}

// ApproveLoan moves a loan to APPROVED.
func (h *Handler) ApproveLoan(w http.ResponseWriter, r *http.Request) {
	h.transitionLoan(w, r, engine.LoanApproved)
}

// CancelLoan cancels a loan before activation.
func (h *Handler) CancelLoan(w http.ResponseWriter, r *http.Request) {
	h.transitionLoan(w, r, engine.LoanCancelled)
}

func (h *Handler) transitionLoan(w http.ResponseWriter, r *http.Request, to engine.LoanStatus) {
	loanID := engine.LoanID(chi.URLParam(r, "id"))

	var updated *engine.Loan
	err := h.Store.WithLoanTx(r.Context(), loanID, func(s engine.Store) error {
		loan, err := s.GetLoan(r.Context(), loanID)
		if err != nil {
			return err
		}
		if err := loan.Transition(to); err != nil {
			return err
		}
		loan.UpdatedAt = time.Now().UTC()
		if err := s.SaveLoan(r.Context(), loan); err != nil {
			return err
		}
		updated = loan
		return nil
	})
	if err != nil {
		writeEngineError(w, "Failed to update loan status", err)
		return
	}

	h.Log.WithFields(logrus.Fields{"loan_id": loanID, "status": to}).Info("loan status changed")
	writeJSON(w, http.StatusOK, toLoanDTO(updated))
}

// DisburseLoan activates an approved loan: generates the full repayment
// schedule and moves the loan to ACTIVE.
func (h *Handler) DisburseLoan(w http.ResponseWriter, r *http.Request) {
	loanID := engine.LoanID(chi.URLParam(r, "id"))

	var req DisburseRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	disbursedAt := engine.DateOnly(time.Now().UTC())
	if req.DisbursedAt != "" {
		t, err := time.Parse("2006-01-02", req.DisbursedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid disbursed_at format (use YYYY-MM-DD)", err)
			return
		}
		disbursedAt = engine.DateOnly(t)
	}

	var (
		updated *engine.Loan
		lines   []engine.ScheduleLine
	)
	err := h.Store.WithLoanTx(r.Context(), loanID, func(s engine.Store) error {
		loan, err := s.GetLoan(r.Context(), loanID)
		if err != nil {
			return err
		}
		loan.DisbursedAt = disbursedAt

		generated, err := h.Generator.Generate(loan, disbursedAt)
		if err != nil {
			return err
		}
		if err := loan.Transition(engine.LoanActive); err != nil {
			return err
		}
		loan.UpdatedAt = time.Now().UTC()

		if err := s.ReplaceSchedule(r.Context(), loanID, generated); err != nil {
			return err
		}
		if err := s.SaveLoan(r.Context(), loan); err != nil {
			return err
		}
		updated, lines = loan, generated
		return nil
	})
	if err != nil {
		writeEngineError(w, "Failed to disburse loan", err)
		return
	}

	h.Log.WithFields(logrus.Fields{
		"loan_id":      loanID,
		"disbursed_at": disbursedAt.Format("2006-01-02"),
		"lines":        len(lines),
	}).Info("loan disbursed")

	writeJSON(w, http.StatusOK, buildScheduleDTO(updated.ID, lines, engine.ZeroMoney()))
}

// Calculator runs the affordability assessment. Stateless: nothing persists.
func (h *Handler) Calculator(w http.ResponseWriter, r *http.Request) {
	var req CalculatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	income, err := engine.ParseMoney(req.MonthlyIncome)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid monthly_income", err)
		return
	}
	expenses, err := engine.ParseMoney(req.MonthlyExpenses)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid monthly_expenses", err)
		return
	}

	installment, err := h.proposedInstallment(&req)
	if err != nil {
		writeEngineError(w, "Cannot determine proposed installment", err)
		return
	}

	result := engine.Assess(income, expenses, installment, h.Afford)
	writeJSON(w, http.StatusOK, CalculatorResponseDTO{
		DisposableIncome:    result.DisposableIncome.String(),
		ProposedInstallment: installment.String(),
		InstallmentRatio:    result.InstallmentRatio.Round(2).String(),
		Score:               result.Score.Round(2).String(),
		Level:               string(result.Level),
		Recommendation:      string(result.Recommendation),
	})
}

// proposedInstallment takes the explicit installment if given, otherwise
// derives the first installment from the proposed loan terms.
func (h *Handler) proposedInstallment(req *CalculatorRequest) (engine.Money, error) {
	if req.ProposedInstallment != "" {
		m, err := engine.ParseMoney(req.ProposedInstallment)
		if err != nil {
			return engine.Money{}, &engine.ValidationError{Field: "proposed_installment", Reason: "not a decimal string"}
		}
		return m, nil
	}

	principal, err := engine.ParseMoney(req.Principal)
	if err != nil {
		return engine.Money{}, &engine.ValidationError{Field: "principal", Reason: "not a decimal string"}
	}
	rate, err := engine.ParseMoney(req.AnnualRate)
	if err != nil {
		return engine.Money{}, &engine.ValidationError{Field: "annual_rate", Reason: "not a decimal string"}
	}

	loan := engine.Loan{
		ID:           "calculator",
		Principal:    principal,
		AnnualRate:   rate.Value,
		TermPeriods:  req.TermPeriods,
		Frequency:    engine.Frequency(req.Frequency),
		InterestType: engine.InterestType(req.InterestType),
	}
	if err := loan.ValidateTerms(); err != nil {
		return engine.Money{}, err
	}

	strategy, err := engine.StrategyFor(loan.InterestType)
	if err != nil {
		return engine.Money{}, err
	}
	splits, err := strategy.ComputeInstallments(loan.Principal, loan.AnnualRate, loan.TermPeriods, loan.Frequency)
	if err != nil {
		return engine.Money{}, err
	}
	return splits[0].Principal.Add(splits[0].Interest), nil
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// GetSchedule returns the schedule with its summary block. Responses are
// cached per (loan, version); any aggregate mutation bumps the version and
// naturally misses the stale entry.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	loanID := engine.LoanID(chi.URLParam(r, "id"))

	loan, err := h.Store.GetLoan(ctx, loanID)
	if err != nil {
		writeEngineError(w, "Failed to get loan", err)
		return
	}

	if payload, ok := h.Cache.Get(ctx, loanID, loan.Version); ok {
		writeRawJSON(w, http.StatusOK, payload)
		return
	}

	lines, err := h.Store.GetSchedule(ctx, loanID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load schedule", err)
		return
	}
	credit, err := h.creditBalance(ctx, loanID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load credit balance", err)
		return
	}

	dto := buildScheduleDTO(loanID, lines, credit)
	payload, err := json.Marshal(dto)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to render schedule", err)
		return
	}
	if err := h.Cache.Set(ctx, loanID, loan.Version, payload); err != nil {
		h.Log.WithError(err).Warn("schedule cache write failed")
	}
	writeRawJSON(w, http.StatusOK, payload)
}

// RegenerateSchedule re-amortizes the unpaid tail of the schedule. PAID
// lines are preserved unchanged; everything else is replaced.
func (h *Handler) RegenerateSchedule(w http.ResponseWriter, r *http.Request) {
	loanID := engine.LoanID(chi.URLParam(r, "id"))

	var result []engine.ScheduleLine
	err := h.Store.WithLoanTx(r.Context(), loanID, func(s engine.Store) error {
		loan, err := s.GetLoan(r.Context(), loanID)
		if err != nil {
			return err
		}
		existing, err := s.GetSchedule(r.Context(), loanID)
		if err != nil {
			return err
		}
		regenerated, err := h.Generator.Adjust(loan, existing)
		if err != nil {
			return err
		}
		if err := s.ReplaceSchedule(r.Context(), loanID, regenerated); err != nil {
			return err
		}
		loan.UpdatedAt = time.Now().UTC()
		if err := s.SaveLoan(r.Context(), loan); err != nil {
			return err
		}
		result = regenerated
		return nil
	})
	if err != nil {
		writeEngineError(w, "Failed to regenerate schedule", err)
		return
	}

	h.Log.WithFields(logrus.Fields{"loan_id": loanID, "lines": len(result)}).Info("schedule regenerated")
	writeJSON(w, http.StatusOK, buildScheduleDTO(loanID, result, engine.ZeroMoney()))
}

// AdjustLine reschedules a single installment to a new due date and marks it
// ADJUSTED. Amounts are untouched, so schedule invariants hold by
// construction.
func (h *Handler) AdjustLine(w http.ResponseWriter, r *http.Request) {
	lineID := engine.LineID(chi.URLParam(r, "id"))

	var req AdjustLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	dueDate, err := time.Parse("2006-01-02", req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid due_date format (use YYYY-MM-DD)", err)
		return
	}
	loanID := engine.LoanID(req.LoanID)

	var adjusted *engine.ScheduleLine
	err = h.Store.WithLoanTx(r.Context(), loanID, func(s engine.Store) error {
		loan, err := s.GetLoan(r.Context(), loanID)
		if err != nil {
			return err
		}
		lines, err := s.GetSchedule(r.Context(), loanID)
		if err != nil {
			return err
		}
		for i := range lines {
			sl := &lines[i]
			if sl.ID != lineID {
				continue
			}
			if err := sl.Transition(engine.LineAdjusted); err != nil {
				return err
			}
			sl.DueDate = engine.DateOnly(dueDate)
			if err := s.SaveLine(r.Context(), sl); err != nil {
				return err
			}
			loan.UpdatedAt = time.Now().UTC()
			if err := s.SaveLoan(r.Context(), loan); err != nil {
				return err
			}
			adjusted = sl
			return nil
		}
		return engine.ErrLineNotFound
	})
	if err != nil {
		writeEngineError(w, "Failed to adjust schedule line", err)
		return
	}

	writeJSON(w, http.StatusOK, toLineDTO(adjusted))
}

// =============================================================================
// REPAYMENT HANDLERS
// =============================================================================

// CreateRepayment records an incoming payment and allocates it across the
// loan's obligations via the waterfall. Unconsumed credit from earlier
// payments is folded into the amount first. Unusable payments are recorded
// as FAILED rows, never dropped.
func (h *Handler) CreateRepayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRepaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := engine.ParseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount (use a decimal string)", err)
		return
	}
	loanID := engine.LoanID(req.LoanID)

	var explicitType *engine.RepaymentType
	if req.Type != "" {
		t := engine.RepaymentType(req.Type)
		explicitType = &t
	}

	now := time.Now().UTC()
	var result *engine.AllocationResult
	var total engine.Money
	err = h.Store.WithLoanTx(ctx, loanID, func(s engine.Store) error {
		loan, err := s.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		lines, err := s.GetSchedule(ctx, loanID)
		if err != nil {
			return err
		}
		penalties, err := s.PenaltiesByLoan(ctx, loanID)
		if err != nil {
			return err
		}
		history, err := s.RepaymentsByLoan(ctx, loanID)
		if err != nil {
			return err
		}

		// Fold unconsumed credit rows into the incoming amount. They are
		// marked consumed only after allocation succeeds; an error rolls
		// the whole transaction back.
		total = amount
		var consumed []engine.RepaymentID
		for i := range history {
			rep := &history[i]
			if rep.IsCredit() && rep.Status == engine.RepaymentPending {
				total = total.Add(rep.Amount)
				consumed = append(consumed, rep.ID)
			}
		}

		res, err := h.Allocator.Allocate(engine.AllocationInput{
			Loan:         loan,
			Lines:        lines,
			Penalties:    penalties,
			Amount:       total,
			Method:       engine.RepaymentMethod(req.Method),
			ExplicitType: explicitType,
			Reference:    req.Reference,
			Now:          now,
		})
		if err != nil {
			return err
		}

		for _, id := range consumed {
			if err := s.UpdateRepaymentStatus(ctx, id, engine.RepaymentCompleted); err != nil {
				return err
			}
		}
		for i := range res.Lines {
			if err := s.SaveLine(ctx, &res.Lines[i]); err != nil {
				return err
			}
		}
		for i := range res.Penalties {
			if err := s.SavePenalty(ctx, &res.Penalties[i]); err != nil {
				return err
			}
		}
		for i := range res.Repayments {
			if req.Notes != "" && res.Repayments[i].Notes == "" {
				res.Repayments[i].Notes = req.Notes
			}
			if err := s.AppendRepayment(ctx, &res.Repayments[i]); err != nil {
				return err
			}
		}

		if res.LoanStatus != loan.Status {
			if err := loan.Transition(res.LoanStatus); err != nil {
				return err
			}
		}
		loan.UpdatedAt = now
		if err := s.SaveLoan(ctx, loan); err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		if errors.Is(err, engine.ErrAllocation) {
			h.recordFailedRepayment(ctx, loanID, amount, req, now)
		}
		writeEngineError(w, "Failed to allocate payment", err)
		return
	}

	reference := req.Reference
	if len(result.Repayments) > 0 {
		reference = result.Repayments[0].Reference
	}
	h.Log.WithFields(logrus.Fields{
		"loan_id":   loanID,
		"amount":    total.String(),
		"credit":    result.Credit.String(),
		"reference": reference,
	}).Info("payment allocated")

	writeJSON(w, http.StatusCreated, AllocationResponseDTO{
		Reference:  reference,
		Amount:     total.String(),
		Allocated:  total.Sub(result.Credit).String(),
		Credit:     result.Credit.String(),
		LoanStatus: string(result.LoanStatus),
		Repayments: toRepaymentDTOs(result.Repayments),
	})
}

// recordFailedRepayment keeps the audit trail complete for rejected
// payments. Best-effort: a failure to record is logged, not surfaced.
func (h *Handler) recordFailedRepayment(ctx context.Context, loanID engine.LoanID, amount engine.Money, req CreateRepaymentRequest, now time.Time) {
	failed := engine.Repayment{
		ID:        engine.RepaymentID(uuid.NewString()),
		LoanID:    loanID,
		Amount:    amount,
		Method:    engine.RepaymentMethod(req.Method),
		Type:      engine.RepayPartial,
		Status:    engine.RepaymentFailed,
		Reference: req.Reference,
		Notes:     "allocation rejected",
		CreatedAt: now,
	}
	if req.Type != "" {
		failed.Type = engine.RepaymentType(req.Type)
	}
	if err := h.Store.AppendRepayment(ctx, &failed); err != nil {
		h.Log.WithError(err).WithField("loan_id", loanID).Error("failed to record rejected payment")
	}
}

// ListRepayments returns the allocation history of a loan, oldest first.
func (h *Handler) ListRepayments(w http.ResponseWriter, r *http.Request) {
	loanID := engine.LoanID(chi.URLParam(r, "id"))
	repayments, err := h.Store.RepaymentsByLoan(r.Context(), loanID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list repayments", err)
		return
	}
	writeJSON(w, http.StatusOK, toRepaymentDTOs(repayments))
}

// WaiveRepayment applies a compensating WAIVED/CANCELLED transition to a
// completed repayment, reversing its effect on the target's paid amounts.
// The row itself is never deleted.
func (h *Handler) WaiveRepayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	repID := engine.RepaymentID(chi.URLParam(r, "id"))

	var req WaiveRepaymentRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	to := engine.RepaymentWaived
	if req.Status != "" {
		to = engine.RepaymentStatus(req.Status)
	}

	rep, err := h.Store.GetRepayment(ctx, repID)
	if err != nil {
		writeEngineError(w, "Failed to get repayment", err)
		return
	}

	err = h.Store.WithLoanTx(ctx, rep.LoanID, func(s engine.Store) error {
		current, err := s.GetRepayment(ctx, repID)
		if err != nil {
			return err
		}
		loan, err := s.GetLoan(ctx, current.LoanID)
		if err != nil {
			return err
		}
		lines, err := s.GetSchedule(ctx, current.LoanID)
		if err != nil {
			return err
		}
		penalties, err := s.PenaltiesByLoan(ctx, current.LoanID)
		if err != nil {
			return err
		}

		if err := engine.Reverse(current, to, lines, penalties, time.Now().UTC()); err != nil {
			return err
		}

		switch {
		case current.PenaltyID != "":
			for i := range penalties {
				if penalties[i].ID == current.PenaltyID {
					if err := s.SavePenalty(ctx, &penalties[i]); err != nil {
						return err
					}
				}
			}
		case current.LineID != "":
			for i := range lines {
				if lines[i].ID == current.LineID {
					if err := s.SaveLine(ctx, &lines[i]); err != nil {
						return err
					}
				}
			}
		}

		if err := s.UpdateRepaymentStatus(ctx, repID, to); err != nil {
			return err
		}
		loan.UpdatedAt = time.Now().UTC()
		if err := s.SaveLoan(ctx, loan); err != nil {
			return err
		}
		rep = current
		return nil
	})
	if err != nil {
		writeEngineError(w, "Failed to reverse repayment", err)
		return
	}

	h.Log.WithFields(logrus.Fields{"repayment_id": repID, "status": to}).Info("repayment reversed")
	writeJSON(w, http.StatusOK, toRepaymentDTO(rep))
}

// =============================================================================
// PENALTY HANDLERS
// =============================================================================

// CreatePenalty raises a manual penalty in PENDING status.
func (h *Handler) CreatePenalty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreatePenaltyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := engine.ParseMoney(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "Invalid amount (use a positive decimal string)", err)
		return
	}
	penaltyType := engine.PenaltyType(req.Type)
	if !penaltyType.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown penalty type", nil)
		return
	}
	loanID := engine.LoanID(req.LoanID)

	penalty := engine.Penalty{
		ID:        engine.PenaltyID(uuid.NewString()),
		LoanID:    loanID,
		LineID:    engine.LineID(req.LineID),
		Type:      penaltyType,
		Amount:    amount,
		Status:    engine.PenaltyPending,
		Reason:    req.Reason,
		CreatedAt: time.Now().UTC(),
	}

	err = h.Store.WithLoanTx(ctx, loanID, func(s engine.Store) error {
		loan, err := s.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if err := s.SavePenalty(ctx, &penalty); err != nil {
			return err
		}
		loan.UpdatedAt = time.Now().UTC()
		return s.SaveLoan(ctx, loan)
	})
	if err != nil {
		writeEngineError(w, "Failed to create penalty", err)
		return
	}

	writeJSON(w, http.StatusCreated, toPenaltyDTO(&penalty))
}

// ListPenalties returns all penalties of a loan, oldest first.
func (h *Handler) ListPenalties(w http.ResponseWriter, r *http.Request) {
	loanID := engine.LoanID(chi.URLParam(r, "id"))
	penalties, err := h.Store.PenaltiesByLoan(r.Context(), loanID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list penalties", err)
		return
	}
	writeJSON(w, http.StatusOK, toPenaltyDTOs(penalties))
}

// ApplyPenalty moves a PENDING penalty to APPLIED, making it payable.
// Applying an APPLIED penalty is a no-op (idempotent retries).
func (h *Handler) ApplyPenalty(w http.ResponseWriter, r *http.Request) {
	h.resolvePenalty(w, r, func(p *engine.Penalty, at time.Time) error {
		return p.Apply(at)
	})
}

// WaivePenalty moves a penalty to terminal WAIVED.
func (h *Handler) WaivePenalty(w http.ResponseWriter, r *http.Request) {
	h.resolvePenalty(w, r, func(p *engine.Penalty, at time.Time) error {
		return p.Resolve(engine.PenaltyWaived, at)
	})
}

func (h *Handler) resolvePenalty(w http.ResponseWriter, r *http.Request, mutate func(*engine.Penalty, time.Time) error) {
	ctx := r.Context()
	penaltyID := engine.PenaltyID(chi.URLParam(r, "id"))

	penalty, err := h.Store.GetPenalty(ctx, penaltyID)
	if err != nil {
		writeEngineError(w, "Failed to get penalty", err)
		return
	}

	err = h.Store.WithLoanTx(ctx, penalty.LoanID, func(s engine.Store) error {
		current, err := s.GetPenalty(ctx, penaltyID)
		if err != nil {
			return err
		}
		loan, err := s.GetLoan(ctx, current.LoanID)
		if err != nil {
			return err
		}
		if err := mutate(current, time.Now().UTC()); err != nil {
			return err
		}
		if err := s.SavePenalty(ctx, current); err != nil {
			return err
		}
		loan.UpdatedAt = time.Now().UTC()
		if err := s.SaveLoan(ctx, loan); err != nil {
			return err
		}
		penalty = current
		return nil
	})
	if err != nil {
		writeEngineError(w, "Failed to update penalty", err)
		return
	}

	writeJSON(w, http.StatusOK, toPenaltyDTO(penalty))
}

// ScanPenalties triggers the overdue penalty scan manually. The cron
// scheduler calls the same RunScan.
func (h *Handler) ScanPenalties(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	asOf := time.Now().UTC()
	if req.AsOf != "" {
		t, err := time.Parse("2006-01-02", req.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
			return
		}
		asOf = t
	}

	result, err := h.RunScan(r.Context(), asOf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Penalty scan failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RunScan evaluates every ACTIVE/OVERDUE loan as of the given date: emits
// and applies penalties for installments overdue past the grace period,
// moves those lines to OVERDUE, and flags the loan OVERDUE. Idempotent for a
// fixed date: live penalties suppress re-emission.
func (h *Handler) RunScan(ctx context.Context, asOf time.Time) (ScanResultDTO, error) {
	result := ScanResultDTO{AsOf: engine.DateOnly(asOf).Format("2006-01-02")}

	loans, err := h.Store.ListLoans(ctx)
	if err != nil {
		return result, err
	}

	for i := range loans {
		loan := &loans[i]
		if loan.Status != engine.LoanActive && loan.Status != engine.LoanOverdue {
			continue
		}
		result.LoansScanned++

		err := h.Store.WithLoanTx(ctx, loan.ID, func(s engine.Store) error {
			current, err := s.GetLoan(ctx, loan.ID)
			if err != nil {
				return err
			}
			lines, err := s.GetSchedule(ctx, loan.ID)
			if err != nil {
				return err
			}
			penalties, err := s.PenaltiesByLoan(ctx, loan.ID)
			if err != nil {
				return err
			}

			scan := h.Penalties.Scan(current, lines, penalties, asOf)
			if len(scan.NewPenalties) == 0 && len(scan.OverdueSeqs) == 0 {
				return nil
			}

			for j := range scan.NewPenalties {
				p := &scan.NewPenalties[j]
				if err := p.Apply(asOf); err != nil {
					return err
				}
				if err := s.SavePenalty(ctx, p); err != nil {
					return err
				}
			}
			result.NewPenalties += len(scan.NewPenalties)

			overdue := make(map[int]bool, len(scan.OverdueSeqs))
			for _, seq := range scan.OverdueSeqs {
				overdue[seq] = true
			}
			for j := range lines {
				sl := &lines[j]
				if !overdue[sl.Seq] || sl.Status == engine.LineOverdue {
					continue
				}
				if err := sl.Transition(engine.LineOverdue); err != nil {
					return err
				}
				if err := s.SaveLine(ctx, sl); err != nil {
					return err
				}
				result.LinesOverdue++
			}

			if current.Status == engine.LoanActive && len(scan.OverdueSeqs) > 0 {
				if err := current.Transition(engine.LoanOverdue); err != nil {
					return err
				}
				result.LoansOverdue++
			}
			current.UpdatedAt = time.Now().UTC()
			return s.SaveLoan(ctx, current)
		})
		if err != nil {
			h.Log.WithError(err).WithField("loan_id", loan.ID).Error("penalty scan failed for loan")
			return result, err
		}
	}

	h.Log.WithFields(logrus.Fields{
		"as_of":         result.AsOf,
		"loans_scanned": result.LoansScanned,
		"new_penalties": result.NewPenalties,
	}).Info("penalty scan completed")
	return result, nil
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// creditBalance sums unconsumed credit rows for a loan.
func (h *Handler) creditBalance(ctx context.Context, loanID engine.LoanID) (engine.Money, error) {
	repayments, err := h.Store.RepaymentsByLoan(ctx, loanID)
	if err != nil {
		return engine.Money{}, err
	}
	credit := engine.ZeroMoney()
	for i := range repayments {
		r := &repayments[i]
		if r.IsCredit() && r.Status == engine.RepaymentPending {
			credit = credit.Add(r.Amount)
		}
	}
	return credit, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeRawJSON(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(payload)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps the engine's error taxonomy onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	switch {
	case engine.IsNotFound(err):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, engine.ErrConcurrencyConflict):
		status, code = http.StatusConflict, "CONFLICT_RETRY"
	case errors.Is(err, engine.ErrAllocation):
		status, code = http.StatusUnprocessableEntity, "ALLOCATION_REJECTED"
	case errors.Is(err, engine.ErrValidation), errors.Is(err, engine.ErrIllegalTransition):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, engine.ErrInvariantViolation):
		code = "INVARIANT_VIOLATION"
	}

	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
