/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/loans/*        Loan lifecycle and affordability calculator
  /api/repayments/*   Schedules, payment allocation, penalties

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Loan routes
		r.Route("/loans", func(r chi.Router) {
			r.Get("/", h.ListLoans)
			r.Post("/", h.CreateLoan)
			r.Post("/calculator", h.Calculator)
			r.Get("/{id}", h.GetLoan)
			r.Post("/{id}/approve", h.ApproveLoan)
			r.Post("/{id}/cancel", h.CancelLoan)
			r.Post("/{id}/disburse", h.DisburseLoan)
		})

		// Repayment routes
		r.Route("/repayments", func(r chi.Router) {
			r.Post("/create", h.CreateRepayment)
			r.Post("/{id}/waive", h.WaiveRepayment)

			r.Get("/loan/{id}", h.ListRepayments)
			r.Get("/loan/{id}/schedule", h.GetSchedule)
			r.Post("/loan/{id}/schedule/generate", h.RegenerateSchedule)
			r.Post("/schedule/{id}/adjust", h.AdjustLine)

			// Penalty routes
			r.Route("/penalties", func(r chi.Router) {
				r.Post("/create", h.CreatePenalty)
				r.Post("/scan", h.ScanPenalties)
				r.Get("/loan/{id}", h.ListPenalties)
				r.Post("/{id}/apply", h.ApplyPenalty)
				r.Post("/{id}/waive", h.WaivePenalty)
			})
		})
	})

	return r
}
