/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus request count and latency per route pattern
  5. CORS:       Cross-origin requests for the web and mobile clients

ROUTE GROUPS:
  /api/accounts/*       Registration, balances, history, withdrawals
  /api/offerings/*      Task catalogue and claims
  /api/tasks/*          Proof submission
  /api/admin/*          Audits, gifts, moderation, settings, reconciliation
  /api/scenarios/*      Demo data (development)
  /health               Liveness
  /metrics              Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ruanggamer/reward-engine/monitoring"
)

// NewRouter creates a new router with all routes configured. An empty
// allowedOrigins allows any origin.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(monitoring.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.Register)
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/transactions", h.GetTransactions)
			r.Get("/{id}/tasks", h.ListAccountTasks)
			r.Post("/{id}/withdrawals", h.RequestWithdrawal)
		})

		r.Route("/offerings", func(r chi.Router) {
			r.Get("/", h.ListOfferings)
			r.Post("/", h.CreateOffering)
			r.Post("/{id}/start", h.StartTask)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/{id}/proof", h.SubmitProof)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/tasks/{id}/approve", h.ApproveTask)
			r.Post("/tasks/{id}/reject", h.RejectTask)
			r.Get("/withdrawals/pending", h.ListPendingWithdrawals)
			r.Post("/withdrawals/{id}/audit", h.AuditWithdrawal)
			r.Post("/gifts", h.Gift)
			r.Patch("/accounts/{id}/ban", h.SetBanned)
			r.Get("/settings", h.GetSettings)
			r.Put("/settings", h.UpdateSettings)
			r.Post("/reconcile", h.TriggerReconciliation)
			r.Get("/reconciliation/runs", h.ListReconciliationRuns)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
