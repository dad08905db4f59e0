/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests

ROUTE GROUPS:
  /api/users/*          Accounts, login, balances
  /api/transactions/*   Claims, history, event log, lifecycle transitions

Role requirements follow the access-gate tables in middleware.go: only
plain users pay and create claims, only privileged roles tax, only admins
touch balances directly. Pay and Return additionally require an OTP code.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/vector/ledger-engine/ledger"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-OTP-Code"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Account routes
		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.Register)
			r.Post("/login", h.Login)

			r.Group(func(r chi.Router) {
				r.Use(h.Authenticate)

				r.Get("/me", h.Me)
				r.Put("/me", h.UpdateMe)
				r.Delete("/me", h.DeleteMe)

				r.With(RequireRole(ledger.RoleAdmin)).
					Post("/authority", h.CreateAuthority)

				r.With(RequireRole(ledger.RoleUser)).
					Get("/me/balance", h.MyBalance)

				r.Group(func(r chi.Router) {
					r.Use(RequireRole(ledger.RoleAuthority, ledger.RoleAdmin))
					r.Get("/{id}", h.GetAccount)
					r.Get("/{id}/balance", h.GetBalance)
				})

				r.Group(func(r chi.Router) {
					r.Use(RequireRole(ledger.RoleAdmin))
					r.Put("/{id}/balance", h.UpdateBalance(ledger.BalanceSet))
					r.Post("/{id}/deposit", h.UpdateBalance(ledger.BalanceDeposit))
					r.Post("/{id}/withdraw", h.UpdateBalance(ledger.BalanceWithdraw))
				})
			})
		})

		// Transaction routes
		r.Route("/transactions", func(r chi.Router) {
			r.Use(h.Authenticate)

			r.With(RequireRole(ledger.RoleUser)).
				Post("/", h.CreateTransaction)
			r.With(RequireRole(ledger.RoleUser)).
				Get("/history", h.MyHistory)
			r.With(RequireRole(ledger.RoleAuthority, ledger.RoleAdmin)).
				Get("/history/{userId}", h.History)

			r.With(h.RequireOwnership(true)).
				Get("/{id}", h.GetTransaction)
			r.With(h.RequireOwnership(true)).
				Get("/{id}/events", h.ListEvents)

			r.With(RequireRole(ledger.RoleUser), h.RequireOTP).
				Post("/{id}/pay", h.PayTransaction)
			r.With(RequireRole(ledger.RoleAuthority, ledger.RoleAdmin)).
				Post("/{id}/tax", h.TaxTransaction)
			r.With(RequireRole(ledger.RoleUser, ledger.RoleAdmin), h.RequireOwnership(false), h.RequireOTP).
				Post("/{id}/return", h.ReturnTransaction)
			r.With(RequireRole(ledger.RoleUser, ledger.RoleAdmin), h.RequireOwnership(false)).
				Post("/{id}/delete", h.DeleteTransaction)
		})
	})

	return r
}
