/**
 * @description
 * This file sets up the HTTP router for the ledger-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication and rate limiting.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/cuz/ledger-service/internal/app"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig carries the security settings the routes need.
type RouterConfig struct {
	Auth           OperatorAuthConfig
	InternalAPIKey string
	RateLimiter    app.RateLimiter
}

// LedgerRoutes creates and returns a new router for the ledger service.
func LedgerRoutes(h *LedgerHandlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", healthHandler)

	r.Route("/bank", func(r chi.Router) {
		r.Get("/health", healthHandler)

		// Operator endpoints.
		r.Group(func(r chi.Router) {
			r.Use(OperatorAuthMiddleware(cfg.Auth))

			r.With(RateLimitMiddleware(cfg.RateLimiter, app.DepositScope)).Post("/deposit", h.DepositHandler)
			r.With(RateLimitMiddleware(cfg.RateLimiter, app.TransferScope)).Post("/transfer", h.TransferHandler)
			r.Get("/transactions/{accountNumber}", h.TransactionHistoryHandler)
			r.Get("/accounts/{accountNumber}", h.GetAccountHandler)
		})

		// Server-to-server endpoints.
		r.Group(func(r chi.Router) {
			r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))
			r.Post("/internal/accounts", h.OpenAccountHandler)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("healthy"))
}
