package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/farepay/farepay-api/internal/config"
	"github.com/farepay/farepay-api/internal/domain/auth"
	"github.com/farepay/farepay-api/internal/domain/ledger"
	"github.com/farepay/farepay-api/internal/domain/merchant"
	"github.com/farepay/farepay-api/internal/domain/realtime"
	"github.com/farepay/farepay-api/internal/domain/token"
	"github.com/farepay/farepay-api/internal/domain/transaction"
	"github.com/farepay/farepay-api/internal/middleware"
	"github.com/farepay/farepay-api/internal/pkg/response"
)

// requestTimeout stays below the server WriteTimeout
const requestTimeout = 10 * time.Second

type handlers struct {
	auth         *auth.Handler
	merchants    *merchant.Handler
	tokens       *token.Handler
	transactions *transaction.Handler
	wallet       *ledger.Handler
	realtime     *realtime.Handler

	authMiddleware func(http.Handler) http.Handler
	validateLimit  func(http.Handler) http.Handler
	idempotency    func(http.Handler) http.Handler
	ready          func(ctx context.Context) error
}

func newRouter(cfg *config.Config, h handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.Metrics)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	// WebSocket endpoint; the auth middleware accepts ?access_token= on upgrades
	r.With(h.authMiddleware).Get("/ws", h.realtime.ServeWS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if h.ready != nil {
			if err := h.ready(r.Context()); err != nil {
				response.Error(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Database unreachable")
				return
			}
		}
		response.OK(w, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Mount("/auth", h.auth.Routes(h.authMiddleware))
		r.Mount("/merchants", h.merchants.Routes(h.authMiddleware))
		r.Mount("/tokens", h.tokens.Routes(h.authMiddleware, h.validateLimit))
		r.Mount("/payments", h.transactions.PaymentRoutes(h.authMiddleware, h.idempotency))
		r.Mount("/transactions", h.transactions.TransactionRoutes(h.authMiddleware))
		r.Mount("/wallet", h.wallet.Routes(h.authMiddleware))
	})

	return r
}
