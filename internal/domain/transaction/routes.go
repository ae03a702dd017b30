package transaction

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/farepay/farepay-api/internal/middleware"
)

// PaymentRoutes returns the /payments router. idempotency wraps payment submission.
func (h *Handler) PaymentRoutes(authMiddleware, idempotency func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Get("/methods", h.Methods)
	r.With(middleware.RequirePassenger(), idempotency).Post("/", h.Pay)

	return r
}

// TransactionRoutes returns the /transactions router
func (h *Handler) TransactionRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Get("/", h.List)
	r.Get("/stats", h.Stats)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/receipt", h.Receipt)
	r.With(middleware.RequireDriver()).Post("/{id}/reverse", h.Reverse)

	return r
}
