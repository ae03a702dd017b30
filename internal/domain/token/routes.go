package token

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/farepay/farepay-api/internal/middleware"
)

// Routes returns token router. validateLimit throttles code guessing.
func (h *Handler) Routes(authMiddleware, validateLimit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.With(validateLimit).Post("/validate", h.Validate)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireDriver())
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{code}", h.Get)
	})

	return r
}
