package merchant

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/farepay/farepay-api/internal/middleware"
	"github.com/farepay/farepay-api/internal/pkg/errorhandler"
	"github.com/farepay/farepay-api/internal/pkg/response"
)

// Handler exposes the caller's vehicles
type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// Routes returns merchant router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.With(middleware.RequireDriver()).Get("/", h.ListMine)
	return r
}

// ListMine handles GET /merchants
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.ListByOwner(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		errorhandler.HandleInternal(r.Context(), w, err)
		return
	}
	if items == nil {
		items = []*Merchant{}
	}
	response.OK(w, items)
}
