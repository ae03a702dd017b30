package ledger

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/farepay/farepay-api/internal/middleware"
	"github.com/farepay/farepay-api/internal/pkg/errorhandler"
	"github.com/farepay/farepay-api/internal/pkg/response"
	"github.com/farepay/farepay-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

type topUpRequest struct {
	UserID      uuid.UUID       `json:"user_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"money"`
	ReferenceID string          `json:"reference_id" validate:"omitempty,max=100"`
}

type balanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

var ledgerErrors = []errorhandler.Mapping{
	{Err: ErrInvalidAmount, Status: http.StatusUnprocessableEntity, Code: "INVALID_AMOUNT", Message: "Amount must be positive with at most 2 decimal places and within the top-up limit"},
	{Err: ErrAccountNotFound, Status: http.StatusNotFound, Code: "ACCOUNT_NOT_FOUND", Message: "No user with that id"},
	{Err: ErrReferenceConflict, Status: http.StatusConflict, Code: "REFERENCE_CONFLICT", Message: "reference_id already used with a different amount"},
}

// Balance handles GET /wallet/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.svc.GetBalance(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		errorhandler.HandleInternal(r.Context(), w, err)
		return
	}
	response.OK(w, balanceResponse{Balance: balance})
}

// TopUp handles POST /wallet/topup. Admin only: it credits the named user
// and there is no funding source behind it.
func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	balance, err := h.svc.TopUp(r.Context(), req.UserID, req.Amount, req.ReferenceID)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err, ledgerErrors...)
		return
	}
	log.Info().
		Str("admin_id", middleware.GetUserID(r.Context()).String()).
		Str("user_id", req.UserID.String()).
		Str("amount", req.Amount.StringFixed(2)).
		Msg("admin topup")
	response.OK(w, balanceResponse{Balance: balance})
}

// Entries handles GET /wallet/entries
func (h *Handler) Entries(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.svc.ListEntries(r.Context(), middleware.GetUserID(r.Context()), limit)
	if err != nil {
		errorhandler.HandleInternal(r.Context(), w, err)
		return
	}
	response.OK(w, entries)
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/balance", h.Balance)
	r.With(middleware.RequireRole("admin")).Post("/topup", h.TopUp)
	r.Get("/entries", h.Entries)
	return r
}
