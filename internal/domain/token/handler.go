package token

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/farepay/farepay-api/internal/domain/merchant"
	"github.com/farepay/farepay-api/internal/middleware"
	"github.com/farepay/farepay-api/internal/pkg/errorhandler"
	"github.com/farepay/farepay-api/internal/pkg/response"
	"github.com/farepay/farepay-api/internal/pkg/validator"
)

// Handler handles token HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates token handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type validateRequest struct {
	Code string `json:"code" validate:"required"`
}

// ErrorMappings renders token errors. Shared with the payment endpoints.
var ErrorMappings = []errorhandler.Mapping{
	{Err: ErrInvalidCode, Status: http.StatusBadRequest, Code: "INVALID_INPUT", Message: "Invalid token code. Must be 8 characters A-Z or 0-9"},
	{Err: ErrInvalidAmount, Status: http.StatusUnprocessableEntity, Code: "INVALID_AMOUNT", Message: "Amount is outside the allowed range"},
	{Err: ErrTokenNotFound, Status: http.StatusNotFound, Code: "TOKEN_NOT_FOUND", Message: "Token not found"},
	{Err: ErrTokenExpired, Status: http.StatusGone, Code: "TOKEN_EXPIRED", Message: "Token has expired"},
	{Err: ErrTokenAlreadyUsed, Status: http.StatusConflict, Code: "TOKEN_ALREADY_USED", Message: "Token has already been used"},
	{Err: merchant.ErrMerchantNotFound, Status: http.StatusNotFound, Code: "MERCHANT_NOT_FOUND", Message: "Merchant not found"},
	{Err: ErrMerchantInactive, Status: http.StatusConflict, Code: "MERCHANT_INACTIVE", Message: "Merchant is inactive"},
	{Err: ErrForbidden, Status: http.StatusForbidden, Code: "FORBIDDEN", Message: "Merchant belongs to another user"},
}

func actorFrom(r *http.Request) Actor {
	return Actor{
		UserID:  middleware.GetUserID(r.Context()),
		IsAdmin: middleware.GetRole(r.Context()) == "admin",
	}
}

// Create handles POST /tokens
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	t, err := h.service.Create(r.Context(), actorFrom(r), req)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err, ErrorMappings...)
		return
	}
	response.Created(w, t.ToResponse())
}

// Validate handles POST /tokens/validate
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	v, err := h.service.Validate(r.Context(), req.Code)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err, ErrorMappings...)
		return
	}
	response.OK(w, v.ToValidationResponse())
}

// Get handles GET /tokens/{code}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.Get(r.Context(), actorFrom(r), chi.URLParam(r, "code"))
	if err != nil {
		errorhandler.Handle(r.Context(), w, err, ErrorMappings...)
		return
	}
	response.OK(w, v.ToResponse())
}

// List handles GET /tokens?merchant_id=&limit=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	merchantID, err := uuid.Parse(r.URL.Query().Get("merchant_id"))
	if err != nil {
		response.BadRequest(w, "merchant_id is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	items, err := h.service.ListByMerchant(r.Context(), actorFrom(r), merchantID, limit)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err, ErrorMappings...)
		return
	}

	out := make([]TokenResponse, 0, len(items))
	for _, t := range items {
		out = append(out, t.ToResponse())
	}
	response.OK(w, out)
}
