package auth

import (
	"errors"
	"net/http"

	"github.com/farepay/farepay-api/internal/domain/user"
	"github.com/farepay/farepay-api/internal/middleware"
	"github.com/farepay/farepay-api/internal/pkg/errorhandler"
	"github.com/farepay/farepay-api/internal/pkg/response"
	"github.com/farepay/farepay-api/internal/pkg/validator"
)

// Handler handles auth HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates auth handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Login handles POST /auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	result, err := h.service.Login(r.Context(), &req)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err,
			errorhandler.Mapping{Err: ErrInvalidCredentials, Status: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: "Invalid email or password"},
			errorhandler.Mapping{Err: ErrUserInactive, Status: http.StatusForbidden, Code: "FORBIDDEN", Message: "Account is inactive"},
		)
		return
	}

	response.OK(w, result)
}

// Me handles GET /auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Me(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			response.NotFound(w, "User not found")
			return
		}
		errorhandler.HandleInternal(r.Context(), w, err)
		return
	}
	response.OK(w, result)
}
