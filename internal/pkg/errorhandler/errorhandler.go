package errorhandler

import (
	"context"
	"errors"
	"net/http"

	"github.com/farepay/farepay-api/internal/pkg/logger"
	"github.com/farepay/farepay-api/internal/pkg/response"
)

// Mapping renders a domain sentinel error as an HTTP error response.
type Mapping struct {
	Err     error
	Status  int
	Code    string
	Message string
}

// Handle writes the response for the first mapping whose error matches err.
// Unmapped errors are logged with the request's logger and reported as a
// retryable internal error.
func Handle(ctx context.Context, w http.ResponseWriter, err error, mappings ...Mapping) {
	for _, m := range mappings {
		if errors.Is(err, m.Err) {
			logger.FromContext(ctx).Debug().
				Err(err).
				Str("error_code", m.Code).
				Int("status_code", m.Status).
				Msg("Request rejected")
			response.Error(w, m.Status, m.Code, m.Message)
			return
		}
	}

	HandleInternal(ctx, w, err)
}

// HandleInternal logs err and sends a 500 response.
func HandleInternal(ctx context.Context, w http.ResponseWriter, err error) {
	logger.FromContext(ctx).Error().
		Err(err).
		Str("error_code", "INTERNAL_ERROR").
		Int("status_code", http.StatusInternalServerError).
		Msg("Request error")
	response.InternalError(w)
}

// LogValidationError logs validation errors with details
func LogValidationError(ctx context.Context, fieldErrors map[string]string) {
	logger.FromContext(ctx).Warn().
		Interface("validation_errors", fieldErrors).
		Msg("Validation error")
}
