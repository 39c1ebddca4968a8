package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/phrazzld/paygate/internal/api/shared"
	"github.com/phrazzld/paygate/internal/capability"
	"github.com/phrazzld/paygate/internal/cooldown"
	"github.com/phrazzld/paygate/internal/domain"
	"github.com/phrazzld/paygate/internal/nbasync"
	"github.com/phrazzld/paygate/internal/store"
	"github.com/phrazzld/paygate/internal/task"
	"github.com/phrazzld/paygate/internal/x402"
)

// ErrValidation is matched by every rejected request input.
var ErrValidation = domain.ErrValidation

// RequestError is a request rejected before any work was done. Its message
// is written to the client as is.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string { return e.Message }

// Unwrap lets errors.Is match ErrValidation.
func (e *RequestError) Unwrap() error { return ErrValidation }

func badRequest(message string) error {
	return &RequestError{Message: message}
}

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	var inputErr *capability.InputError

	switch {
	// Bad request errors
	case errors.Is(err, ErrValidation),
		errors.Is(err, domain.ErrInvalidFormat),
		errors.Is(err, capability.ErrUnknownCapability),
		errors.Is(err, shared.ErrEmptyBody),
		errors.As(err, &inputErr):
		return http.StatusBadRequest

	// Not found errors
	case errors.Is(err, task.ErrJobNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, cooldown.ErrCooldownActive):
		return http.StatusTooManyRequests

	case errors.Is(err, x402.ErrFacilitator):
		return http.StatusBadGateway

	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, store.ErrConnection):
		return http.StatusServiceUnavailable

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err. Only messages
// built for clients are passed through; everything else is generic.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var (
		reqErr    *RequestError
		syncErr   *nbasync.ValidationError
		activeErr *cooldown.ActiveError
		inputErr  *capability.InputError
	)

	switch {
	case errors.As(err, &reqErr):
		return reqErr.Message
	case errors.As(err, &syncErr):
		return syncErr.Message
	case errors.As(err, &activeErr):
		return activeErr.Error()
	case errors.As(err, &inputErr):
		return "invalid input"
	case errors.Is(err, domain.ErrInvalidFormat):
		return "date must be YYYY-MM-DD"
	case errors.Is(err, capability.ErrUnknownCapability):
		return "invalid capability"
	case errors.Is(err, shared.ErrEmptyBody):
		return "request body is required"
	case errors.Is(err, ErrValidation):
		return "invalid request"

	case errors.Is(err, task.ErrJobNotFound):
		return "task not found"
	case errors.Is(err, store.ErrGameNotFound):
		return "game not found"
	case errors.Is(err, store.ErrNotFound):
		return "not found"

	case errors.Is(err, cooldown.ErrCooldownActive):
		return "manual sync cooldown active"
	case errors.Is(err, x402.ErrFacilitator):
		return "payment facilitator unavailable"
	case errors.Is(err, store.ErrUnavailable):
		return "store unavailable"
	case errors.Is(err, store.ErrConnection):
		return "database unavailable"

	default:
		return "An unexpected error occurred"
	}
}

// RespondWithMappedError writes err using the status and safe message of
// the taxonomy above. Cooldown rejections also carry Retry-After in whole
// seconds, rounded up.
func RespondWithMappedError(w http.ResponseWriter, r *http.Request, err error) {
	var opts []shared.ResponseOption
	var activeErr *cooldown.ActiveError
	if errors.As(err, &activeErr) {
		opts = append(opts, shared.WithHeader("Retry-After", retryAfterSeconds(activeErr.RetryAfter)))
	}
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err, opts...)
}

func retryAfterSeconds(d time.Duration) string {
	if d <= 0 {
		return "0"
	}
	return strconv.Itoa(int(math.Ceil(d.Seconds())))
}
