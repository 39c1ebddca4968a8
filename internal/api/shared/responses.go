package shared

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/phrazzld/paygate/internal/paygate"
	"github.com/phrazzld/paygate/internal/platform/logger"
	"github.com/phrazzld/paygate/internal/redact"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// ResponseOption adjusts how an error response is written or logged.
type ResponseOption func(*responseOptions)

type responseOptions struct {
	headers  http.Header
	logLevel *slog.Level
}

// WithHeader sets a response header before the status is written.
func WithHeader(key, value string) ResponseOption {
	return func(o *responseOptions) {
		if o.headers == nil {
			o.headers = http.Header{}
		}
		o.headers.Set(key, value)
	}
}

// WithLogLevel overrides the level chosen from the status code.
func WithLogLevel(level slog.Level) ResponseOption {
	return func(o *responseOptions) {
		o.logLevel = &level
	}
}

// RespondWithJSON writes data as JSON. Responses describe live task and
// job state, so they are marked uncacheable.
func RespondWithJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.FromContext(r.Context()).Error("failed to encode JSON response", "error", err)
	}
}

// RespondWithError writes an error response for a failure that has no
// underlying error worth logging, such as an unknown route parameter.
func RespondWithError(w http.ResponseWriter, r *http.Request, status int, message string, opts ...ResponseOption) {
	RespondWithErrorAndLog(w, r, status, message, nil, opts...)
}

// RespondWithErrorAndLog writes a JSON error response carrying only
// userMessage and logs the redacted error alongside it.
//
// Log level by status:
//   - 5xx: ERROR
//   - 402 and 429: WARN
//   - other 4xx: DEBUG
func RespondWithErrorAndLog(
	w http.ResponseWriter,
	r *http.Request,
	status int,
	userMessage string,
	err error,
	opts ...ResponseOption,
) {
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	o := responseOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	attrs := []slog.Attr{
		slog.String("trace_id", traceID),
		slog.String("path", r.URL.Path),
		slog.String("method", r.Method),
		slog.Int("status_code", status),
		slog.String("user_message", userMessage),
	}
	if info, ok := paygate.FromContext(ctx); ok {
		if info.PayerAddress != "" {
			attrs = append(attrs, slog.String("payer_address", info.PayerAddress))
		}
		if info.SessionID != "" {
			attrs = append(attrs, slog.String("session_id", info.SessionID))
		}
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("error", redact.Error(err)),
			slog.String("error_type", fmt.Sprintf("%T", err)))
	}

	level := levelForStatus(status)
	if o.logLevel != nil {
		level = *o.logLevel
	}
	logger.FromContext(ctx).LogAttrs(ctx, level, "API error response", attrs...)

	for key, values := range o.headers {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	RespondWithJSON(w, r, status, ErrorResponse{
		Error:   userMessage,
		TraceID: traceID,
	})
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status == http.StatusPaymentRequired, status == http.StatusTooManyRequests:
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}
