package shared

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/phrazzld/paygate/internal/platform/tracing"
)

// TraceHeader carries the trace ID back to the client, so a failed task
// creation or payment can be matched with server logs.
const TraceHeader = "X-Trace-Id"

type traceIDKey struct{}

// SetTraceID stores a trace ID in the context. The ID of the active
// OpenTelemetry span is used when there is one, so logs and exported traces
// share an identifier; otherwise a random 32-character hex ID is generated.
func SetTraceID(ctx context.Context) context.Context {
	traceID := tracing.TraceID(ctx)
	if traceID == "" {
		traceID = newTraceID()
	}
	return WithTraceID(ctx, traceID)
}

// WithTraceID stores a known trace ID in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// GetTraceID returns the request's trace ID, or "" outside a request.
func GetTraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(traceIDKey{}).(string)
	return traceID
}

func newTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
