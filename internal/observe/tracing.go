package observe

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const (
	// TraceHeader is the standard header for request trace IDs.
	TraceHeader = "X-Request-ID"
)

// traceKey is the context key for the trace ID.
type traceKey struct{}

// GenerateTraceID returns a random UUID in its canonical form.
func GenerateTraceID() string {
	return uuid.NewString()
}

// TraceIDFromRequest resolves the trace ID for r: the one already in the
// context, then the X-Request-ID header, then a fresh one.
func TraceIDFromRequest(r *http.Request) string {
	if id := TraceIDFrom(r.Context()); id != "" {
		return id
	}
	if id := r.Header.Get(TraceHeader); id != "" {
		return id
	}
	return GenerateTraceID()
}

// WithTraceID stores the trace ID in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceIDFrom retrieves the trace ID from context.
func TraceIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(traceKey{}).(string); ok {
		return id
	}
	return ""
}
