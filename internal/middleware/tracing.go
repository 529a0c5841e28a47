package middleware

import (
	"log/slog"
	"net/http"

	"github.com/G1D0/reqlog/internal/observe"
)

// Tracing resolves a trace ID for each request (client X-Request-ID or a new
// one), stores it with a request-scoped logger in the context and echoes it
// on the request and response headers. The request logger reuses the ID as
// its session ID when Tracing runs first.
func Tracing(base *slog.Logger) Middleware {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := observe.TraceIDFromRequest(r)

			ctx := observe.WithTraceID(r.Context(), traceID)
			ctx = observe.WithLogger(ctx, observe.RequestLogger(base, r.Method, r.URL.Path, r.RemoteAddr, traceID))
			r = r.WithContext(ctx)

			r.Header.Set(observe.TraceHeader, traceID)
			w.Header().Set(observe.TraceHeader, traceID)

			next.ServeHTTP(w, r)
		})
	}
}
