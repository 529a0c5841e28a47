// Package reqlog logs each HTTP request together with the response that was
// actually sent for it.
//
// The middleware snapshots the request, wraps the http.ResponseWriter in an
// Interceptor and runs the next handler. When the handler returns (or
// panics) the interceptor resolves exactly once and the resulting Resource
// is handed to an Adapter on a background worker. Nothing on the logging
// path can change what the client receives.
//
//	svc := reqlog.New(reqlog.Options{LoggerAdapter: myAdapter})
//	defer svc.Close()
//	handler := svc.Middleware()(mux)
package reqlog

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/G1D0/reqlog/internal/middleware"
	"github.com/G1D0/reqlog/internal/observe"
	"github.com/G1D0/reqlog/internal/worker"
)

// DefaultMaxBodyBytes bounds captured request and response bodies.
const DefaultMaxBodyBytes = 64 << 10

// Options configures a Service. The zero value is usable.
type Options struct {
	// LoggerAdapter receives the logged resources. Defaults to a
	// ConsoleAdapter on stdout.
	LoggerAdapter Adapter

	// HeaderWhitelist names the response headers kept in a ResponseRecord.
	// Defaults to DefaultHeaderWhitelist.
	HeaderWhitelist []string

	Strategy Strategy

	// MaxBodyBytes bounds body capture. 0 means DefaultMaxBodyBytes and a
	// negative value disables body capture.
	MaxBodyBytes int

	// Workers and QueueSize size the background pool running adapter calls.
	Workers   int
	QueueSize int

	// Diagnostics receives adapter failures. Defaults to slog.Default().
	Diagnostics *slog.Logger

	// Metrics is optional.
	Metrics *observe.Metrics

	// Skip bypasses logging for the requests it returns true for.
	Skip func(*http.Request) bool
}

// Service owns the adapter and the background pool shared by all sessions.
// It is immutable after New and safe for concurrent use.
type Service struct {
	adapter   Adapter
	announcer RequestAnnouncer
	whitelist HeaderWhitelist
	strategy  Strategy
	maxBody   int
	diag      *slog.Logger
	metrics   *observe.Metrics
	skip      func(*http.Request) bool
	pool      *worker.Pool
}

// New creates a Service and starts its background workers. Call Close to
// drain them.
func New(opts Options) *Service {
	if opts.LoggerAdapter == nil {
		opts.LoggerAdapter = NewConsoleAdapter(nil)
	}
	if opts.HeaderWhitelist == nil {
		opts.HeaderWhitelist = DefaultHeaderWhitelist
	}
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Diagnostics == nil {
		opts.Diagnostics = slog.Default()
	}

	s := &Service{
		adapter:   opts.LoggerAdapter,
		whitelist: NewHeaderWhitelist(opts.HeaderWhitelist...),
		strategy:  opts.Strategy,
		maxBody:   opts.MaxBodyBytes,
		diag:      opts.Diagnostics.With("component", "reqlog"),
		metrics:   opts.Metrics,
		skip:      opts.Skip,
	}
	if a, ok := opts.LoggerAdapter.(RequestAnnouncer); ok {
		s.announcer = a
	}
	s.pool = worker.NewPool(worker.Config{
		Workers:   opts.Workers,
		QueueSize: opts.QueueSize,
		Logger:     s.diag,
		OnFailure:  s.reportFailure,
		OnOverflow: s.reportOverflow,
	})
	return s
}

// Middleware returns the logging middleware.
func (s *Service) Middleware() middleware.Middleware {
	return s.Handler
}

// Handler wraps next with request/response logging. next is always called
// exactly once, on the calling goroutine.
func (s *Service) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.skip != nil && s.skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		sess := s.begin(w, r)
		defer sess.end()

		next.ServeHTTP(sess.ic.Writer(), r)
	})
}

// Adapter returns the configured adapter.
func (s *Service) Adapter() Adapter {
	return s.adapter
}

// Close waits for pending adapter calls. Sessions that complete afterwards
// still reach the adapter, outside the drained pool.
func (s *Service) Close() error {
	return s.pool.Close()
}

func (s *Service) reportFailure(f worker.Failure) {
	attrs := []any{"call", f.Name, "error", f.Err}
	var aerr *AdapterError
	if errors.As(f.Err, &aerr) {
		attrs = append(attrs, "session_id", aerr.SessionID)
	}

	if errors.Is(f.Err, worker.ErrQueueFull) || errors.Is(f.Err, worker.ErrPoolClosed) {
		s.metrics.TaskDropped(f.Name)
		s.diag.Warn("adapter call dropped", attrs...)
		return
	}
	s.metrics.AdapterFailed(f.Name)
	s.diag.Error("adapter call failed", attrs...)
}

// reportOverflow notes a create call that bypassed the full or closed queue.
// The call still runs.
func (s *Service) reportOverflow(call string, reason error) {
	s.metrics.TaskOverflowed(call)
	s.diag.Warn("adapter call overflowed the queue", "call", call, "reason", reason)
}

// responseRecord builds the logged response from a completion.
func (s *Service) responseRecord(c Completion) ResponseRecord {
	rec := ResponseRecord{
		StatusCode: c.StatusCode,
		Headers:    s.whitelist.Filter(c.Header),
		Truncated:  c.Truncated,
	}

	switch {
	case len(c.Body) == 0:
	case c.Truncated:
		rec.Body = string(c.Body)
	default:
		body, fellBack := decodeBody(c.Header.Get("Content-Type"), c.Body)
		if fellBack {
			s.metrics.BodyParseFallback()
		}
		rec.Body = body
	}

	if c.Err != nil {
		rec.Error = c.Err.Error()
	}
	return rec
}
