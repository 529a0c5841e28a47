package reqlog

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/G1D0/reqlog/internal/observe"
)

// Adapter consumes finished logging resources. Create is called exactly once
// per completed response, from a background worker.
type Adapter interface {
	Create(ctx context.Context, res Resource) error
}

// RequestAnnouncer is implemented by adapters that want the request before
// the handler runs. Announce receives a Resource without a Response.
type RequestAnnouncer interface {
	Announce(ctx context.Context, res Resource) error
}

// AdapterFunc adapts a function to Adapter.
type AdapterFunc func(ctx context.Context, res Resource) error

// Create calls f.
func (f AdapterFunc) Create(ctx context.Context, res Resource) error {
	return f(ctx, res)
}

// ConsoleAdapter writes resources as structured log lines. It is the
// default adapter.
type ConsoleAdapter struct {
	logger *slog.Logger
}

// NewConsoleAdapter writes JSON lines to w, or to stdout when w is nil.
func NewConsoleAdapter(w io.Writer) *ConsoleAdapter {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleAdapter{logger: observe.NewLogger(observe.LogConfig{
		Level:  observe.LevelDebug,
		Format: observe.FormatJSON,
		Output: w,
	})}
}

// NewLoggerAdapter logs through an existing logger.
func NewLoggerAdapter(logger *slog.Logger) *ConsoleAdapter {
	return &ConsoleAdapter{logger: logger}
}

// Announce logs the request at debug level.
func (a *ConsoleAdapter) Announce(ctx context.Context, res Resource) error {
	a.logger.LogAttrs(ctx, slog.LevelDebug, "request received",
		slog.String("id", res.ID),
		slog.Any("request", res.Request),
	)
	return nil
}

// Create logs the request and its response.
func (a *ConsoleAdapter) Create(ctx context.Context, res Resource) error {
	attrs := []slog.Attr{
		slog.String("id", res.ID),
		slog.Duration("duration", res.Duration),
		slog.Any("request", res.Request),
	}
	if res.Response != nil {
		attrs = append(attrs, slog.Any("response", *res.Response))
	}
	a.logger.LogAttrs(ctx, slog.LevelInfo, "request completed", attrs...)
	return nil
}
