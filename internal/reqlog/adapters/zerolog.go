// Package adapters holds reqlog adapters for third-party loggers and for
// in-process inspection.
package adapters

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/G1D0/reqlog/internal/reqlog"
)

// Zerolog logs resources through a zerolog.Logger.
type Zerolog struct {
	logger zerolog.Logger
}

// NewZerolog returns an adapter writing to logger.
func NewZerolog(logger zerolog.Logger) *Zerolog {
	return &Zerolog{logger: logger}
}

// Create implements reqlog.Adapter.
func (a *Zerolog) Create(_ context.Context, res reqlog.Resource) error {
	ev := a.logger.Info().
		Str("id", res.ID).
		Str("method", res.Request.Method).
		Str("url", res.Request.URL).
		Dur("duration", res.Duration).
		Interface("request", res.Request)
	if res.Response != nil {
		ev = ev.Int("status", res.Response.StatusCode).
			Interface("response", res.Response)
	}
	ev.Msg("request completed")
	return nil
}
