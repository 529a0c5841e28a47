package adapters

import (
	"context"

	"go.uber.org/zap"

	"github.com/G1D0/reqlog/internal/reqlog"
)

// Zap logs resources through a *zap.Logger.
type Zap struct {
	logger *zap.Logger
}

// NewZap returns an adapter writing to logger.
func NewZap(logger *zap.Logger) *Zap {
	return &Zap{logger: logger}
}

// Create implements reqlog.Adapter.
func (a *Zap) Create(_ context.Context, res reqlog.Resource) error {
	fields := []zap.Field{
		zap.String("id", res.ID),
		zap.String("method", res.Request.Method),
		zap.String("url", res.Request.URL),
		zap.Duration("duration", res.Duration),
		zap.Any("request", res.Request),
	}
	if res.Response != nil {
		fields = append(fields,
			zap.Int("status", res.Response.StatusCode),
			zap.Any("response", *res.Response),
		)
	}
	a.logger.Info("request completed", fields...)
	return nil
}

// Sync flushes the underlying logger.
func (a *Zap) Sync() error {
	return a.logger.Sync()
}
