// Package server runs an http.Server until its context ends, then drains
// in-flight requests and closes the resources that depend on them.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"
)

// Server wraps http.Server with graceful shutdown support.
type Server struct {
	httpServer   *http.Server
	drainTimeout time.Duration
	logger       *slog.Logger
	closers      []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

// Config holds server configuration.
type Config struct {
	Addr              string // listen address, e.g. ":8080"
	Handler           http.Handler
	DrainTimeout      time.Duration // max time to wait for in-flight requests
	ReadHeaderTimeout time.Duration
	Logger            *slog.Logger
}

// New creates a server with graceful shutdown support.
func New(cfg Config) *Server {
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           cfg.Handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			ErrorLog:          slog.NewLogLogger(cfg.Logger.Handler(), slog.LevelError),
		},
		drainTimeout: cfg.DrainTimeout,
		logger:       cfg.Logger,
	}
}

// RegisterCloser adds a resource to be closed after the server has drained,
// e.g. the request logger whose queued adapter calls must still be flushed.
// Closers run in reverse registration order.
func (s *Server) RegisterCloser(name string, c io.Closer) {
	s.closers = append(s.closers, namedCloser{name: name, c: c})
}

// ListenAndServe serves until SIGTERM or SIGINT, then shuts down.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	return s.Run(ctx)
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and blocks until shutdown completes.
//
// Shutdown sequence:
//  1. Wait for ctx to end
//  2. Stop accepting new connections
//  3. Wait for in-flight requests to finish (up to drainTimeout)
//  4. Close registered resources
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.closeResources()
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown requested", "cause", context.Cause(ctx).Error())
	}

	s.logger.Info("draining connections", "timeout", s.drainTimeout.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.drainTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutdown error, forcing close", "error", err)
		_ = s.httpServer.Close()
	}

	s.closeResources()
	s.logger.Info("shutdown complete")
	return nil
}

func (s *Server) closeResources() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		nc := s.closers[i]
		if err := nc.c.Close(); err != nil {
			s.logger.Warn("error closing resource", "resource", nc.name, "error", err)
		}
	}
}
