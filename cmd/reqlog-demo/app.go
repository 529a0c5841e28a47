package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"go.uber.org/zap"

	"github.com/G1D0/reqlog/internal/config"
	"github.com/G1D0/reqlog/internal/middleware"
	"github.com/G1D0/reqlog/internal/observe"
	"github.com/G1D0/reqlog/internal/reqlog"
	"github.com/G1D0/reqlog/internal/reqlog/adapters"
)

const entriesPath = "/_reqlog/entries"

// app wires the request logger, metrics and demo routes for one config.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	reg     *prometheus.Registry
	metrics *observe.Metrics
	svc     *reqlog.Service
	memory  *adapters.Memory
	sync    func() error
}

// newApp builds the service graph. Request logs go to out, diagnostics to
// logger.
func newApp(cfg *config.Config, out io.Writer, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		reg:    prometheus.NewRegistry(),
	}
	a.reg.MustRegister(collectors.NewGoCollector())
	a.metrics = observe.NewMetrics(a.reg)

	adapter, err := a.buildAdapter(out)
	if err != nil {
		return nil, err
	}

	opts, err := cfg.ServiceOptions()
	if err != nil {
		return nil, err
	}
	opts.LoggerAdapter = adapter
	opts.Diagnostics = logger
	opts.Metrics = a.metrics
	opts.Skip = a.skip
	a.svc = reqlog.New(opts)

	return a, nil
}

func (a *app) buildAdapter(out io.Writer) (reqlog.Adapter, error) {
	switch a.cfg.Log.Adapter {
	case config.AdapterConsole:
		return reqlog.NewConsoleAdapter(out), nil
	case config.AdapterZerolog:
		zl := zerolog.New(out).With().Timestamp().Logger()
		return adapters.NewZerolog(zl), nil
	case config.AdapterZap:
		zl, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("create zap logger: %w", err)
		}
		z := adapters.NewZap(zl)
		a.sync = z.Sync
		return z, nil
	case config.AdapterMemory:
		a.memory = adapters.NewMemory(a.cfg.Log.MemorySize)
		return adapters.NewMulti(a.memory, reqlog.NewConsoleAdapter(out)), nil
	default:
		return nil, fmt.Errorf("unknown adapter %q", a.cfg.Log.Adapter)
	}
}

// skip keeps the operational endpoints out of the request log.
func (a *app) skip(r *http.Request) bool {
	p := r.URL.Path
	return p == a.cfg.Server.MetricsPath || strings.HasPrefix(p, entriesPath)
}

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	// Recoverer sits outside the logger so a panicking handler is logged
	// as failed before the 500 is written.
	r.Use(middleware.Chain(
		middleware.Tracing(a.logger),
		chimw.Recoverer,
		a.svc.Middleware(),
	))

	if a.cfg.Server.MetricsPath != "" {
		r.Method(http.MethodGet, a.cfg.Server.MetricsPath, observe.Handler(a.reg))
	}
	if a.memory != nil {
		r.Get(entriesPath, a.handleEntries)
		r.Delete(entriesPath, a.handleClearEntries)
	}
	r.Post("/echo", handleEcho)
	r.HandleFunc("/*", handleTimestamp)
	return r
}

// Close drains pending adapter calls, then flushes the adapter.
func (a *app) Close() error {
	err := a.svc.Close()
	if a.sync != nil {
		// Sync on a terminal reports EINVAL; nothing is lost.
		_ = a.sync()
	}
	return err
}

// handleTimestamp answers with a bare timestamp. A nil Content-Type keeps
// net/http from sniffing one, so the client gets the headers that are logged.
func handleTimestamp(w http.ResponseWriter, r *http.Request) {
	w.Header()["Content-Type"] = nil
	io.WriteString(w, time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
}

func handleEcho(w http.ResponseWriter, r *http.Request) {
	var body any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *app) handleEntries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.memory.Entries())
}

func (a *app) handleClearEntries(w http.ResponseWriter, r *http.Request) {
	a.memory.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
