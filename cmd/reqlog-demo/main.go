// reqlog-demo serves a small HTTP API behind the request/response logging
// middleware.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/G1D0/reqlog/internal/config"
	"github.com/G1D0/reqlog/internal/observe"
	"github.com/G1D0/reqlog/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reqlog-demo",
		Short: "Serve a demo API and log every request with its response",
		Long: `Serve a demo API and log every request with its response.

Routes:
  ANY  /                 responds with the current time as an ISO-8601 string
  POST /echo             responds with {"ok":true}
  GET  /metrics          Prometheus metrics
  GET  /_reqlog/entries  recent log entries (memory adapter only)

Configuration is read from --config, then REQLOG_* environment variables,
then flags.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return run(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	fs := cmd.Flags()
	fs.StringP("config", "c", "", "Path to a YAML config file")
	fs.String("addr", "", "Listen address (overrides server.addr)")
	fs.String("log-level", "", "Diagnostics log level: debug, info, warn, error")
	fs.String("log-format", "", "Diagnostics log format: json or text")
	fs.String("adapter", "", "Request log adapter: console, zerolog, zap or memory")

	return cmd
}

// loadConfig layers explicitly set flags over the file and environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	fs := cmd.Flags()
	path, _ := fs.GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	overrides := map[string]*string{
		"addr":       &cfg.Server.Addr,
		"log-level":  &cfg.Log.Level,
		"log-format": &cfg.Log.Format,
		"adapter":    &cfg.Log.Adapter,
	}
	for name, dst := range overrides {
		if fs.Changed(name) {
			*dst, _ = fs.GetString(name)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func run(cfg *config.Config, out, errOut io.Writer) error {
	logger := observe.NewLogger(observe.LogConfig{
		Level:  observe.ParseLevel(cfg.Log.Level),
		Format: observe.ParseFormat(cfg.Log.Format),
		Output: errOut,
	})

	a, err := newApp(cfg, out, logger)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Addr:              cfg.Server.Addr,
		Handler:           a.routes(),
		DrainTimeout:      cfg.Server.DrainTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		Logger:            logger,
	})
	srv.RegisterCloser("reqlog", a)

	logger.Info("request logging enabled",
		"adapter", cfg.Log.Adapter,
		"strategy", cfg.Capture.Strategy,
		"workers", cfg.Dispatch.Workers,
	)
	return srv.ListenAndServe()
}
