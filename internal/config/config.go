// Package config loads the demo server configuration from an optional YAML
// file overlaid by REQLOG_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/G1D0/reqlog/internal/reqlog"
)

// EnvPrefix prefixes every environment variable, e.g. REQLOG_SERVER_ADDR.
const EnvPrefix = "REQLOG"

// Adapter names accepted in log.adapter.
const (
	AdapterConsole = "console"
	AdapterZerolog = "zerolog"
	AdapterZap     = "zap"
	AdapterMemory  = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Capture  CaptureConfig  `yaml:"capture"`
	Dispatch DispatchConfig `yaml:"dispatch"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr              string        `yaml:"addr" envconfig:"ADDR"`
	DrainTimeout      time.Duration `yaml:"drain_timeout" envconfig:"DRAIN_TIMEOUT"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" envconfig:"READ_HEADER_TIMEOUT"`
	MetricsPath       string        `yaml:"metrics_path" envconfig:"METRICS_PATH"`
}

// LogConfig selects the diagnostics logger and the request log adapter.
type LogConfig struct {
	Level      string `yaml:"level" envconfig:"LEVEL"`
	Format     string `yaml:"format" envconfig:"FORMAT"`
	Adapter    string `yaml:"adapter" envconfig:"ADAPTER"`
	MemorySize int    `yaml:"memory_size" envconfig:"MEMORY_SIZE"`
}

// CaptureConfig controls what the request logger records.
type CaptureConfig struct {
	HeaderWhitelist []string `yaml:"header_whitelist" envconfig:"HEADER_WHITELIST"`
	// MaxBodyBytes bounds body capture; negative disables it.
	MaxBodyBytes int    `yaml:"max_body_bytes" envconfig:"MAX_BODY_BYTES"`
	Strategy     string `yaml:"strategy" envconfig:"STRATEGY"`
}

// DispatchConfig sizes the background adapter pool.
type DispatchConfig struct {
	Workers   int `yaml:"workers" envconfig:"WORKERS"`
	QueueSize int `yaml:"queue_size" envconfig:"QUEUE_SIZE"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			DrainTimeout:      10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			MetricsPath:       "/metrics",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Adapter:    AdapterConsole,
			MemorySize: 100,
		},
		Capture: CaptureConfig{
			HeaderWhitelist: append([]string(nil), reqlog.DefaultHeaderWhitelist...),
			MaxBodyBytes:    reqlog.DefaultMaxBodyBytes,
			Strategy:        reqlog.StrategyHeaderSend.String(),
		},
		Dispatch: DispatchConfig{
			Workers:   2,
			QueueSize: 1024,
		},
	}
}

// Load reads configuration from file and environment variables.
// Environment variables override file values, which override defaults.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML bytes over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the config is semantically valid.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}
	if c.Server.DrainTimeout <= 0 {
		return fmt.Errorf("server.drain_timeout must be positive, got %s", c.Server.DrainTimeout)
	}
	if c.Server.MetricsPath != "" && !strings.HasPrefix(c.Server.MetricsPath, "/") {
		return fmt.Errorf("server.metrics_path must start with /, got %q", c.Server.MetricsPath)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	switch c.Log.Adapter {
	case AdapterConsole, AdapterZerolog, AdapterZap:
	case AdapterMemory:
		if c.Log.MemorySize <= 0 {
			return fmt.Errorf("log.memory_size must be positive for the memory adapter")
		}
	default:
		return fmt.Errorf("log.adapter: unknown adapter %q", c.Log.Adapter)
	}

	if _, err := c.Capture.ParseStrategy(); err != nil {
		return err
	}

	if c.Dispatch.Workers < 1 {
		return fmt.Errorf("dispatch.workers must be at least 1, got %d", c.Dispatch.Workers)
	}
	if c.Dispatch.QueueSize < 1 {
		return fmt.Errorf("dispatch.queue_size must be at least 1, got %d", c.Dispatch.QueueSize)
	}
	return nil
}

// ParseStrategy returns the configured capture strategy.
func (c CaptureConfig) ParseStrategy() (reqlog.Strategy, error) {
	s, err := reqlog.ParseStrategy(c.Strategy)
	if err != nil {
		return 0, fmt.Errorf("capture.strategy: %w", err)
	}
	return s, nil
}

// ServiceOptions maps the capture and dispatch sections onto reqlog
// options. The adapter, loggers and metrics are left to the caller.
func (c *Config) ServiceOptions() (reqlog.Options, error) {
	strategy, err := c.Capture.ParseStrategy()
	if err != nil {
		return reqlog.Options{}, err
	}
	return reqlog.Options{
		HeaderWhitelist: c.Capture.HeaderWhitelist,
		Strategy:        strategy,
		MaxBodyBytes:    c.Capture.MaxBodyBytes,
		Workers:         c.Dispatch.Workers,
		QueueSize:       c.Dispatch.QueueSize,
	}, nil
}
