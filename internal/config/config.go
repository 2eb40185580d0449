// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	internallog "github.com/tombee/procbridge/internal/log"
	"github.com/tombee/procbridge/internal/tracing"
	pkgerrors "github.com/tombee/procbridge/pkg/errors"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config represents the complete procbridge configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Events  EventsConfig  `yaml:"events"`
	Spawn   SpawnConfig   `yaml:"spawn"`
	HTTP    HTTPConfig    `yaml:"http"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	MCP     MCPConfig     `yaml:"mcp"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Environment: PROCBRIDGE_LOG_LEVEL, LOG_LEVEL
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text, auto).
	// Environment: LOG_FORMAT
	// Default: json
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: LOG_SOURCE
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// EventsConfig configures event delivery.
type EventsConfig struct {
	// ForwardStderr emits process_stderr events. When false, diagnostic
	// lines only reach the log.
	// Environment: PROCBRIDGE_FORWARD_STDERR
	// Default: true
	ForwardStderr *bool `yaml:"forward_stderr,omitempty"`

	// BufferSize is the number of recent events kept per process for
	// pull-based surfaces.
	// Default: 1000
	BufferSize int `yaml:"buffer_size"`
}

// SpawnConfig configures how processes are started and stopped.
type SpawnConfig struct {
	// ShellFallback retries unresolvable commands through the platform shell.
	// Environment: PROCBRIDGE_SHELL_FALLBACK
	// Default: true
	ShellFallback *bool `yaml:"shell_fallback,omitempty"`

	// Env holds KEY=VALUE pairs added to every spawned process.
	Env []string `yaml:"env,omitempty"`

	// Dir is the default working directory for spawned processes.
	Dir string `yaml:"dir,omitempty"`

	// StopTimeout bounds how long a stop waits for the kill to be confirmed.
	// Environment: PROCBRIDGE_STOP_TIMEOUT
	// Default: 5s
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// SampleStats adds RSS and CPU readings to process listings.
	// Default: false
	SampleStats bool `yaml:"sample_stats"`
}

// HTTPConfig configures the HTTP control surface.
type HTTPConfig struct {
	// Addr is the listen address. Empty disables the HTTP surface.
	// Environment: PROCBRIDGE_HTTP_ADDR
	Addr string `yaml:"addr,omitempty"`

	// ShutdownTimeout bounds graceful shutdown of the HTTP server.
	// Default: 5s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr serves /metrics on its own listener. Empty serves metrics only
	// on the HTTP surface, if enabled.
	// Environment: PROCBRIDGE_METRICS_ADDR
	Addr string `yaml:"addr,omitempty"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Exporter is one of none, console, otlp, otlp-http.
	// Environment: PROCBRIDGE_TRACING_EXPORTER
	// Default: none
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP receiver address.
	// Environment: OTEL_EXPORTER_OTLP_ENDPOINT
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS for OTLP exporters.
	Insecure bool `yaml:"insecure,omitempty"`

	// Headers are sent with every export request.
	Headers map[string]string `yaml:"headers,omitempty"`

	// SampleRate is the fraction of root spans recorded.
	// Default: 1.0
	SampleRate *float64 `yaml:"sample_rate,omitempty"`
}

// MCPConfig configures the MCP server.
type MCPConfig struct {
	// CallsPerMinute bounds tool calls. Zero means unlimited.
	// Environment: PROCBRIDGE_MCP_CALLS_PER_MINUTE
	// Default: 600
	CallsPerMinute int `yaml:"calls_per_minute"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: string(internallog.FormatJSON),
		},
		Events: EventsConfig{
			ForwardStderr: boolPtr(true),
			BufferSize:    1000,
		},
		Spawn: SpawnConfig{
			ShellFallback: boolPtr(true),
			StopTimeout:   5 * time.Second,
		},
		HTTP: HTTPConfig{
			ShutdownTimeout: 5 * time.Second,
		},
		Tracing: TracingConfig{
			Exporter:   tracing.ExporterNone,
			SampleRate: float64Ptr(1.0),
		},
		MCP: MCPConfig{
			CallsPerMinute: 600,
		},
	}
}

// Load loads configuration from an optional YAML file, then environment
// variables. Environment variables take precedence over the file.
// If configPath is empty, the file at ConfigPath is used when it exists.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	path, explicit := configPath, configPath != ""
	if !explicit {
		if p, err := ConfigPath(); err == nil {
			path = p
		}
	}

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, &pkgerrors.ConfigError{
					Key:    "config_file",
					Reason: fmt.Sprintf("failed to load from %s", path),
					Cause:  err,
				}
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &pkgerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills in zero values so minimal files work.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
	if c.Events.ForwardStderr == nil {
		c.Events.ForwardStderr = defaults.Events.ForwardStderr
	}
	if c.Events.BufferSize == 0 {
		c.Events.BufferSize = defaults.Events.BufferSize
	}
	if c.Spawn.ShellFallback == nil {
		c.Spawn.ShellFallback = defaults.Spawn.ShellFallback
	}
	if c.Spawn.StopTimeout == 0 {
		c.Spawn.StopTimeout = defaults.Spawn.StopTimeout
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = defaults.HTTP.ShutdownTimeout
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = defaults.Tracing.Exporter
	}
	if c.Tracing.SampleRate == nil {
		c.Tracing.SampleRate = defaults.Tracing.SampleRate
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	logCfg := c.LoggerConfig()
	internallog.ApplyEnv(logCfg)
	c.Log.Level = logCfg.Level
	c.Log.Format = string(logCfg.Format)
	c.Log.AddSource = logCfg.AddSource

	if val := os.Getenv("PROCBRIDGE_FORWARD_STDERR"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Events.ForwardStderr = boolPtr(b)
		}
	}
	if val := os.Getenv("PROCBRIDGE_SHELL_FALLBACK"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Spawn.ShellFallback = boolPtr(b)
		}
	}
	if val := os.Getenv("PROCBRIDGE_STOP_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Spawn.StopTimeout = d
		}
	}
	if val := os.Getenv("PROCBRIDGE_HTTP_ADDR"); val != "" {
		c.HTTP.Addr = val
	}
	if val := os.Getenv("PROCBRIDGE_METRICS_ADDR"); val != "" {
		c.Metrics.Addr = val
	}
	if val := os.Getenv("PROCBRIDGE_TRACING_EXPORTER"); val != "" {
		c.Tracing.Exporter = strings.ToLower(val)
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		c.Tracing.Endpoint = val
	}
	if val := os.Getenv("PROCBRIDGE_MCP_CALLS_PER_MINUTE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.MCP.CallsPerMinute = n
		}
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if !internallog.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	switch internallog.Format(c.Log.Format) {
	case internallog.FormatJSON, internallog.FormatText, internallog.FormatAuto:
	default:
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text, auto], got %q", c.Log.Format))
	}

	if c.Events.BufferSize < 1 {
		errs = append(errs, fmt.Sprintf("events.buffer_size must be positive, got %d", c.Events.BufferSize))
	}

	for _, kv := range c.Spawn.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			errs = append(errs, fmt.Sprintf("spawn.env entries must be KEY=VALUE, got %q", kv))
		}
	}
	if c.Spawn.StopTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("spawn.stop_timeout must be positive, got %v", c.Spawn.StopTimeout))
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("http.shutdown_timeout must be positive, got %v", c.HTTP.ShutdownTimeout))
	}

	if err := c.TracingSettings("").Validate(); err != nil {
		errs = append(errs, "tracing: "+err.Error())
	}

	if c.MCP.CallsPerMinute < 0 {
		errs = append(errs, fmt.Sprintf("mcp.calls_per_minute must not be negative, got %d", c.MCP.CallsPerMinute))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// LoggerConfig converts the log section into a logger configuration.
func (c *Config) LoggerConfig() *internallog.Config {
	cfg := internallog.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Format = internallog.Format(c.Log.Format)
	cfg.AddSource = c.Log.AddSource
	return cfg
}

// TracingSettings converts the tracing section into a provider configuration.
func (c *Config) TracingSettings(version string) tracing.Config {
	cfg := tracing.DefaultConfig()
	if version != "" {
		cfg.ServiceVersion = version
	}
	cfg.Exporter = c.Tracing.Exporter
	cfg.Endpoint = c.Tracing.Endpoint
	cfg.Insecure = c.Tracing.Insecure
	cfg.Headers = c.Tracing.Headers
	if c.Tracing.SampleRate != nil {
		cfg.SampleRate = *c.Tracing.SampleRate
	}
	return cfg
}

// ForwardStderr reports whether diagnostic lines become events.
func (c *Config) ForwardStderr() bool {
	return c.Events.ForwardStderr == nil || *c.Events.ForwardStderr
}

// ShellFallback reports whether the shell retry is enabled.
func (c *Config) ShellFallback() bool {
	return c.Spawn.ShellFallback == nil || *c.Spawn.ShellFallback
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func boolPtr(b bool) *bool { return &b }

func float64Ptr(f float64) *float64 { return &f }
