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

package tracing

import (
	"fmt"
	"time"
)

// Exporter types.
const (
	ExporterNone     = "none"
	ExporterConsole  = "console"
	ExporterOTLP     = "otlp"
	ExporterOTLPHTTP = "otlp-http"
)

// Config holds observability configuration.
type Config struct {
	// ServiceName identifies this service in traces and metrics.
	ServiceName string

	// ServiceVersion is the application version.
	ServiceVersion string

	// Exporter is the span exporter: "none", "console", "otlp" or "otlp-http".
	Exporter string

	// Endpoint is the OTLP receiver address.
	Endpoint string

	// Insecure disables TLS for OTLP exporters.
	Insecure bool

	// Headers are additional headers sent with each export.
	Headers map[string]string

	// SampleRate is the fraction of root spans recorded (0.0 - 1.0).
	SampleRate float64

	// BatchTimeout is how often batched spans are flushed (default: 5s).
	BatchTimeout time.Duration
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "procbridge",
		ServiceVersion: "unknown",
		Exporter:       ExporterNone,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	switch c.Exporter {
	case "", ExporterNone, ExporterConsole:
	case ExporterOTLP, ExporterOTLPHTTP:
		if c.Endpoint == "" {
			return fmt.Errorf("tracing exporter %q requires an endpoint", c.Exporter)
		}
	default:
		return fmt.Errorf("unknown tracing exporter %q (want none, console, otlp or otlp-http)", c.Exporter)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("tracing sample rate must be between 0 and 1, got %v", c.SampleRate)
	}
	return nil
}
