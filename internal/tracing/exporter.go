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
	"context"
	"fmt"
	"io"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tombee/procbridge/internal/tracing/export"
)

// CreateExporter creates the span exporter named by cfg.Exporter. It returns
// a nil exporter for "none". Console output goes to consoleOut.
func CreateExporter(ctx context.Context, cfg Config, consoleOut io.Writer) (sdktrace.SpanExporter, error) {
	otlpCfg := export.OTLPConfig{
		Endpoint: cfg.Endpoint,
		Insecure: cfg.Insecure,
		Headers:  cfg.Headers,
	}

	switch cfg.Exporter {
	case ExporterConsole:
		return export.NewConsoleExporter(export.ConsoleConfig{
			Writer:      consoleOut,
			PrettyPrint: true,
		})

	case ExporterOTLP:
		return export.NewOTLPExporter(ctx, otlpCfg)

	case "otlp_http", ExporterOTLPHTTP:
		return export.NewOTLPHTTPExporter(ctx, otlpCfg)

	case ExporterNone, "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.Exporter)
	}
}
