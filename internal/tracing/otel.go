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
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Provider owns the tracer and meter providers and the Prometheus registry
// backing the metrics endpoint.
type Provider struct {
	tp       *sdktrace.TracerProvider
	mp       *metric.MeterProvider
	registry *prometheus.Registry
	metrics  *ProcessMetrics
}

// ProviderOption customizes a Provider.
type ProviderOption func(*providerOptions)

type providerOptions struct {
	consoleOut  io.Writer
	traceOpts   []sdktrace.TracerProviderOption
	setGlobal   bool
	runtimeColl bool
}

// WithConsoleOutput sets where the console exporter writes.
func WithConsoleOutput(w io.Writer) ProviderOption {
	return func(o *providerOptions) { o.consoleOut = w }
}

// WithTracerProviderOptions passes extra options to the SDK tracer provider.
func WithTracerProviderOptions(opts ...sdktrace.TracerProviderOption) ProviderOption {
	return func(o *providerOptions) { o.traceOpts = append(o.traceOpts, opts...) }
}

// WithoutGlobal keeps the provider from replacing the global tracer provider.
func WithoutGlobal() ProviderOption {
	return func(o *providerOptions) { o.setGlobal = false }
}

// WithoutRuntimeCollectors leaves the Go and process collectors out of the registry.
func WithoutRuntimeCollectors() ProviderOption {
	return func(o *providerOptions) { o.runtimeColl = false }
}

// NewProvider creates a tracer provider exporting per cfg, and a meter
// provider exposed through a private Prometheus registry.
func NewProvider(ctx context.Context, cfg Config, opts ...ProviderOption) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &providerOptions{setGlobal: true, runtimeColl: true}
	for _, opt := range opts {
		opt(o)
	}

	// Note: We don't set SchemaURL to avoid conflicts when merging with default resource
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(NewSampler(cfg.SampleRate)),
	}

	exporter, err := CreateExporter(ctx, cfg, o.consoleOut)
	if err != nil {
		return nil, err
	}
	if exporter != nil {
		var batchOpts []sdktrace.BatchSpanProcessorOption
		if cfg.BatchTimeout > 0 {
			batchOpts = append(batchOpts, sdktrace.WithBatchTimeout(cfg.BatchTimeout))
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter, batchOpts...))
	}
	traceOpts = append(traceOpts, o.traceOpts...)

	tp := sdktrace.NewTracerProvider(traceOpts...)
	if o.setGlobal {
		// Set as global tracer provider (for packages that use otel.Tracer)
		otel.SetTracerProvider(tp)
	}

	registry := prometheus.NewRegistry()
	if o.runtimeColl {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	promExporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(promExporter),
	)

	pm, err := NewProcessMetrics(mp)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create process metrics: %w", err)
	}

	return &Provider{
		tp:       tp,
		mp:       mp,
		registry: registry,
		metrics:  pm,
	}, nil
}

// Tracer returns a tracer for the given instrumentation scope.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Metrics returns the process metrics recorder.
func (p *Provider) Metrics() *ProcessMetrics {
	return p.metrics
}

// Registry returns the Prometheus registry the metrics are exposed through.
func (p *Provider) Registry() *prometheus.Registry {
	return p.registry
}

// MetricsHandler returns an HTTP handler for the Prometheus metrics endpoint.
func (p *Provider) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// ForceFlush exports all pending spans synchronously.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return errors.Join(p.tp.ForceFlush(ctx), p.mp.ForceFlush(ctx))
}

// Shutdown flushes any pending spans and releases resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(p.tp.Shutdown(ctx), p.mp.Shutdown(ctx))
}
