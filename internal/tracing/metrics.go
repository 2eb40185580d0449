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
	"strconv"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ProcessMetrics records process lifecycle metrics through an OTel meter.
// A nil *ProcessMetrics is valid and records nothing.
type ProcessMetrics struct {
	meter metric.Meter

	// Counters
	spawnsTotal   metric.Int64Counter
	eventsTotal   metric.Int64Counter
	sendsTotal    metric.Int64Counter
	stopsTotal    metric.Int64Counter
	exitsTotal    metric.Int64Counter
	requestsTotal metric.Int64Counter

	// Histograms
	requestDuration metric.Float64Histogram

	// Gauges (using observable gauges)
	active atomic.Int64
}

// NewProcessMetrics creates the process instruments on the given meter provider.
func NewProcessMetrics(meterProvider metric.MeterProvider) (*ProcessMetrics, error) {
	meter := meterProvider.Meter("procbridge")

	pm := &ProcessMetrics{meter: meter}

	var err error

	pm.spawnsTotal, err = meter.Int64Counter(
		"procbridge_spawns_total",
		metric.WithDescription("Total number of spawn attempts"),
		metric.WithUnit("{spawn}"),
	)
	if err != nil {
		return nil, err
	}

	pm.eventsTotal, err = meter.Int64Counter(
		"procbridge_events_total",
		metric.WithDescription("Total number of process events emitted"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	pm.sendsTotal, err = meter.Int64Counter(
		"procbridge_sends_total",
		metric.WithDescription("Total number of stdin writes attempted"),
		metric.WithUnit("{send}"),
	)
	if err != nil {
		return nil, err
	}

	pm.stopsTotal, err = meter.Int64Counter(
		"procbridge_stops_total",
		metric.WithDescription("Total number of stop requests"),
		metric.WithUnit("{stop}"),
	)
	if err != nil {
		return nil, err
	}

	pm.exitsTotal, err = meter.Int64Counter(
		"procbridge_exits_total",
		metric.WithDescription("Total number of natural process exits by exit code"),
		metric.WithUnit("{exit}"),
	)
	if err != nil {
		return nil, err
	}

	pm.requestsTotal, err = meter.Int64Counter(
		"procbridge_requests_total",
		metric.WithDescription("Total number of control requests by surface and operation"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	pm.requestDuration, err = meter.Float64Histogram(
		"procbridge_request_duration_seconds",
		metric.WithDescription("Control request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"procbridge_processes_active",
		metric.WithDescription("Number of processes with a registry entry"),
		metric.WithUnit("{process}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			observer.Observe(pm.active.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return pm, nil
}

// RecordSpawn records a spawn attempt.
func (pm *ProcessMetrics) RecordSpawn(ctx context.Context, outcome string, fallback bool) {
	if pm == nil {
		return
	}
	pm.spawnsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("fallback", fallback),
	))
}

// AddActive adjusts the active process gauge.
func (pm *ProcessMetrics) AddActive(_ context.Context, delta int64) {
	if pm == nil {
		return
	}
	pm.active.Add(delta)
}

// Active returns the current value of the active process gauge.
func (pm *ProcessMetrics) Active() int64 {
	if pm == nil {
		return 0
	}
	return pm.active.Load()
}

// RecordEvent records an emitted event of the given kind.
func (pm *ProcessMetrics) RecordEvent(ctx context.Context, kind string) {
	if pm == nil {
		return
	}
	pm.eventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSend records the result of a stdin write.
func (pm *ProcessMetrics) RecordSend(ctx context.Context, result string) {
	if pm == nil {
		return
	}
	pm.sendsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordStop records the result of a stop request.
func (pm *ProcessMetrics) RecordStop(ctx context.Context, result string) {
	if pm == nil {
		return
	}
	pm.stopsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordExit records a natural exit.
func (pm *ProcessMetrics) RecordExit(ctx context.Context, code int) {
	if pm == nil {
		return
	}
	pm.exitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("code", strconv.Itoa(code))))
}

// RecordRequest records a control request served by one of the surfaces.
func (pm *ProcessMetrics) RecordRequest(ctx context.Context, surface, op, result string, seconds float64) {
	if pm == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("surface", surface),
		attribute.String("op", op),
		attribute.String("result", result),
	)
	pm.requestsTotal.Add(ctx, 1, attrs)
	pm.requestDuration.Record(ctx, seconds, attrs)
}
