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

/*
Package tracing wires OpenTelemetry tracing and metrics for procbridge.

A Provider owns an SDK tracer provider, exporting to the console, an OTLP
gRPC receiver or an OTLP HTTP receiver, and a meter provider read by the
OTel Prometheus exporter into a private registry. MetricsHandler serves
that registry.

	provider, err := tracing.NewProvider(ctx, tracing.Config{
	    ServiceName: "procbridge",
	    Exporter:    tracing.ExporterOTLP,
	    Endpoint:    "localhost:4317",
	    Insecure:    true,
	    SampleRate:  1.0,
	})
	if err != nil {
	    return err
	}
	defer provider.Shutdown(ctx)

	manager := process.NewManager(process.ManagerConfig{
	    Metrics: provider.Metrics(),
	})

ProcessMetrics methods are safe on a nil receiver, so components take an
optional *ProcessMetrics without guarding every call.
*/
package tracing
