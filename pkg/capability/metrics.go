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

package capability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsCollector collects invocation metrics for capabilities.
type MetricsCollector struct {
	invocationsTotal  metric.Int64Counter
	softFailuresTotal metric.Int64Counter
	invokeLatency     metric.Float64Histogram
}

// NewMetricsCollector creates a capability metrics collector.
func NewMetricsCollector(meterProvider metric.MeterProvider) (*MetricsCollector, error) {
	meter := meterProvider.Meter("skillrunner")

	mc := &MetricsCollector{}

	var err error

	mc.invocationsTotal, err = meter.Int64Counter(
		"skillrunner_capability_invocations_total",
		metric.WithDescription("Total number of capability invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, err
	}

	mc.softFailuresTotal, err = meter.Int64Counter(
		"skillrunner_capability_soft_failures_total",
		metric.WithDescription("Total number of success outcomes demoted by soft-failure detection"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	mc.invokeLatency, err = meter.Float64Histogram(
		"skillrunner_capability_latency_seconds",
		metric.WithDescription("Capability invocation latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return mc, nil
}

// RecordInvocation records a completed capability invocation.
func (mc *MetricsCollector) RecordInvocation(ctx context.Context, name string, success bool, duration time.Duration) {
	if mc == nil {
		return
	}

	status := "success"
	if !success {
		status = "error"
	}

	attrs := []attribute.KeyValue{
		attribute.String("capability", name),
		attribute.String("status", status),
	}

	mc.invocationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mc.invokeLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordSoftFailure records a soft-failure demotion for a capability.
func (mc *MetricsCollector) RecordSoftFailure(ctx context.Context, name string) {
	if mc == nil {
		return
	}

	mc.softFailuresTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("capability", name),
	))
}
