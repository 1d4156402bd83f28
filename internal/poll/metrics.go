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

package poll

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics collects poll engine metrics.
type Metrics struct {
	pollsTotal    metric.Int64Counter
	errorsTotal   metric.Int64Counter
	triggersTotal metric.Int64Counter
	pollLatency   metric.Float64Histogram
}

// NewMetrics creates a poll metrics collector.
func NewMetrics(meterProvider metric.MeterProvider) (*Metrics, error) {
	meter := meterProvider.Meter("skillrunner")

	m := &Metrics{}

	var err error

	m.pollsTotal, err = meter.Int64Counter(
		"skillrunner_polls_total",
		metric.WithDescription("Total number of poll fetches"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		return nil, err
	}

	m.errorsTotal, err = meter.Int64Counter(
		"skillrunner_poll_errors_total",
		metric.WithDescription("Total number of failed poll fetches"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	m.triggersTotal, err = meter.Int64Counter(
		"skillrunner_poll_triggers_total",
		metric.WithDescription("Total number of job callbacks fired"),
		metric.WithUnit("{trigger}"),
	)
	if err != nil {
		return nil, err
	}

	m.pollLatency, err = meter.Float64Histogram(
		"skillrunner_poll_duration_seconds",
		metric.WithDescription("Poll fetch latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordPoll records a completed fetch for a source.
func (m *Metrics) RecordPoll(ctx context.Context, source string, err error, duration time.Duration) {
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("source", source)}
	m.pollsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.pollLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if err != nil {
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordTrigger records a fired job callback.
func (m *Metrics) RecordTrigger(ctx context.Context, job string, items int) {
	if m == nil {
		return
	}

	m.triggersTotal.Add(ctx, int64(1), metric.WithAttributes(
		attribute.String("job", job),
		attribute.Int("items", items),
	))
}
