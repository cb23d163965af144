// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "sse-queue"

// Snapshot is the point-in-time state reported by the observable gauges.
type Snapshot struct {
	Queues         int
	Messages       int
	LogHandles     int
	AppendHandles  int
	PendingWriters int
}

// Metrics holds the metric instruments of the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	meter metric.Meter

	// Counters
	requestsTotal  metric.Int64Counter
	messagesPushed metric.Int64Counter
	messagesPopped metric.Int64Counter
	bytesPushed    metric.Int64Counter
	bytesPopped    metric.Int64Counter
	bytesWritten   metric.Int64Counter
	rangeRequests  metric.Int64Counter
	rateLimited    metric.Int64Counter
	errorsTotal    metric.Int64Counter

	// UpDownCounters (Gauges)
	streamsActive metric.Int64UpDownCounter

	// Histograms
	messageSize     metric.Int64Histogram
	requestDuration metric.Float64Histogram
}

// NewMetrics creates the instruments on mp, or on the global provider when
// mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m := &Metrics{meter: mp.Meter(meterName)}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.requestsTotal, "sse.http.requests.total", "HTTP requests by route and status class"},
		{&m.messagesPushed, "sse.queue.messages.pushed.total", "Messages pushed to queues"},
		{&m.messagesPopped, "sse.queue.messages.popped.total", "Messages popped from queues by delivery mode"},
		{&m.bytesPushed, "sse.queue.bytes.pushed.total", "Message bytes pushed"},
		{&m.bytesPopped, "sse.queue.bytes.popped.total", "Message bytes popped"},
		{&m.bytesWritten, "sse.storage.bytes.written.total", "File bytes written by operation"},
		{&m.rangeRequests, "sse.storage.downloads.total", "File downloads by range outcome"},
		{&m.rateLimited, "sse.http.rate_limited.total", "Requests rejected by the rate limiter"},
		{&m.errorsTotal, "sse.errors.total", "Errors by type"},
	}
	var err error
	for _, c := range counters {
		*c.dst, err = m.meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	m.streamsActive, err = m.meter.Int64UpDownCounter(
		"sse.streams.active",
		metric.WithDescription("Open listen streams by transport"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streamsActive gauge: %w", err)
	}

	m.messageSize, err = m.meter.Int64Histogram(
		"sse.queue.message.size.bytes",
		metric.WithDescription("Pushed message size distribution"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messageSize histogram: %w", err)
	}

	m.requestDuration, err = m.meter.Float64Histogram(
		"sse.http.request.duration.ms",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create requestDuration histogram: %w", err)
	}

	return m, nil
}

// ObserveState registers gauges that report the result of snapshot at
// every collection.
func (m *Metrics) ObserveState(snapshot func() Snapshot) error {
	if m == nil {
		return nil
	}

	queues, err := m.meter.Int64ObservableGauge("sse.queue.count", metric.WithDescription("Known queues"))
	if err != nil {
		return fmt.Errorf("failed to create queue count gauge: %w", err)
	}
	messages, err := m.meter.Int64ObservableGauge("sse.queue.messages", metric.WithDescription("Buffered messages across queues"))
	if err != nil {
		return fmt.Errorf("failed to create buffered messages gauge: %w", err)
	}
	handles, err := m.meter.Int64ObservableGauge("sse.files.open", metric.WithDescription("Cached open file handles by kind"))
	if err != nil {
		return fmt.Errorf("failed to create open handles gauge: %w", err)
	}
	pending, err := m.meter.Int64ObservableGauge("sse.files.writers", metric.WithDescription("Append writers in flight"))
	if err != nil {
		return fmt.Errorf("failed to create writers gauge: %w", err)
	}

	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := snapshot()
		o.ObserveInt64(queues, int64(s.Queues))
		o.ObserveInt64(messages, int64(s.Messages))
		o.ObserveInt64(handles, int64(s.LogHandles), metric.WithAttributes(attribute.String("kind", "log")))
		o.ObserveInt64(handles, int64(s.AppendHandles), metric.WithAttributes(attribute.String("kind", "append")))
		o.ObserveInt64(pending, int64(s.PendingWriters))
		return nil
	}, queues, messages, handles, pending)
	if err != nil {
		return fmt.Errorf("failed to register state callback: %w", err)
	}
	return nil
}

// RecordRequest records a finished HTTP request.
func (m *Metrics) RecordRequest(ctx context.Context, route string, status int, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("status", statusClass(status)),
	)
	m.requestsTotal.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, durationMs, attrs)
}

// RecordPush records a message pushed to a queue.
func (m *Metrics) RecordPush(ctx context.Context, sizeBytes int) {
	if m == nil {
		return
	}
	m.messagesPushed.Add(ctx, 1)
	m.bytesPushed.Add(ctx, int64(sizeBytes))
	m.messageSize.Record(ctx, int64(sizeBytes))
}

// RecordPop records a message handed to a consumer. mode is get, listen or ws.
func (m *Metrics) RecordPop(ctx context.Context, mode string, sizeBytes int) {
	if m == nil {
		return
	}
	m.messagesPopped.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
	m.bytesPopped.Add(ctx, int64(sizeBytes))
}

// RecordStreamOpened records a listen stream starting.
func (m *Metrics) RecordStreamOpened(ctx context.Context, transport string) {
	if m == nil {
		return
	}
	m.streamsActive.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", transport)))
}

// RecordStreamClosed records a listen stream ending.
func (m *Metrics) RecordStreamClosed(ctx context.Context, transport string) {
	if m == nil {
		return
	}
	m.streamsActive.Add(ctx, -1, metric.WithAttributes(attribute.String("transport", transport)))
}

// RecordWrite records bytes written to a file. op is put, append or upload.
func (m *Metrics) RecordWrite(ctx context.Context, op string, n int64) {
	if m == nil {
		return
	}
	m.bytesWritten.Add(ctx, n, metric.WithAttributes(attribute.String("op", op)))
}

// RecordDownload records a file download. outcome is full, partial or
// unsatisfiable.
func (m *Metrics) RecordDownload(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.rangeRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordRateLimited records a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimited(ctx context.Context) {
	if m == nil {
		return
	}
	m.rateLimited.Add(ctx, 1)
}

// RecordError records an error by type.
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	if m == nil {
		return
	}
	m.errorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("type", errorType)))
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
