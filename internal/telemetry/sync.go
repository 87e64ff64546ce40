package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMetrics holds the instruments recorded by the sync engines.
type SyncMetrics struct {
	requestDuration metric.Float64Histogram
	requestTotal    metric.Int64Counter
	rowsAppended    metric.Int64Counter
	entityFailures  metric.Int64Counter
}

// NewSyncMetrics creates the sync instruments on the global meter provider.
func NewSyncMetrics() (*SyncMetrics, error) {
	meter := otel.Meter(InstrumentationName)

	requestDuration, err := meter.Float64Histogram(
		"sync.provider.request.duration",
		metric.WithDescription("Duration of provider requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	requestTotal, err := meter.Int64Counter(
		"sync.provider.request.total",
		metric.WithDescription("Total number of provider requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	rowsAppended, err := meter.Int64Counter(
		"sync.archive.rows_appended",
		metric.WithDescription("Rows appended to archives after deduplication"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	entityFailures, err := meter.Int64Counter(
		"sync.entity.failures",
		metric.WithDescription("Sensors or stations whose sync recorded an error"),
		metric.WithUnit("{entity}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		rowsAppended:    rowsAppended,
		entityFailures:  entityFailures,
	}, nil
}

// RecordRequest records one provider request. A nil receiver is a no-op so
// engines can run without metrics in tests.
func (m *SyncMetrics) RecordRequest(provider, operation string, duration time.Duration, status int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider.name", provider),
		attribute.String("provider.operation", operation),
		attribute.Int("http.status_code", status),
		attribute.Bool("error", status < 200 || status > 299),
	)
	ctx := context.TODO()
	m.requestDuration.Record(ctx, duration.Seconds(), attrs)
	m.requestTotal.Add(ctx, 1, attrs)
}

// RecordAppend records rows appended to the archives of one location.
func (m *SyncMetrics) RecordAppend(provider, location string, rows int) {
	if m == nil || rows == 0 {
		return
	}
	m.rowsAppended.Add(context.TODO(), int64(rows), metric.WithAttributes(
		attribute.String("provider.name", provider),
		attribute.String("location", location),
	))
}

// RecordFailure records a sensor or station whose sync failed.
func (m *SyncMetrics) RecordFailure(provider, location string) {
	if m == nil {
		return
	}
	m.entityFailures.Add(context.TODO(), 1, metric.WithAttributes(
		attribute.String("provider.name", provider),
		attribute.String("location", location),
	))
}
