package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// QueueMetricsMeterName is the name used for the queue metrics meter.
const QueueMetricsMeterName = "github.com/bilal060/devicesync-server/queue"

// QueueMetrics holds the OpenTelemetry instruments for sync queue metrics.
type QueueMetrics struct {
	itemsEnqueued      metric.Int64Counter
	itemsFinalized     metric.Int64Counter
	recordsReconciled  metric.Int64Counter
	processingDuration metric.Float64Histogram
}

// NewQueueMetrics creates a new QueueMetrics instance with the given meter
// provider. If provider is nil, it returns nil (no-op metrics).
func NewQueueMetrics(provider metric.MeterProvider) (*QueueMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(QueueMetricsMeterName)

	itemsEnqueued, err := meter.Int64Counter(
		"devicesync_queue_items_enqueued_total",
		metric.WithDescription("Number of batches accepted into the sync queue"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	itemsFinalized, err := meter.Int64Counter(
		"devicesync_queue_items_finalized_total",
		metric.WithDescription("Number of queue items reaching a terminal status"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	recordsReconciled, err := meter.Int64Counter(
		"devicesync_records_reconciled_total",
		metric.WithDescription("Number of records reconciled, by outcome"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	processingDuration, err := meter.Float64Histogram(
		"devicesync_queue_processing_duration_seconds",
		metric.WithDescription("Duration of queue item processing cycles in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	return &QueueMetrics{
		itemsEnqueued:      itemsEnqueued,
		itemsFinalized:     itemsFinalized,
		recordsReconciled:  recordsReconciled,
		processingDuration: processingDuration,
	}, nil
}

// RecordEnqueued records a batch accepted into the queue.
func (m *QueueMetrics) RecordEnqueued(ctx context.Context, dataType string) {
	if m == nil || m.itemsEnqueued == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("data_type", dataType),
	}

	m.itemsEnqueued.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFinalized records a queue item reaching a terminal status.
func (m *QueueMetrics) RecordFinalized(ctx context.Context, dataType, status string) {
	if m == nil || m.itemsFinalized == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("data_type", dataType),
		attribute.String("status", status),
	}

	m.itemsFinalized.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReconciled records per-record reconciliation outcomes for one batch.
func (m *QueueMetrics) RecordReconciled(ctx context.Context, dataType string, created, updated, failed int) {
	if m == nil || m.recordsReconciled == nil {
		return
	}

	add := func(outcome string, n int) {
		if n == 0 {
			return
		}
		attrs := []attribute.KeyValue{
			attribute.String("data_type", dataType),
			attribute.String("outcome", outcome),
		}
		m.recordsReconciled.Add(ctx, int64(n), metric.WithAttributes(attrs...))
	}
	add("created", created)
	add("updated", updated)
	add("failed", failed)
}

// RecordProcessingDuration records the duration of one processing cycle.
func (m *QueueMetrics) RecordProcessingDuration(ctx context.Context, dataType string, duration time.Duration, success bool) {
	if m == nil || m.processingDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("data_type", dataType),
		attribute.Bool("success", success),
	}

	m.processingDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
