package bulk

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the engine's OpenTelemetry instruments. A nil *Metrics is
// valid and records nothing, so tests can run without a meter provider.
type Metrics struct {
	OperationsCreated  metric.Int64Counter
	OperationsFinished metric.Int64Counter
	ItemsProcessed     metric.Int64Counter
	ItemDuration       metric.Float64Histogram
	ActiveOperations   metric.Int64UpDownCounter
}

// NewMetrics creates the engine's metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	operationsCreated, err := meter.Int64Counter(
		"bulk_operations_created_total",
		metric.WithDescription("Total number of bulk operations created"),
	)
	if err != nil {
		return nil, err
	}

	operationsFinished, err := meter.Int64Counter(
		"bulk_operations_finished_total",
		metric.WithDescription("Total number of bulk operations reaching a terminal state"),
	)
	if err != nil {
		return nil, err
	}

	itemsProcessed, err := meter.Int64Counter(
		"bulk_items_processed_total",
		metric.WithDescription("Total number of items reaching a terminal state"),
	)
	if err != nil {
		return nil, err
	}

	itemDuration, err := meter.Float64Histogram(
		"bulk_item_duration_seconds",
		metric.WithDescription("Per-item execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	activeOperations, err := meter.Int64UpDownCounter(
		"bulk_operations_active",
		metric.WithDescription("Number of operations currently pending or in progress"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		OperationsCreated:  operationsCreated,
		OperationsFinished: operationsFinished,
		ItemsProcessed:     itemsProcessed,
		ItemDuration:       itemDuration,
		ActiveOperations:   activeOperations,
	}, nil
}

// RecordOperationCreated records a newly accepted operation.
func (m *Metrics) RecordOperationCreated(ctx context.Context, action ActionKind, totalItems int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("action", string(action)))
	m.OperationsCreated.Add(ctx, 1, attrs)
	m.ActiveOperations.Add(ctx, 1, attrs)
}

// RecordOperationFinished records a terminal transition.
func (m *Metrics) RecordOperationFinished(ctx context.Context, action ActionKind, status Status) {
	if m == nil {
		return
	}
	m.OperationsFinished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(action)),
		attribute.String("status", string(status)),
	))
	m.ActiveOperations.Add(ctx, -1, metric.WithAttributes(
		attribute.String("action", string(action)),
	))
}

// RecordItemOutcome records one item's terminal state and duration.
func (m *Metrics) RecordItemOutcome(ctx context.Context, action ActionKind, state ItemState, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("action", string(action)),
		attribute.String("outcome", string(state)),
	)
	m.ItemsProcessed.Add(ctx, 1, attrs)
	m.ItemDuration.Record(ctx, duration.Seconds(), attrs)
}
