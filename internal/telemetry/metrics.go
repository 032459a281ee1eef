package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GovernanceMetricsMeterName is the name used for the governance meter
const GovernanceMetricsMeterName = "github.com/wippyhq/registry-governor/governance"

// GovernanceMetrics holds the instruments for coordinator operations
type GovernanceMetrics struct {
	operationsTotal   metric.Int64Counter
	operationDuration metric.Float64Histogram
	entriesSynced     metric.Int64Gauge
}

// NewGovernanceMetrics creates the governance instruments. A nil provider
// returns nil, which every recording method treats as a no-op.
func NewGovernanceMetrics(provider metric.MeterProvider) (*GovernanceMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(GovernanceMetricsMeterName)

	operationsTotal, err := meter.Int64Counter(
		"governor_operations_total",
		metric.WithDescription("Number of governance operations processed"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	operationDuration, err := meter.Float64Histogram(
		"governor_operation_duration_seconds",
		metric.WithDescription("Wall-clock duration of governance operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	entriesSynced, err := meter.Int64Gauge(
		"governor_entries_synced",
		metric.WithDescription("Number of entries touched by the last sync operation"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	return &GovernanceMetrics{
		operationsTotal:   operationsTotal,
		operationDuration: operationDuration,
		entriesSynced:     entriesSynced,
	}, nil
}

// RecordOperation records one completed operation
func (m *GovernanceMetrics) RecordOperation(ctx context.Context, op string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.Bool("success", success),
	)
	m.operationsTotal.Add(ctx, 1, attrs)
	m.operationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordEntriesSynced records how many entries the last upload or download
// touched
func (m *GovernanceMetrics) RecordEntriesSynced(ctx context.Context, op string, count int64) {
	if m == nil {
		return
	}
	m.entriesSynced.Record(ctx, count, metric.WithAttributes(attribute.String("operation", op)))
}
