package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewGovernanceMetrics_NilProvider(t *testing.T) {
	t.Parallel()

	m, err := NewGovernanceMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	// nil metrics are a no-op, never a panic
	m.RecordOperation(context.Background(), "upload", true, time.Second)
	m.RecordEntriesSynced(context.Background(), "upload", 3)
}

func TestGovernanceMetrics_Record(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewGovernanceMetrics(provider)
	require.NoError(t, err)
	require.NotNil(t, m)

	m.RecordOperation(context.Background(), "download", true, 250*time.Millisecond)
	m.RecordOperation(context.Background(), "download", false, time.Second)
	m.RecordEntriesSynced(context.Background(), "download", 12)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	assert.Equal(t, GovernanceMetricsMeterName, rm.ScopeMetrics[0].Scope.Name)
	assert.Len(t, rm.ScopeMetrics[0].Metrics, 3)
}
