package emitter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/yairfalse/vigil/pkg/compliance"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestPrometheusEmitter_Emit(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	e, err := NewPrometheusEmitterWithMeter(mp.Meter("test"))
	require.NoError(t, err)

	report := sampleReport()
	report.Mode = compliance.ModeRemediate
	report.Entries[2].Remediated = true
	report.Errors = []compliance.ScanError{{Kind: "log_group", Rule: "retention_policy", Message: "boom"}}

	require.NoError(t, e.Emit(context.Background(), report))

	metrics := collect(t, reader)
	assert.Equal(t, int64(3), sumOf(t, metrics["vigil_verdicts_total"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["vigil_remediations_total"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["vigil_scan_errors_total"]))
	require.Contains(t, metrics, "vigil_scan_duration_seconds")

	gauge, ok := metrics["vigil_noncompliant_resources"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	var unresolved int64
	for _, dp := range gauge.DataPoints {
		unresolved += dp.Value
	}
	assert.Equal(t, int64(1), unresolved, "only the public bucket stays unresolved")
}

func TestPrometheusEmitter_CountsDrift(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	e, err := NewPrometheusEmitterWithMeter(mp.Meter("test"))
	require.NoError(t, err)

	require.NoError(t, e.Emit(context.Background(), reportOf(bucketVerdict("b1", false))))
	require.NoError(t, e.Emit(context.Background(), reportOf(bucketVerdict("b1", true))))

	metrics := collect(t, reader)
	assert.Equal(t, int64(1), sumOf(t, metrics["vigil_compliance_drift_total"]))
}
