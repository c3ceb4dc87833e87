package daemon

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	statusSuccess   = "success"
	statusPartial   = "partial"
	statusFailed    = "failed"
	statusCancelled = "cancelled"
)

// Metrics holds operational metrics using OTEL semantic conventions
type Metrics struct {
	scans        metric.Int64Counter
	scanDuration metric.Float64Histogram
	unresolved   metric.Int64Gauge
}

// NewMetrics creates daemon metrics on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter("vigil.daemon"))
}

// NewMetricsWithMeter creates daemon metrics on meter.
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	scans, err := meter.Int64Counter(
		"vigil.daemon.scans",
		metric.WithDescription("Number of scheduled scan runs"),
		metric.WithUnit("{scan}"),
	)
	if err != nil {
		return nil, err
	}

	scanDuration, err := meter.Float64Histogram(
		"vigil.daemon.scan.duration",
		metric.WithDescription("Duration of scheduled scan runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	unresolved, err := meter.Int64Gauge(
		"vigil.violations.unresolved",
		metric.WithDescription("Unresolved violations after the last scan"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		scans:        scans,
		scanDuration: scanDuration,
		unresolved:   unresolved,
	}, nil
}

// RecordScan records a scan run with status
func (m *Metrics) RecordScan(ctx context.Context, status string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.scans.Add(ctx, 1, attrs)
	m.scanDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordUnresolved records the number of unresolved violations
func (m *Metrics) RecordUnresolved(ctx context.Context, n int64) {
	m.unresolved.Record(ctx, n)
}
