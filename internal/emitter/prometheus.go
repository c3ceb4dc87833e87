package emitter

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/vigil/pkg/compliance"
)

// PrometheusEmitter emits compliance metrics in Prometheus format via OTEL.
type PrometheusEmitter struct {
	meter metric.Meter

	// Metrics
	noncompliant      metric.Int64ObservableGauge
	scanDuration      metric.Float64Histogram
	verdictsTotal     metric.Int64Counter
	remediationsTotal metric.Int64Counter
	scanErrorsTotal   metric.Int64Counter
	driftTotal        metric.Int64Counter

	// State for observable gauge
	mu         sync.RWMutex
	unresolved map[ruleKey]int64

	driftTracker *DriftTracker
}

type ruleKey struct {
	kind string
	rule string
}

// NewPrometheusEmitter creates a Prometheus emitter on the global meter
// provider.
func NewPrometheusEmitter() (*PrometheusEmitter, error) {
	return NewPrometheusEmitterWithMeter(otel.Meter("vigil"))
}

// NewPrometheusEmitterWithMeter creates a Prometheus emitter on meter.
func NewPrometheusEmitterWithMeter(meter metric.Meter) (*PrometheusEmitter, error) {
	e := &PrometheusEmitter{
		meter:        meter,
		unresolved:   make(map[ruleKey]int64),
		driftTracker: NewDriftTracker(),
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return e, nil
}

func (e *PrometheusEmitter) initMetrics() error {
	var err error

	e.noncompliant, err = e.meter.Int64ObservableGauge(
		"vigil_noncompliant_resources",
		metric.WithDescription("Unresolved violations in the last scan"),
		metric.WithInt64Callback(e.observeNoncompliant),
	)
	if err != nil {
		return fmt.Errorf("create noncompliant gauge: %w", err)
	}

	e.scanDuration, err = e.meter.Float64Histogram(
		"vigil_scan_duration_seconds",
		metric.WithDescription("Time taken by a compliance scan"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create scan_duration histogram: %w", err)
	}

	e.verdictsTotal, err = e.meter.Int64Counter(
		"vigil_verdicts_total",
		metric.WithDescription("Total rule verdicts"),
	)
	if err != nil {
		return fmt.Errorf("create verdicts counter: %w", err)
	}

	e.remediationsTotal, err = e.meter.Int64Counter(
		"vigil_remediations_total",
		metric.WithDescription("Total remediation attempts"),
	)
	if err != nil {
		return fmt.Errorf("create remediations counter: %w", err)
	}

	e.scanErrorsTotal, err = e.meter.Int64Counter(
		"vigil_scan_errors_total",
		metric.WithDescription("Total aborted scan pairs"),
	)
	if err != nil {
		return fmt.Errorf("create scan_errors counter: %w", err)
	}

	e.driftTotal, err = e.meter.Int64Counter(
		"vigil_compliance_drift_total",
		metric.WithDescription("Total compliance state changes between scans"),
	)
	if err != nil {
		return fmt.Errorf("create drift counter: %w", err)
	}

	return nil
}

// Emit records the report as metrics.
func (e *PrometheusEmitter) Emit(ctx context.Context, report *compliance.ScanReport) error {
	e.scanDuration.Record(ctx, report.Duration.Seconds(), metric.WithAttributes(
		attribute.String("mode", string(report.Mode)),
		attribute.Bool("cancelled", report.Cancelled),
	))

	unresolved := make(map[ruleKey]int64)
	for _, v := range report.Entries {
		key := ruleKey{kind: string(v.Resource.Kind), rule: v.Rule}
		attrs := []attribute.KeyValue{
			attribute.String("kind", key.kind),
			attribute.String("rule", key.rule),
		}
		e.verdictsTotal.Add(ctx, 1, metric.WithAttributes(
			append(attrs, attribute.String("compliant", strconv.FormatBool(v.Compliant)))...))

		if v.Remediated || v.RemediationError != "" {
			outcome := "success"
			if !v.Remediated {
				outcome = "failure"
			}
			e.remediationsTotal.Add(ctx, 1, metric.WithAttributes(
				append(attrs, attribute.String("outcome", outcome))...))
		}

		if _, ok := unresolved[key]; !ok {
			unresolved[key] = 0
		}
		if v.Unresolved() {
			unresolved[key]++
		}
	}

	for _, se := range report.Errors {
		e.scanErrorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(se.Kind)),
			attribute.String("rule", se.Rule),
		))
	}

	e.emitDrift(ctx, report)
	e.driftTracker.Update(report)

	// Partial reports would under-count; keep the last complete gauge values.
	if !report.Cancelled {
		e.mu.Lock()
		e.unresolved = unresolved
		e.mu.Unlock()
	}

	return nil
}

// emitDrift computes drift and emits metrics/logs for changes.
func (e *PrometheusEmitter) emitDrift(ctx context.Context, report *compliance.ScanReport) {
	drifts := e.driftTracker.ComputeDrift(report)
	if drifts == nil {
		// First scan - baseline established
		return
	}

	for _, d := range drifts {
		r := d.Verdict.Resource
		e.driftTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(r.Kind)),
			attribute.String("rule", d.Verdict.Rule),
			attribute.String("drift", string(d.Type)),
		))

		log.Info().
			Str("id", r.ID).
			Str("kind", string(r.Kind)).
			Str("region", r.Region).
			Str("rule", d.Verdict.Rule).
			Str("drift", string(d.Type)).
			Str("reason", d.Verdict.Reason).
			Msg("compliance changed")
	}
}

// observeNoncompliant is the callback for the noncompliant gauge.
func (e *PrometheusEmitter) observeNoncompliant(_ context.Context, o metric.Int64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for key, n := range e.unresolved {
		o.Observe(n, metric.WithAttributes(
			attribute.String("kind", key.kind),
			attribute.String("rule", key.rule),
		))
	}

	return nil
}

// Close is a no-op for Prometheus emitter.
func (e *PrometheusEmitter) Close() error {
	return nil
}
