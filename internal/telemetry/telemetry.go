// Package telemetry provides OpenTelemetry instrumentation for Vigil.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"

	"github.com/yairfalse/vigil/internal/config"
)

const instrumentation = "vigil"

// Provider owns the tracer and meter behind scan spans and pass metrics.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	pass passInstruments
}

// passInstruments are recorded once per finished provider/rule pass.
type passInstruments struct {
	duration  metric.Float64Histogram
	evaluated metric.Int64Counter
	aborted   metric.Int64Counter
}

// NewProvider builds the providers and installs them globally. Spans and
// metrics leave the process only through the exporters cfg enables: OTLP
// over gRPC when an endpoint is set, and the Prometheus registry served on
// /metrics in daemon mode.
func NewProvider(ctx context.Context, cfg config.OTELConfig) (*Provider, error) {
	spanOpts, err := spanExport(ctx, cfg)
	if err != nil {
		return nil, err
	}
	readers, err := metricReaders(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newProvider(ctx, cfg.ServiceName, spanOpts, readers)
}

// NewProviderWithReader builds a provider whose metrics are collected only by
// reader. Spans are recorded but not exported.
func NewProviderWithReader(ctx context.Context, serviceName string, reader sdkmetric.Reader) (*Provider, error) {
	return newProvider(ctx, serviceName, nil, []sdkmetric.Reader{reader})
}

func newProvider(ctx context.Context, serviceName string, spanOpts []sdktrace.TracerProviderOption, readers []sdkmetric.Reader) (*Provider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		meterOpts = append(meterOpts, sdkmetric.WithReader(r))
	}

	p := &Provider{
		tracerProvider: sdktrace.NewTracerProvider(append(spanOpts, sdktrace.WithResource(res))...),
		meterProvider:  sdkmetric.NewMeterProvider(meterOpts...),
	}
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetMeterProvider(p.meterProvider)
	p.tracer = p.tracerProvider.Tracer(instrumentation)
	p.meter = p.meterProvider.Meter(instrumentation)

	if p.pass, err = newPassInstruments(p.meter); err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}
	return p, nil
}

// spanExport returns the batching exporter and sampler for traces, or nothing
// when traces stay local.
func spanExport(ctx context.Context, cfg config.OTELConfig) ([]sdktrace.TracerProviderOption, error) {
	if !cfg.Traces.Enabled || cfg.Endpoint == "" {
		return nil, nil
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(cfg.ServiceName)),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	return []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate))),
	}, nil
}

// metricReaders returns one reader per enabled metric sink.
func metricReaders(ctx context.Context, cfg config.OTELConfig) ([]sdkmetric.Reader, error) {
	var readers []sdkmetric.Reader

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		opts := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
			otlpmetricgrpc.WithDialOption(grpc.WithUserAgent(cfg.ServiceName)),
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exp, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exp))
	}

	// Registers with the default Prometheus registry served by promhttp.
	if cfg.Metrics.Prometheus {
		exp, err := otelprom.New()
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		readers = append(readers, exp)
	}

	return readers, nil
}

func newPassInstruments(m metric.Meter) (passInstruments, error) {
	var (
		pi   passInstruments
		errs []error
		err  error
	)

	pi.duration, err = m.Float64Histogram("vigil_pair_duration_seconds",
		metric.WithDescription("Duration of one provider/rule pass"),
		metric.WithUnit("s"))
	errs = append(errs, err)

	pi.evaluated, err = m.Int64Counter("vigil_resources_evaluated_total",
		metric.WithDescription("Resources evaluated by a rule"))
	errs = append(errs, err)

	pi.aborted, err = m.Int64Counter("vigil_pair_errors_total",
		metric.WithDescription("Provider/rule passes aborted by a provider fault"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return pi, fmt.Errorf("create pass instruments: %w", err)
	}
	return pi, nil
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// StartSpan starts a new span.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordPass records one finished provider/rule pass, labelled by kind and rule.
func (p *Provider) RecordPass(ctx context.Context, kind, rule string, evaluated int, d time.Duration, aborted bool) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("rule", rule),
	)
	p.pass.duration.Record(ctx, d.Seconds(), attrs)
	p.pass.evaluated.Add(ctx, int64(evaluated), attrs)
	if aborted {
		p.pass.aborted.Add(ctx, 1, attrs)
	}
}

// Shutdown flushes pending spans and metrics.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown meter: %w", err))
	}
	return errors.Join(errs...)
}
