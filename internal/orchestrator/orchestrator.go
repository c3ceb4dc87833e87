// Package orchestrator runs provider/rule pairs and aggregates their reports.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/vigil/internal/engine"
	"github.com/yairfalse/vigil/internal/telemetry"
	"github.com/yairfalse/vigil/pkg/compliance"
)

// Orchestrator coordinates enumerate → evaluate → remediate across pairs.
type Orchestrator struct {
	engine      *engine.Engine
	telemetry   *telemetry.Provider
	logger      *telemetry.Logger
	concurrency int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTelemetry records spans and pass metrics through p.
func WithTelemetry(p *telemetry.Provider) Option {
	return func(o *Orchestrator) { o.telemetry = p }
}

// WithConcurrency bounds how many pairs run at once. Values below 1 mean
// sequential.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = n }
}

// WithLogger replaces the orchestrator logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator driving e.
func New(e *engine.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:      e,
		logger:      telemetry.NewLogger("orchestrator"),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}
	return o
}

// Scan runs every pair and returns the aggregate report. Setup problems are
// returned as *compliance.ConfigurationError before anything is enumerated.
// Otherwise the report is always non-nil, including when the error is
// compliance.ErrAllPairsFailed.
func (o *Orchestrator) Scan(ctx context.Context, pairs []Pair, mode compliance.Mode) (*compliance.ScanReport, error) {
	if err := o.validate(pairs, mode); err != nil {
		return nil, err
	}

	report := &compliance.ScanReport{
		RunID:     uuid.NewString(),
		Mode:      mode,
		StartTime: time.Now(),
	}

	ctx, span := o.startSpan(ctx, "vigil.scan",
		attribute.String("run_id", report.RunID),
		attribute.String("mode", string(mode)),
		attribute.Int("pairs", len(pairs)),
	)
	defer span.End()

	logger := o.logger.WithContext(ctx)
	logger.Info().
		Str("run_id", report.RunID).
		Str("mode", string(mode)).
		Int("pairs", len(pairs)).
		Msg("starting scan")

	failed := 0
	for _, s := range o.runPairs(ctx, pairs, mode) {
		if s.report == nil {
			report.Cancelled = true
			continue
		}
		report.Merge(s.report)
		if s.report.HasErrors() {
			failed++
		}
	}
	if ctx.Err() != nil {
		report.Cancelled = true
	}

	report.EndTime = time.Now()
	report.Duration = report.EndTime.Sub(report.StartTime)

	logger.Info().
		Str("run_id", report.RunID).
		Int("entries", len(report.Entries)).
		Int("non_compliant", len(report.NonCompliant())).
		Int("skipped", len(report.Skipped)).
		Int("errors", len(report.Errors)).
		Bool("cancelled", report.Cancelled).
		Dur("duration", report.Duration).
		Msg("scan complete")

	if failed == len(pairs) {
		return report, fmt.Errorf("%w: %d of %d", compliance.ErrAllPairsFailed, failed, len(pairs))
	}
	return report, nil
}

// runPairs executes pairs with bounded concurrency. Each pair writes only its
// own slot, so the returned slice is in pair order regardless of scheduling.
func (o *Orchestrator) runPairs(ctx context.Context, pairs []Pair, mode compliance.Mode) []slot {
	slots := make([]slot, len(pairs))

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, p := range pairs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			slots[i].report = o.runPair(ctx, i, p, mode)
			return nil
		})
	}
	_ = g.Wait()

	return slots
}

func (o *Orchestrator) runPair(ctx context.Context, i int, p Pair, mode compliance.Mode) *compliance.ScanReport {
	kind := string(p.Provider.Kind())
	rule := p.Rule.Name()

	ctx, span := o.startSpan(ctx, "vigil.pair",
		attribute.Int("pair", i),
		attribute.String("kind", kind),
		attribute.String("rule", rule),
	)
	defer span.End()

	o.logger.WithContext(ctx).Debug().
		Int("pair", i).
		Str("kind", kind).
		Str("rule", rule).
		Msg("running pair")

	r := o.engine.Run(ctx, i, p.Provider, p.Rule, mode)

	if r.HasErrors() {
		span.SetStatus(codes.Error, r.Errors[0].Message)
	}
	if o.telemetry != nil {
		o.telemetry.RecordPass(ctx, kind, rule, len(r.Entries), r.Duration, r.HasErrors())
	}
	return r
}

func (o *Orchestrator) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if o.telemetry == nil {
		return ctx, noop.Span{}
	}
	return o.telemetry.StartSpan(ctx, name, attrs...)
}

func (o *Orchestrator) validate(pairs []Pair, mode compliance.Mode) error {
	if len(pairs) == 0 {
		return &compliance.ConfigurationError{Reason: "no provider/rule pairs"}
	}
	if !mode.Valid() {
		return &compliance.ConfigurationError{Reason: fmt.Sprintf("unknown mode %q", mode)}
	}
	if o.engine == nil {
		return &compliance.ConfigurationError{Reason: "no engine"}
	}
	if mode == compliance.ModeRemediate && !o.engine.CanRemediate() {
		return &compliance.ConfigurationError{Reason: "remediate mode requires a remediator"}
	}
	for i, p := range pairs {
		if p.Provider == nil {
			return &compliance.ConfigurationError{Reason: fmt.Sprintf("pair %d: nil provider", i)}
		}
		if p.Rule == nil {
			return &compliance.ConfigurationError{Reason: fmt.Sprintf("pair %d: nil rule", i)}
		}
		if p.Provider.Kind() != p.Rule.Kind() {
			return &compliance.ConfigurationError{Reason: fmt.Sprintf(
				"pair %d: rule %s evaluates %s, provider yields %s",
				i, p.Rule.Name(), p.Rule.Kind(), p.Provider.Kind())}
		}
	}
	return nil
}
