// Package engine drives one resource provider through one compliance rule.
package engine

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/yairfalse/vigil/internal/filter"
	"github.com/yairfalse/vigil/internal/rules"
	"github.com/yairfalse/vigil/internal/telemetry"
	"github.com/yairfalse/vigil/pkg/compliance"
	"github.com/yairfalse/vigil/pkg/resource"
)

// Remediator applies remediation actions against the live provider.
// Apply must be safe to call repeatedly for the same resource.
type Remediator interface {
	Apply(ctx context.Context, action compliance.Action, resourceID string) error
}

// Enumerator yields the resources of one kind.
type Enumerator interface {
	Kind() resource.Kind
	Enumerate(ctx context.Context) iter.Seq2[resource.Resource, error]
}

// Engine evaluates rules over enumerated resources. Engines are safe for
// concurrent use across pairs.
type Engine struct {
	remediator Remediator
	filter     *filter.Filter
	locks      *keyedMutex
	logger     *telemetry.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithRemediator sets the remediation capability used in remediate mode.
func WithRemediator(r Remediator) Option {
	return func(e *Engine) { e.remediator = r }
}

// WithFilter excludes resources matching f from evaluation.
func WithFilter(f *filter.Filter) Option {
	return func(e *Engine) { e.filter = f }
}

// WithLogger replaces the engine logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		locks:  newKeyedMutex(),
		logger: telemetry.NewLogger("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CanRemediate reports whether a remediator is configured.
func (e *Engine) CanRemediate() bool {
	return e.remediator != nil
}

// Run drains the enumerator, evaluating rule on every resource. Provider
// errors abort the pass and are recorded in the report, never returned.
// pair is the ordering key stamped on every entry.
func (e *Engine) Run(ctx context.Context, pair int, src Enumerator, rule rules.Rule, mode compliance.Mode) *compliance.ScanReport {
	report := &compliance.ScanReport{
		Mode:      mode,
		Kinds:     []resource.Kind{src.Kind()},
		StartTime: time.Now(),
	}
	logger := e.logger.WithContext(ctx)
	seen := make(map[string]bool)
	index := 0

	for r, err := range src.Enumerate(ctx) {
		if err != nil {
			if compliance.IsNotFound(err) {
				report.Skipped = append(report.Skipped, compliance.Skipped{
					Kind: src.Kind(), ID: r.ID, Pair: pair, Reason: "not found",
				})
				logger.Debug().Str("id", r.ID).Str("kind", string(src.Kind())).Msg("resource vanished before detail fetch")
				continue
			}

			var perr *compliance.ProviderError
			isProvider := errors.As(err, &perr)
			if isProvider && perr.ID != "" {
				report.Skipped = append(report.Skipped, compliance.Skipped{
					Kind: src.Kind(), ID: perr.ID, Pair: pair, Reason: "detail fetch failed: " + perr.Err.Error(),
				})
				logger.Warn().Err(err).Str("id", perr.ID).Str("kind", string(src.Kind())).Msg("detail fetch failed, resource skipped")
				continue
			}
			// A ProviderError wrapping a per-call timeout is a fault, not a cancellation.
			if !isProvider && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				report.Cancelled = true
				break
			}

			report.Errors = append(report.Errors, compliance.ScanError{
				Pair:    pair,
				Rule:    rule.Name(),
				Kind:    src.Kind(),
				Message: err.Error(),
			})
			logger.Error().Err(err).Str("rule", rule.Name()).Int("pair", pair).Msg("provider failed, pass aborted")
			break
		}

		if seen[r.ID] {
			report.Skipped = append(report.Skipped, compliance.Skipped{
				Kind: r.Kind, ID: r.ID, Pair: pair, Reason: "duplicate identifier",
			})
			logger.Warn().Str("id", r.ID).Msg("provider yielded duplicate identifier")
			continue
		}
		seen[r.ID] = true

		if e.filter != nil && !e.filter.ShouldIncludeResource(r) {
			report.Skipped = append(report.Skipped, compliance.Skipped{
				Kind: r.Kind, ID: r.ID, Pair: pair, Reason: "excluded by filter",
			})
			continue
		}

		verdict := rule.Evaluate(r)
		verdict.Pair = pair
		verdict.Index = index
		index++

		if mode == compliance.ModeRemediate && !verdict.Compliant && verdict.SuggestedAction != nil {
			e.remediate(ctx, &verdict)
		}

		report.Entries = append(report.Entries, verdict)
	}

	if ctx.Err() != nil {
		report.Cancelled = true
	}

	report.EndTime = time.Now()
	report.Duration = report.EndTime.Sub(report.StartTime)
	return report
}

// remediate applies the verdict's suggested action, recording the outcome on
// the verdict without touching Compliant.
func (e *Engine) remediate(ctx context.Context, v *compliance.Verdict) {
	if e.remediator == nil {
		v.RemediationError = "no remediator configured"
		return
	}

	id := v.Resource.ID
	action := *v.SuggestedAction

	unlock := e.locks.Lock(resource.ResourceKey(v.Resource))
	err := e.remediator.Apply(ctx, action, id)
	unlock()

	logger := e.logger.WithContext(ctx)
	if err != nil {
		rerr := &compliance.RemediationError{ID: id, Action: action, Err: err}
		v.RemediationError = rerr.Error()
		logger.Warn().Err(rerr).Str("id", id).Msg("remediation failed")
		return
	}

	v.Remediated = true
	logger.Info().Str("id", id).Str("action", action.String()).Msg("remediation applied")
}
