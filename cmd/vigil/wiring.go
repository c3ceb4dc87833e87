package main

import (
	"context"
	"fmt"

	"github.com/yairfalse/vigil/internal/config"
	"github.com/yairfalse/vigil/internal/engine"
	"github.com/yairfalse/vigil/internal/orchestrator"
	"github.com/yairfalse/vigil/internal/provider"
	"github.com/yairfalse/vigil/internal/rules"
	"github.com/yairfalse/vigil/internal/telemetry"
	"github.com/yairfalse/vigil/pkg/compliance"
	"github.com/yairfalse/vigil/pkg/resource"
)

// scanner binds an orchestrator to the pairs and mode of one configuration.
type scanner struct {
	orch  *orchestrator.Orchestrator
	pairs []orchestrator.Pair
	mode  compliance.Mode
}

// Scan runs one full scan.
func (s *scanner) Scan(ctx context.Context) (*compliance.ScanReport, error) {
	return s.orch.Scan(ctx, s.pairs, s.mode)
}

// buildScanner wires one provider/rule pair per configured kind. tp may be nil.
func buildScanner(client provider.Client, remediator engine.Remediator, c *config.Config, tp *telemetry.Provider) (*scanner, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	mode, err := compliance.ParseMode(c.Scan.Mode)
	if err != nil {
		return nil, err
	}
	kinds, err := c.ScanKinds()
	if err != nil {
		return nil, err
	}

	engineOpts := []engine.Option{engine.WithFilter(c.Filter())}
	if remediator != nil {
		engineOpts = append(engineOpts, engine.WithRemediator(remediator))
	}

	orchOpts := []orchestrator.Option{orchestrator.WithConcurrency(c.Scan.Concurrency)}
	if tp != nil {
		orchOpts = append(orchOpts, orchestrator.WithTelemetry(tp))
	}

	pairs := make([]orchestrator.Pair, 0, len(kinds))
	for _, kind := range kinds {
		rule := rules.ForKind(kind, c.Scan.RetentionDays)
		if rule == nil {
			return nil, &compliance.ConfigurationError{Reason: fmt.Sprintf("no rule for kind %q", kind)}
		}

		opts := []provider.Option{
			provider.WithPageTimeout(c.Scan.PageTimeout),
			provider.WithMaxAttempts(c.Scan.MaxAttempts),
		}
		if needsDetail(kind) {
			opts = append(opts, provider.WithDetail())
		}

		pairs = append(pairs, orchestrator.Pair{
			Provider: provider.New(client, kind, opts...),
			Rule:     rule,
		})
	}

	return &scanner{
		orch:  orchestrator.New(engine.New(engineOpts...), orchOpts...),
		pairs: pairs,
		mode:  mode,
	}, nil
}

// needsDetail reports whether listing alone lacks the attributes the kind's
// rule reads. Bucket listings carry no policy status.
func needsDetail(kind resource.Kind) bool {
	return kind == resource.KindBucket
}
