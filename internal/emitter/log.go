package emitter

import (
	"context"

	"github.com/yairfalse/vigil/internal/telemetry"
	"github.com/yairfalse/vigil/pkg/compliance"
)

// LogEmitter writes one structured event per finding.
type LogEmitter struct {
	logger *telemetry.Logger
}

// NewLogEmitter creates a log emitter. A nil logger uses the default
// component logger.
func NewLogEmitter(logger *telemetry.Logger) *LogEmitter {
	if logger == nil {
		logger = telemetry.NewLogger("report")
	}
	return &LogEmitter{logger: logger}
}

// Emit logs violations, skips, errors and a summary.
func (e *LogEmitter) Emit(ctx context.Context, report *compliance.ScanReport) error {
	logger := e.logger.WithContext(ctx)

	for _, v := range report.NonCompliant() {
		event := logger.Warn().
			Str("run_id", report.RunID).
			Str("kind", string(v.Resource.Kind)).
			Str("id", v.Resource.ID).
			Str("rule", v.Rule).
			Str("reason", v.Reason).
			Bool("remediated", v.Remediated)
		if v.SuggestedAction != nil {
			event = event.Str("action", v.SuggestedAction.String())
		}
		if v.RemediationError != "" {
			event = event.Str("remediation_error", v.RemediationError)
		}
		event.Msg("non-compliant resource")
	}

	for _, s := range report.Skipped {
		logger.Debug().
			Str("run_id", report.RunID).
			Str("kind", string(s.Kind)).
			Str("id", s.ID).
			Str("reason", s.Reason).
			Msg("resource skipped")
	}

	for _, se := range report.Errors {
		logger.Error().
			Str("run_id", report.RunID).
			Int("pair", se.Pair).
			Str("kind", string(se.Kind)).
			Str("rule", se.Rule).
			Str("error", se.Message).
			Msg("scan pair failed")
	}

	logger.Info().
		Str("run_id", report.RunID).
		Str("mode", string(report.Mode)).
		Int("scanned", len(report.Entries)).
		Int("non_compliant", len(report.NonCompliant())).
		Int("unresolved", report.Unresolved()).
		Int("errors", len(report.Errors)).
		Bool("cancelled", report.Cancelled).
		Dur("duration", report.Duration).
		Msg("compliance report")

	return nil
}

// Close is a no-op for the log emitter.
func (e *LogEmitter) Close() error {
	return nil
}
