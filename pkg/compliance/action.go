// Package compliance defines verdicts, remediation actions and scan reports.
package compliance

import (
	"fmt"
	"strings"
)

// ActionKind identifies a remediation.
type ActionKind string

const (
	ActionNone           ActionKind = "none"
	ActionApplyRetention ActionKind = "apply_retention"
)

// Action is a remediation the engine may apply to a non-compliant resource.
// Applying an Action must be idempotent.
type Action struct {
	Kind ActionKind `json:"kind" yaml:"kind"`
	Days int        `json:"days,omitempty" yaml:"days,omitempty"`
}

// ApplyRetention returns an action setting log retention to days.
func ApplyRetention(days int) Action {
	return Action{Kind: ActionApplyRetention, Days: days}
}

// IsNone reports whether the action does nothing.
func (a Action) IsNone() bool {
	return a.Kind == "" || a.Kind == ActionNone
}

func (a Action) String() string {
	switch a.Kind {
	case ActionApplyRetention:
		return fmt.Sprintf("ApplyRetention(%d)", a.Days)
	default:
		return "None"
	}
}

// Mode selects whether the engine applies suggested actions.
type Mode string

const (
	// ModeReportOnly never mutates cloud state.
	ModeReportOnly Mode = "report_only"
	// ModeRemediate applies suggested actions to non-compliant resources.
	ModeRemediate Mode = "remediate"
)

// ParseMode parses a mode name. Empty input yields ModeReportOnly.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "", "report_only", "report":
		return ModeReportOnly, nil
	case "remediate":
		return ModeRemediate, nil
	}
	return "", &ConfigurationError{Reason: fmt.Sprintf("unknown mode %q (must be report-only or remediate)", s)}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeReportOnly || m == ModeRemediate
}
