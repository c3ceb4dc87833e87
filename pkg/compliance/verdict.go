package compliance

import "github.com/yairfalse/vigil/pkg/resource"

// Verdict is the outcome of one rule against one resource. Compliant always
// reflects the state observed at scan time, before any remediation.
type Verdict struct {
	Resource         resource.Resource `json:"resource" yaml:"resource"`
	Rule             string            `json:"rule" yaml:"rule"`
	Compliant        bool              `json:"compliant" yaml:"compliant"`
	Reason           string            `json:"reason" yaml:"reason"`
	SuggestedAction  *Action           `json:"suggested_action,omitempty" yaml:"suggested_action,omitempty"`
	Remediated       bool              `json:"remediated" yaml:"remediated"`
	RemediationError string            `json:"remediation_error,omitempty" yaml:"remediation_error,omitempty"`

	// Ordering key: pair index within the run, enumeration index within the pair.
	Pair  int `json:"pair" yaml:"pair"`
	Index int `json:"index" yaml:"index"`
}

// Pass builds a compliant verdict.
func Pass(rule string, r resource.Resource, reason string) Verdict {
	return Verdict{Resource: r, Rule: rule, Compliant: true, Reason: reason}
}

// Violation builds a non-compliant verdict. A none action is dropped so that
// SuggestedAction is only ever set on violations that can be remediated.
func Violation(rule string, r resource.Resource, reason string, action Action) Verdict {
	v := Verdict{Resource: r, Rule: rule, Compliant: false, Reason: reason}
	if !action.IsNone() {
		a := action
		v.SuggestedAction = &a
	}
	return v
}

// Unresolved reports whether the verdict is a violation that was not remediated.
func (v Verdict) Unresolved() bool {
	return !v.Compliant && !v.Remediated
}

// Skipped records a resource that was enumerated but not evaluated.
type Skipped struct {
	Kind   resource.Kind `json:"kind" yaml:"kind"`
	ID     string        `json:"id" yaml:"id"`
	Pair   int           `json:"pair" yaml:"pair"`
	Reason string        `json:"reason" yaml:"reason"`
}

// ScanError records a pair whose pass was aborted.
type ScanError struct {
	Pair    int           `json:"pair" yaml:"pair"`
	Rule    string        `json:"rule" yaml:"rule"`
	Kind    resource.Kind `json:"kind" yaml:"kind"`
	Message string        `json:"message" yaml:"message"`
}
