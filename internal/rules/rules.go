// Package rules holds the compliance predicates evaluated by the engine.
package rules

import (
	"github.com/yairfalse/vigil/pkg/compliance"
	"github.com/yairfalse/vigil/pkg/resource"
)

// DefaultRetentionDays is the retention suggested for log groups without one.
const DefaultRetentionDays = 30

// Rule maps one resource descriptor to a verdict. Evaluate must be a pure
// function of the descriptor and never perform I/O.
type Rule interface {
	Name() string
	Kind() resource.Kind
	Evaluate(r resource.Resource) compliance.Verdict
}

// All returns the built-in rules in evaluation order.
func All(retentionDays int) []Rule {
	return []Rule{
		&PublicExposureRule{},
		&RetentionPolicyRule{Days: retentionDays},
	}
}

// ForKind returns the built-in rule for kind, or nil.
func ForKind(kind resource.Kind, retentionDays int) Rule {
	for _, r := range All(retentionDays) {
		if r.Kind() == kind {
			return r
		}
	}
	return nil
}
