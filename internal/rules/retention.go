package rules

import (
	"strconv"

	"github.com/yairfalse/vigil/pkg/compliance"
	"github.com/yairfalse/vigil/pkg/resource"
)

// RetentionPolicyRule flags log groups that keep events forever.
type RetentionPolicyRule struct {
	// Days is the retention suggested for non-compliant groups.
	// Zero means DefaultRetentionDays.
	Days int
}

func (RetentionPolicyRule) Name() string { return "retention_policy" }

func (RetentionPolicyRule) Kind() resource.Kind { return resource.KindLogGroup }

func (rule RetentionPolicyRule) Evaluate(r resource.Resource) compliance.Verdict {
	if _, present := r.Attr(resource.AttrRetentionInDays); !present {
		return compliance.Violation(rule.Name(), r, "no retention policy", compliance.ApplyRetention(rule.days()))
	}

	days, ok := r.RetentionInDays()
	if !ok || days <= 0 {
		// Malformed value from the provider; do not overwrite it blindly.
		return compliance.Violation(rule.Name(), r, "invalid retention policy", compliance.Action{Kind: compliance.ActionNone})
	}
	return compliance.Pass(rule.Name(), r, "retention policy of "+strconv.Itoa(days)+" days")
}

func (rule RetentionPolicyRule) days() int {
	if rule.Days <= 0 {
		return DefaultRetentionDays
	}
	return rule.Days
}
