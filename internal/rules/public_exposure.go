package rules

import (
	"github.com/yairfalse/vigil/pkg/compliance"
	"github.com/yairfalse/vigil/pkg/resource"
)

// PublicExposureRule flags buckets whose policy status reports public access.
//
// A bucket without any policy is compliant: absence of a policy is not
// evidence of exposure. Public access granted through ACLs is not detected.
type PublicExposureRule struct{}

func (PublicExposureRule) Name() string { return "public_exposure" }

func (PublicExposureRule) Kind() resource.Kind { return resource.KindBucket }

func (rule PublicExposureRule) Evaluate(r resource.Resource) compliance.Verdict {
	status, ok := r.Attr(resource.AttrPolicyStatus)
	switch {
	case !ok:
		return compliance.Pass(rule.Name(), r, "no bucket policy")
	case status == resource.PolicyPublic:
		return compliance.Violation(rule.Name(), r, "public exposure", compliance.Action{Kind: compliance.ActionNone})
	default:
		return compliance.Pass(rule.Name(), r, "bucket policy is not public")
	}
}
