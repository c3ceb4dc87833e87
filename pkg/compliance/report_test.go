package compliance

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vigil/pkg/resource"
)

func TestViolation_DropsNoneAction(t *testing.T) {
	r := resource.Resource{Kind: resource.KindBucket, ID: "b1"}

	v := Violation("public_exposure", r, "public exposure", Action{Kind: ActionNone})
	assert.False(t, v.Compliant)
	assert.Nil(t, v.SuggestedAction)

	v = Violation("retention_policy", r, "no retention policy", ApplyRetention(30))
	require.NotNil(t, v.SuggestedAction)
	assert.Equal(t, ApplyRetention(30), *v.SuggestedAction)
}

func TestPass_HasNoAction(t *testing.T) {
	v := Pass("public_exposure", resource.Resource{ID: "b1"}, "no bucket policy")
	assert.True(t, v.Compliant)
	assert.Nil(t, v.SuggestedAction)
	assert.False(t, v.Unresolved())
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "ApplyRetention(30)", ApplyRetention(30).String())
	assert.Equal(t, "None", Action{}.String())
	assert.True(t, Action{}.IsNone())
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"", ModeReportOnly},
		{"report-only", ModeReportOnly},
		{"REPORT_ONLY", ModeReportOnly},
		{"remediate", ModeRemediate},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseMode("enforce-everything")
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))
}

func TestScanReport_Summaries(t *testing.T) {
	bucket := resource.Resource{Kind: resource.KindBucket, ID: "b1"}
	lg := resource.Resource{Kind: resource.KindLogGroup, ID: "lg1"}

	report := &ScanReport{
		Entries: []Verdict{
			Pass("public_exposure", bucket, "no bucket policy"),
			Violation("retention_policy", lg, "no retention policy", ApplyRetention(30)),
		},
		Skipped: []Skipped{{Kind: resource.KindBucket, ID: "gone", Reason: "not found"}},
	}

	assert.Len(t, report.NonCompliant(), 1)
	assert.Equal(t, 1, report.Unresolved())
	assert.False(t, report.HasErrors())

	counts := report.Counts()
	assert.Equal(t, KindCounts{Scanned: 1, Skipped: 1}, counts[resource.KindBucket])
	assert.Equal(t, KindCounts{Scanned: 1, NonCompliant: 1}, counts[resource.KindLogGroup])

	report.Entries[1].Remediated = true
	assert.Equal(t, 0, report.Unresolved())
}

func TestScanReport_Merge(t *testing.T) {
	a := &ScanReport{Kinds: []resource.Kind{resource.KindBucket}, Entries: []Verdict{{Rule: "a"}}}
	b := &ScanReport{
		Kinds:     []resource.Kind{resource.KindBucket, resource.KindLogGroup},
		Entries:   []Verdict{{Rule: "b"}},
		Errors:    []ScanError{{Pair: 1, Message: "boom"}},
		Cancelled: true,
	}

	a.Merge(b)
	a.Merge(nil)

	require.Len(t, a.Entries, 2)
	assert.Equal(t, "a", a.Entries[0].Rule)
	assert.Equal(t, "b", a.Entries[1].Rule)
	assert.True(t, a.HasErrors())
	assert.True(t, a.Cancelled)
	assert.Equal(t, []resource.Kind{resource.KindBucket, resource.KindLogGroup}, a.Kinds)
	assert.True(t, a.HasKind(resource.KindLogGroup))
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("throttled")
	pe := &ProviderError{Kind: resource.KindLogGroup, Op: "list", Attempts: 3, Err: cause}
	assert.ErrorIs(t, pe, cause)
	assert.Contains(t, pe.Error(), "3 attempt(s)")

	nf := fmt.Errorf("describe: %w", &NotFoundError{Kind: resource.KindBucket, ID: "b1"})
	assert.True(t, IsNotFound(nf))
	assert.False(t, IsNotFound(pe))

	re := &RemediationError{ID: "lg1", Action: ApplyRetention(30), Err: cause}
	assert.ErrorIs(t, re, cause)
	assert.Contains(t, re.Error(), "ApplyRetention(30)")
}
