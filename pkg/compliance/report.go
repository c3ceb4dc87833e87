package compliance

import (
	"time"

	"github.com/yairfalse/vigil/pkg/resource"
)

// ScanReport holds the verdicts of one scan run. Entries keep enumeration
// order within a pair and pair order across pairs.
type ScanReport struct {
	RunID     string          `json:"run_id" yaml:"run_id"`
	Mode      Mode            `json:"mode" yaml:"mode"`
	Kinds     []resource.Kind `json:"kinds" yaml:"kinds"`
	Entries   []Verdict       `json:"entries" yaml:"entries"`
	Skipped   []Skipped       `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Errors    []ScanError     `json:"errors,omitempty" yaml:"errors,omitempty"`
	Cancelled bool            `json:"cancelled" yaml:"cancelled"`
	StartTime time.Time       `json:"start_time" yaml:"start_time"`
	EndTime   time.Time       `json:"end_time" yaml:"end_time"`
	Duration  time.Duration   `json:"duration" yaml:"duration"`
}

// Merge appends other's kinds, entries, skips and errors, and propagates
// cancellation.
func (r *ScanReport) Merge(other *ScanReport) {
	if other == nil {
		return
	}
	for _, k := range other.Kinds {
		if !r.HasKind(k) {
			r.Kinds = append(r.Kinds, k)
		}
	}
	r.Entries = append(r.Entries, other.Entries...)
	r.Skipped = append(r.Skipped, other.Skipped...)
	r.Errors = append(r.Errors, other.Errors...)
	r.Cancelled = r.Cancelled || other.Cancelled
}

// HasKind reports whether a pass over kind ran in this report.
func (r *ScanReport) HasKind(kind resource.Kind) bool {
	for _, k := range r.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// NonCompliant returns the violations in report order.
func (r *ScanReport) NonCompliant() []Verdict {
	var out []Verdict
	for _, v := range r.Entries {
		if !v.Compliant {
			out = append(out, v)
		}
	}
	return out
}

// Unresolved counts violations that were not remediated.
func (r *ScanReport) Unresolved() int {
	n := 0
	for _, v := range r.Entries {
		if v.Unresolved() {
			n++
		}
	}
	return n
}

// HasErrors reports whether any pair was aborted.
func (r *ScanReport) HasErrors() bool {
	return len(r.Errors) > 0
}

// KindCounts summarises verdicts for one resource kind.
type KindCounts struct {
	Scanned      int `json:"scanned" yaml:"scanned"`
	NonCompliant int `json:"non_compliant" yaml:"non_compliant"`
	Remediated   int `json:"remediated" yaml:"remediated"`
	Skipped      int `json:"skipped" yaml:"skipped"`
}

// Counts summarises the report per resource kind.
func (r *ScanReport) Counts() map[resource.Kind]KindCounts {
	counts := make(map[resource.Kind]KindCounts)
	for _, v := range r.Entries {
		c := counts[v.Resource.Kind]
		c.Scanned++
		if !v.Compliant {
			c.NonCompliant++
		}
		if v.Remediated {
			c.Remediated++
		}
		counts[v.Resource.Kind] = c
	}
	for _, s := range r.Skipped {
		c := counts[s.Kind]
		c.Skipped++
		counts[s.Kind] = c
	}
	return counts
}
