package emitter

import (
	"sort"
	"sync"

	"github.com/yairfalse/vigil/pkg/compliance"
	"github.com/yairfalse/vigil/pkg/resource"
)

// DriftType classifies a compliance change between two scans.
type DriftType string

const (
	// DriftViolated marks a resource that is newly non-compliant.
	DriftViolated DriftType = "violated"
	// DriftResolved marks a violation that is now compliant or remediated.
	DriftResolved DriftType = "resolved"
)

// Drift is one compliance change between consecutive scans.
type Drift struct {
	Type    DriftType
	Verdict compliance.Verdict
}

// DriftTracker remembers the last verdict per resource and rule, in memory
// only, and reports which resources changed state.
type DriftTracker struct {
	mu          sync.RWMutex
	previous    map[string]compliance.Verdict
	initialized bool
}

// NewDriftTracker creates a new drift tracker.
func NewDriftTracker() *DriftTracker {
	return &DriftTracker{
		previous: make(map[string]compliance.Verdict),
	}
}

func verdictKey(v compliance.Verdict) string {
	return resource.ResourceKey(v.Resource) + "|" + v.Rule
}

// ComputeDrift compares the report against the previous one.
// Returns nil on first scan (baseline establishment).
// Kinds whose pass failed are left out, since their absence says nothing
// about the resources.
func (d *DriftTracker) ComputeDrift(report *compliance.ScanReport) []Drift {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.initialized {
		return nil
	}

	drifts := make([]Drift, 0)
	current := make(map[string]bool)
	for _, v := range report.Entries {
		key := verdictKey(v)
		current[key] = true
		prev, seen := d.previous[key]
		switch {
		case v.Unresolved() && (!seen || !prev.Unresolved()):
			drifts = append(drifts, Drift{Type: DriftViolated, Verdict: v})
		case !v.Unresolved() && seen && prev.Unresolved():
			drifts = append(drifts, Drift{Type: DriftResolved, Verdict: v})
		}
	}

	// A deleted violating resource no longer violates anything.
	complete := completeKinds(report)
	for key, prev := range d.previous {
		if current[key] || !prev.Unresolved() || !complete[prev.Resource.Kind] {
			continue
		}
		drifts = append(drifts, Drift{Type: DriftResolved, Verdict: prev})
	}

	sort.SliceStable(drifts, func(i, j int) bool {
		return verdictKey(drifts[i].Verdict) < verdictKey(drifts[j].Verdict)
	})
	return drifts
}

// Update stores the report's verdicts as the baseline. Verdicts of kinds
// whose pass failed or was cancelled keep their previous baseline.
func (d *DriftTracker) Update(report *compliance.ScanReport) {
	d.mu.Lock()
	defer d.mu.Unlock()

	complete := completeKinds(report)
	next := make(map[string]compliance.Verdict)
	for key, prev := range d.previous {
		if !complete[prev.Resource.Kind] {
			next[key] = prev
		}
	}
	for _, v := range report.Entries {
		if complete[v.Resource.Kind] {
			next[verdictKey(v)] = v
		}
	}

	d.previous = next
	d.initialized = true
}

// completeKinds returns the kinds whose pass ran to completion.
func completeKinds(report *compliance.ScanReport) map[resource.Kind]bool {
	complete := make(map[resource.Kind]bool)
	if report.Cancelled {
		return complete
	}
	for _, k := range report.Kinds {
		complete[k] = true
	}
	for _, se := range report.Errors {
		delete(complete, se.Kind)
	}
	return complete
}
