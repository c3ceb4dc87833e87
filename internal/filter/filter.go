// Package filter provides resource filtering for Vigil scans.
package filter

import (
	"strings"

	"github.com/yairfalse/vigil/pkg/resource"
)

// Filter controls which resource kinds to scan and which resources to evaluate.
type Filter struct {
	excludeKinds    map[resource.Kind]bool
	excludePrefixes []string
}

// New creates a new Filter from the provided configuration.
func New(excludeKinds []string, excludePrefixes []string) *Filter {
	excludeMap := make(map[resource.Kind]bool)
	for _, k := range excludeKinds {
		excludeMap[resource.Kind(k)] = true
	}

	var prefixes []string
	for _, p := range excludePrefixes {
		if p != "" {
			prefixes = append(prefixes, p)
		}
	}

	return &Filter{
		excludeKinds:    excludeMap,
		excludePrefixes: prefixes,
	}
}

// ShouldScanKind returns true if the given resource kind should be scanned.
func (f *Filter) ShouldScanKind(kind resource.Kind) bool {
	return !f.excludeKinds[kind]
}

// FilterKinds returns the kinds that pass the filter, in input order.
func (f *Filter) FilterKinds(kinds []resource.Kind) []resource.Kind {
	out := make([]resource.Kind, 0, len(kinds))
	for _, k := range kinds {
		if f.ShouldScanKind(k) {
			out = append(out, k)
		}
	}
	return out
}

// ShouldIncludeResource returns false if the resource ID starts with an
// excluded prefix.
func (f *Filter) ShouldIncludeResource(r resource.Resource) bool {
	for _, p := range f.excludePrefixes {
		if strings.HasPrefix(r.ID, p) {
			return false
		}
	}
	return true
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.excludeKinds) == 0 && len(f.excludePrefixes) == 0
}
