package orchestrator

import (
	"github.com/yairfalse/vigil/internal/engine"
	"github.com/yairfalse/vigil/internal/rules"
	"github.com/yairfalse/vigil/pkg/compliance"
)

// Pair binds one provider to the rule evaluated over its resources.
type Pair struct {
	Provider engine.Enumerator
	Rule     rules.Rule
}

// slot holds one pair's outcome until reports are merged in pair order.
// A nil report means the pair never started.
type slot struct {
	report *compliance.ScanReport
}
