package flow

import "github.com/haasonsaas/flowrunner/internal/guard"

// Severity classifies a validation finding.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Report is a single structured validation finding produced by Compile.
// This is the "validation-warning reporting surface" supplement described
// in SPEC_FULL.md §7: spec.md requires the compiler to produce warnings
// and errors but does not name a shape for them.
type Report struct {
	Code     string
	NodeID   string
	EdgeIdx  int
	Message  string
	Severity Severity
}

// CompiledEdge is an Edge with its guard resolved to a callable function
// and its authoring order recorded for deterministic tie-breaks.
type CompiledEdge struct {
	Target               string
	GuardName            string
	GuardArgs            map[string]any
	GuardFn              guard.Func
	Priority             int
	Order                int
	ConditionDescription string
}

// Evaluate runs the edge's guard against ctx. Edges with no guard are
// always satisfied (equivalent to "always").
func (e CompiledEdge) Evaluate(ctx guard.Context) bool {
	if e.GuardFn == nil {
		return true
	}
	ctx.Args = e.GuardArgs
	return e.GuardFn(ctx)
}

// CompiledFlow is the immutable, indexed form of a Flow produced by
// Compile. It is process-wide shareable: guard functions are pure and the
// structure is never mutated after compilation (spec.md §3, §5).
type CompiledFlow struct {
	ID        string
	Entry     string
	Version   int
	Nodes     map[string]*Node
	EdgesFrom map[string][]CompiledEdge

	ValidationWarnings []Report
	ValidationErrors   []Report
}

// Node looks up a node by id.
func (c *CompiledFlow) Node(id string) (*Node, bool) {
	n, ok := c.Nodes[id]
	return n, ok
}

// OutgoingEdges returns the edges leaving id in priority order (already
// sorted at compile time).
func (c *CompiledFlow) OutgoingEdges(id string) []CompiledEdge {
	return c.EdgesFrom[id]
}

// IsNeighbour reports whether target is reachable from source via a single
// authored edge (guard-independent), used by the engine's navigate_to
// validation.
func (c *CompiledFlow) IsNeighbour(source, target string) bool {
	for _, e := range c.EdgesFrom[source] {
		if e.Target == target {
			return true
		}
	}
	return false
}
