package flow

import (
	"sort"

	"github.com/haasonsaas/flowrunner/internal/errs"
	"github.com/haasonsaas/flowrunner/internal/guard"
)

// Compile validates a Flow IR and produces its indexed, immutable
// CompiledFlow (spec.md §4.2). It always returns a non-nil CompiledFlow
// carrying whatever warnings/errors it found, plus a non-nil error
// (errs.CompileErrors) iff ValidationErrors is non-empty.
func Compile(f *Flow) (*CompiledFlow, error) {
	compiled := &CompiledFlow{
		ID:        f.ID,
		Entry:     f.Entry,
		Version:   f.Version,
		Nodes:     make(map[string]*Node, len(f.Nodes)),
		EdgesFrom: make(map[string][]CompiledEdge),
	}

	var errors []*errs.CompileError
	addError := func(code, nodeID string, edgeIdx int, msg string) {
		errors = append(errors, &errs.CompileError{Code: code, NodeID: nodeID, EdgeIdx: edgeIdx, Message: msg})
		compiled.ValidationErrors = append(compiled.ValidationErrors, Report{
			Code: code, NodeID: nodeID, EdgeIdx: edgeIdx, Message: msg, Severity: SeverityError,
		})
	}
	addWarning := func(code, nodeID string, edgeIdx int, msg string) {
		compiled.ValidationWarnings = append(compiled.ValidationWarnings, Report{
			Code: code, NodeID: nodeID, EdgeIdx: edgeIdx, Message: msg, Severity: SeverityWarning,
		})
	}

	for i := range f.Nodes {
		n := f.Nodes[i]
		if _, dup := compiled.Nodes[n.ID]; dup {
			addError("duplicate_node", n.ID, -1, "duplicate node id")
			continue
		}
		compiled.Nodes[n.ID] = &f.Nodes[i]
	}

	if f.Entry == "" {
		addError("missing_entry", "", -1, "flow has no entry node")
	} else if _, ok := compiled.Nodes[f.Entry]; !ok {
		addError("missing_entry", f.Entry, -1, "entry node does not exist")
	}

	// Index edges, validating endpoints and guard names, preserving
	// authored order for tie-breaks.
	type indexedEdge struct {
		edge  Edge
		order int
	}
	bySource := make(map[string][]indexedEdge)
	for i, e := range f.Edges {
		if _, ok := compiled.Nodes[e.Source]; !ok {
			addError("unknown_edge_endpoint", e.Source, i, "edge source does not exist")
			continue
		}
		if _, ok := compiled.Nodes[e.Target]; !ok {
			addError("unknown_edge_endpoint", e.Target, i, "edge target does not exist")
			continue
		}
		if e.Guard != nil {
			if _, ok := guard.Lookup(e.Guard.Fn); !ok {
				addError("unknown_guard", e.Source, i, "unregistered guard: "+e.Guard.Fn)
				continue
			}
		}
		bySource[e.Source] = append(bySource[e.Source], indexedEdge{
			edge:  e,
			order: i,
		})
	}

	for source, list := range bySource {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].edge.Priority != list[j].edge.Priority {
				return list[i].edge.Priority < list[j].edge.Priority
			}
			return list[i].order < list[j].order
		})
		edges := make([]CompiledEdge, 0, len(list))
		for _, ie := range list {
			var guardName string
			var guardArgs map[string]any
			var guardFn guard.Func
			if ie.edge.Guard != nil {
				guardName = ie.edge.Guard.Fn
				guardArgs = ie.edge.Guard.Args
				guardFn, _ = guard.Lookup(guardName)
			}
			edges = append(edges, CompiledEdge{
				Target:               ie.edge.Target,
				GuardName:            guardName,
				GuardArgs:            guardArgs,
				GuardFn:              guardFn,
				Priority:             ie.edge.Priority,
				Order:                ie.order,
				ConditionDescription: ie.edge.ConditionDescription,
			})
		}
		compiled.EdgesFrom[source] = edges
	}

	// Reachability from entry, ignoring guards: nodes not reached are
	// warnings, never errors.
	reached := map[string]bool{}
	if f.Entry != "" {
		reached = reachableFrom(f.Entry, compiled.EdgesFrom)
	}
	var hasReachableTerminal bool
	for id, n := range compiled.Nodes {
		if !reached[id] {
			addWarning("unreachable_node", id, -1, "node is not reachable from entry")
			continue
		}
		if n.Kind == KindTerminal {
			hasReachableTerminal = true
		}
	}
	if f.Entry != "" {
		if entryNode, ok := compiled.Nodes[f.Entry]; ok && entryNode.Kind == KindTerminal {
			hasReachableTerminal = true
		}
	}
	if !hasReachableTerminal {
		addError("no_reachable_terminal", "", -1, "no terminal node is reachable from entry")
	}

	// Cycle detection on the guard-less graph. Cycles through a Question
	// node are warnings; cycles among only Decision nodes are errors
	// (they would diverge at runtime, since nothing forces progress).
	for _, scc := range stronglyConnectedComponents(compiled.Nodes, compiled.EdgesFrom) {
		if !isCycle(scc, compiled.EdgesFrom) {
			continue
		}
		onlyDecisions := true
		var firstID string
		for _, id := range scc {
			if firstID == "" {
				firstID = id
			}
			if n, ok := compiled.Nodes[id]; ok && n.Kind != KindDecision {
				onlyDecisions = false
			}
		}
		if onlyDecisions {
			addError("decision_only_cycle", firstID, -1, "cycle consists only of Decision nodes and would diverge at runtime")
		} else {
			addWarning("cycle_through_question", firstID, -1, "cycle passes through a Question node")
		}
	}

	if len(errors) > 0 {
		return compiled, errs.CompileErrors(errors)
	}
	return compiled, nil
}

func reachableFrom(entry string, edgesFrom map[string][]CompiledEdge) map[string]bool {
	seen := map[string]bool{entry: true}
	queue := []string{entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range edgesFrom[cur] {
			if !seen[e.Target] {
				seen[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}
	return seen
}

// isCycle reports whether the strongly connected component scc represents
// an actual cycle: either more than one node, or a single node with a
// self-loop.
func isCycle(scc []string, edgesFrom map[string][]CompiledEdge) bool {
	if len(scc) > 1 {
		return true
	}
	id := scc[0]
	for _, e := range edgesFrom[id] {
		if e.Target == id {
			return true
		}
	}
	return false
}

// stronglyConnectedComponents computes Tarjan's SCCs over the node graph
// (guards ignored), returning one slice of node ids per component.
func stronglyConnectedComponents(nodes map[string]*Node, edgesFrom map[string][]CompiledEdge) [][]string {
	index := 0
	indices := map[string]int{}
	lowlink := map[string]int{}
	onStack := map[string]bool{}
	var stack []string
	var result [][]string

	// Deterministic iteration order for reproducible diagnostics.
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var strongconnect func(v string)
	strongconnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		targets := make([]string, 0, len(edgesFrom[v]))
		for _, e := range edgesFrom[v] {
			targets = append(targets, e.Target)
		}
		sort.Strings(targets)

		for _, w := range targets {
			if _, ok := indices[w]; !ok {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if indices[w] < lowlink[v] {
					lowlink[v] = indices[w]
				}
			}
		}

		if lowlink[v] == indices[v] {
			var component []string
			for {
				n := len(stack) - 1
				w := stack[n]
				stack = stack[:n]
				onStack[w] = false
				component = append(component, w)
				if w == v {
					break
				}
			}
			result = append(result, component)
		}
	}

	for _, id := range ids {
		if _, ok := indices[id]; !ok {
			strongconnect(id)
		}
	}
	return result
}
