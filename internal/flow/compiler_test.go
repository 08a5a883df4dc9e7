package flow

import "testing"

func linearFlow() *Flow {
	return &Flow{
		SchemaVersion: "v1",
		ID:            "f1",
		Entry:         "start",
		Version:       1,
		Nodes: []Node{
			{ID: "start", Kind: KindDecision, Decision: &DecisionSpec{DecisionType: DecisionAutomatic}},
			{ID: "q_name", Kind: KindQuestion, Question: &QuestionSpec{Key: "name", Prompt: "What is your name?"}},
			{ID: "q_age", Kind: KindQuestion, Question: &QuestionSpec{Key: "age", Prompt: "How old are you?"}},
			{ID: "end", Kind: KindTerminal, Terminal: &TerminalSpec{Success: true}},
		},
		Edges: []Edge{
			{Source: "start", Target: "q_name", Guard: &GuardRef{Fn: "always"}, Priority: 0},
			{Source: "q_name", Target: "q_age", Guard: &GuardRef{Fn: "answers_has", Args: map[string]any{"key": "name"}}, Priority: 0},
			{Source: "q_age", Target: "end", Guard: &GuardRef{Fn: "answers_has", Args: map[string]any{"key": "age"}}, Priority: 0},
		},
	}
}

func TestCompileLinearFlow(t *testing.T) {
	cf, err := Compile(linearFlow())
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	if len(cf.ValidationErrors) != 0 {
		t.Fatalf("unexpected errors: %+v", cf.ValidationErrors)
	}
	if len(cf.ValidationWarnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", cf.ValidationWarnings)
	}
	edges := cf.OutgoingEdges("start")
	if len(edges) != 1 || edges[0].Target != "q_name" {
		t.Fatalf("unexpected edges from start: %+v", edges)
	}
}

func TestCompileMissingEntry(t *testing.T) {
	f := linearFlow()
	f.Entry = "nope"
	_, err := Compile(f)
	if err == nil {
		t.Fatal("expected compile error for missing entry")
	}
}

func TestCompileUnknownGuard(t *testing.T) {
	f := linearFlow()
	f.Edges[0].Guard = &GuardRef{Fn: "does_not_exist"}
	_, err := Compile(f)
	if err == nil {
		t.Fatal("expected compile error for unknown guard")
	}
}

func TestCompileUnreachableNodeIsWarningNotError(t *testing.T) {
	f := linearFlow()
	f.Nodes = append(f.Nodes, Node{ID: "orphan", Kind: KindQuestion, Question: &QuestionSpec{Key: "x", Prompt: "x?"}})
	cf, err := Compile(f)
	if err != nil {
		t.Fatalf("unreachable node must not be a compile error: %v", err)
	}
	found := false
	for _, w := range cf.ValidationWarnings {
		if w.NodeID == "orphan" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected unreachable_node warning for orphan")
	}
}

func TestCompileDecisionOnlyCycleIsError(t *testing.T) {
	f := &Flow{
		Entry: "d1",
		Nodes: []Node{
			{ID: "d1", Kind: KindDecision, Decision: &DecisionSpec{DecisionType: DecisionAutomatic}},
			{ID: "d2", Kind: KindDecision, Decision: &DecisionSpec{DecisionType: DecisionAutomatic}},
			{ID: "end", Kind: KindTerminal, Terminal: &TerminalSpec{}},
		},
		Edges: []Edge{
			{Source: "d1", Target: "d2", Priority: 0},
			{Source: "d2", Target: "d1", Priority: 0},
			{Source: "d1", Target: "end", Priority: 1},
		},
	}
	_, err := Compile(f)
	if err == nil {
		t.Fatal("expected compile error for decision-only cycle")
	}
}

func TestCompileQuestionCycleIsWarning(t *testing.T) {
	f := &Flow{
		Entry: "q1",
		Nodes: []Node{
			{ID: "q1", Kind: KindQuestion, Question: &QuestionSpec{Key: "a", Prompt: "a?"}},
			{ID: "d1", Kind: KindDecision, Decision: &DecisionSpec{DecisionType: DecisionAutomatic}},
			{ID: "end", Kind: KindTerminal, Terminal: &TerminalSpec{}},
		},
		Edges: []Edge{
			{Source: "q1", Target: "d1", Priority: 0},
			{Source: "d1", Target: "q1", Priority: 0},
			{Source: "d1", Target: "end", Priority: 1},
		},
	}
	cf, err := Compile(f)
	if err != nil {
		t.Fatalf("cycle through a question node must only be a warning: %v", err)
	}
	if len(cf.ValidationWarnings) == 0 {
		t.Fatal("expected a cycle warning")
	}
}

func TestCompileNoReachableTerminal(t *testing.T) {
	f := &Flow{
		Entry: "q1",
		Nodes: []Node{
			{ID: "q1", Kind: KindQuestion, Question: &QuestionSpec{Key: "a", Prompt: "a?"}},
		},
	}
	_, err := Compile(f)
	if err == nil {
		t.Fatal("expected compile error when no terminal is reachable from entry")
	}
}

func TestEdgeOrderingPriorityThenInsertion(t *testing.T) {
	f := &Flow{
		Entry: "d1",
		Nodes: []Node{
			{ID: "d1", Kind: KindDecision, Decision: &DecisionSpec{DecisionType: DecisionAutomatic}},
			{ID: "a", Kind: KindTerminal, Terminal: &TerminalSpec{}},
			{ID: "b", Kind: KindTerminal, Terminal: &TerminalSpec{}},
			{ID: "c", Kind: KindTerminal, Terminal: &TerminalSpec{}},
		},
		Edges: []Edge{
			{Source: "d1", Target: "a", Priority: 5},
			{Source: "d1", Target: "b", Priority: 1},
			{Source: "d1", Target: "c", Priority: 1},
		},
	}
	cf, err := Compile(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	edges := cf.OutgoingEdges("d1")
	if len(edges) != 3 || edges[0].Target != "b" || edges[1].Target != "c" || edges[2].Target != "a" {
		t.Fatalf("unexpected edge order: %+v", edges)
	}
}
