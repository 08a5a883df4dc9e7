package flowedit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/flowrunner/internal/flow"
)

func baseFlow() *flow.Flow {
	return &flow.Flow{
		SchemaVersion: "v1",
		ID:            "onboarding",
		Entry:         "q_name",
		Nodes: []flow.Node{
			{ID: "q_name", Kind: flow.KindQuestion, Question: &flow.QuestionSpec{Key: "name", Prompt: "Name?"}},
			{ID: "end", Kind: flow.KindTerminal, Terminal: &flow.TerminalSpec{}},
		},
		Edges: []flow.Edge{
			{Source: "q_name", Target: "end", Guard: &flow.GuardRef{Fn: "answers_has", Args: map[string]any{"key": "name"}}},
		},
	}
}

func newExecutor(t *testing.T) (*Executor, *VersionStore) {
	t.Helper()
	vs := NewVersionStore()
	x := NewExecutor(vs)
	_, err := x.Register(baseFlow())
	require.NoError(t, err)
	return x, vs
}

func TestApplyAddNodeAndEdgeCommits(t *testing.T) {
	x, vs := newExecutor(t)
	batch := Batch{
		FlowID:      "onboarding",
		Instruction: "add an age question",
		Actor:       "admin-1",
		Ops: []Op{
			{Kind: OpAddNode, Node: &flow.Node{ID: "q_age", Kind: flow.KindQuestion, Question: &flow.QuestionSpec{Key: "age", Prompt: "Age?"}}},
			{Kind: OpDeleteEdge, EdgeIdx: 0},
			{Kind: OpAddEdge, Edge: &flow.Edge{Source: "q_name", Target: "q_age", Guard: &flow.GuardRef{Fn: "answers_has", Args: map[string]any{"key": "name"}}}},
			{Kind: OpAddEdge, Edge: &flow.Edge{Source: "q_age", Target: "end", Guard: &flow.GuardRef{Fn: "answers_has", Args: map[string]any{"key": "age"}}}},
		},
	}

	cf, err := x.Apply(batch)
	require.NoError(t, err)
	_, ok := cf.Node("q_age")
	assert.True(t, ok)
	assert.Len(t, vs.History("onboarding"), 1)
}

func TestApplyAbortsWholeBatchOnFailure(t *testing.T) {
	x, _ := newExecutor(t)
	before, _ := x.Current("onboarding")

	batch := Batch{
		FlowID: "onboarding",
		Ops: []Op{
			{Kind: OpAddNode, Node: &flow.Node{ID: "q_age", Kind: flow.KindQuestion, Question: &flow.QuestionSpec{Key: "age", Prompt: "Age?"}}},
			{Kind: OpAddEdge, Edge: &flow.Edge{Source: "q_age", Target: "nowhere"}},
		},
	}

	_, err := x.Apply(batch)
	require.Error(t, err)

	after, _ := x.Current("onboarding")
	assert.Same(t, before, after)
	_, ok := after.Node("q_age")
	assert.False(t, ok)
}

func TestDeleteNodeCascadesEdges(t *testing.T) {
	x, _ := newExecutor(t)
	batch := Batch{
		FlowID: "onboarding",
		Ops: []Op{
			{Kind: OpAddNode, Node: &flow.Node{ID: "decoy", Kind: flow.KindTerminal, Terminal: &flow.TerminalSpec{}}},
			{Kind: OpDeleteEdge, EdgeIdx: 0},
			{Kind: OpAddEdge, Edge: &flow.Edge{Source: "q_name", Target: "decoy"}},
			{Kind: OpDeleteNode, NodeID: "decoy"},
			{Kind: OpAddEdge, Edge: &flow.Edge{Source: "q_name", Target: "end", Guard: &flow.GuardRef{Fn: "answers_has", Args: map[string]any{"key": "name"}}}},
		},
	}
	cf, err := x.Apply(batch)
	require.NoError(t, err)
	_, ok := cf.Node("decoy")
	assert.False(t, ok)
	assert.Empty(t, cf.OutgoingEdges("decoy"))
}

func TestSetEntryRequiresExistingNode(t *testing.T) {
	x, _ := newExecutor(t)
	batch := Batch{FlowID: "onboarding", Ops: []Op{{Kind: OpSetEntry, EntryID: "ghost"}}}
	_, err := x.Apply(batch)
	assert.Error(t, err)
}

func TestParseBatchJSONRoundTrips(t *testing.T) {
	instruction := `[{"kind":"add_node","node":{"id":"q_age","kind":"question","question":{"key":"age","prompt":"Age?"}}}]`
	batch, err := ParseBatchJSON("onboarding", instruction, "admin-1")
	require.NoError(t, err)
	require.Len(t, batch.Ops, 1)
	assert.Equal(t, OpAddNode, batch.Ops[0].Kind)
	require.NotNil(t, batch.Ops[0].Node)
	assert.Equal(t, "q_age", batch.Ops[0].Node.ID)
}

func TestParseBatchJSONRejectsNonJSON(t *testing.T) {
	_, err := ParseBatchJSON("onboarding", "add an age question please", "admin-1")
	assert.Error(t, err)
}

func TestParseBatchJSONRejectsEmptyBatch(t *testing.T) {
	_, err := ParseBatchJSON("onboarding", "[]", "admin-1")
	assert.Error(t, err)
}
