package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/flowrunner/internal/flow"
	"github.com/haasonsaas/flowrunner/internal/session"
)

func testFlow(t *testing.T) *flow.CompiledFlow {
	t.Helper()
	f := &flow.Flow{
		SchemaVersion: "v1",
		ID:            "onboarding",
		Entry:         "q_name",
		Nodes: []flow.Node{
			{ID: "q_name", Kind: flow.KindQuestion, Question: &flow.QuestionSpec{Key: "name", Prompt: "What is your name?"}},
			{ID: "q_age", Kind: flow.KindQuestion, Question: &flow.QuestionSpec{Key: "age", Prompt: "How old are you?"}},
			{ID: "end", Kind: flow.KindTerminal, Terminal: &flow.TerminalSpec{}},
		},
		Edges: []flow.Edge{
			{Source: "q_name", Target: "q_age", Guard: &flow.GuardRef{Fn: "answers_has", Args: map[string]any{"key": "name"}}, Priority: 0, ConditionDescription: "has name"},
			{Source: "q_age", Target: "end", Guard: &flow.GuardRef{Fn: "answers_has", Args: map[string]any{"key": "age"}}, Priority: 0, ConditionDescription: "has age"},
		},
	}
	cf, err := flow.Compile(f)
	require.NoError(t, err)
	return cf
}

func newCtx() *session.FlowContext {
	return session.NewFlowContext("onboarding", "user-1", "sess-1", time.Now().UTC())
}

func TestInitializeSetsEntry(t *testing.T) {
	e := New(testFlow(t))
	ctx := newCtx()
	e.Initialize(ctx)
	assert.Equal(t, "q_name", ctx.CurrentNodeID)
}

func TestGetStateDoesNotMutateAnswers(t *testing.T) {
	e := New(testFlow(t))
	ctx := newCtx()
	e.Initialize(ctx)
	ctx.Answers["unrelated"] = "x"
	before := len(ctx.Answers)
	_, err := e.GetState(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, before, len(ctx.Answers))
}

func TestGetStateQuestionNode(t *testing.T) {
	e := New(testFlow(t))
	ctx := newCtx()
	e.Initialize(ctx)
	snap, err := e.GetState(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, KindQuestion, snap.Kind)
	assert.Equal(t, "name", snap.Question.Key)
	assert.False(t, snap.Question.IsAnswered)
	assert.Equal(t, "user", string(ctx.History[len(ctx.History)-1].Role))
}

func TestUpdateAnswerMarksNodeCompleted(t *testing.T) {
	e := New(testFlow(t))
	ctx := newCtx()
	e.Initialize(ctx)
	e.UpdateAnswer(ctx, "name", "Ana")
	assert.Equal(t, "Ana", ctx.Answers["name"])
	assert.Equal(t, session.StatusCompleted, ctx.NodeStateFor("q_name").Status)
	assert.Empty(t, ctx.PendingField)
}

func TestAdvanceFromCurrentFollowsSatisfiedGuard(t *testing.T) {
	e := New(testFlow(t))
	ctx := newCtx()
	e.Initialize(ctx)
	e.UpdateAnswer(ctx, "name", "Ana")
	snap, err := e.AdvanceFromCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "q_age", ctx.CurrentNodeID)
	assert.Equal(t, "age", snap.Question.Key)
}

func TestAdvanceFromCurrentStaysWhenNoGuardSatisfied(t *testing.T) {
	e := New(testFlow(t))
	ctx := newCtx()
	e.Initialize(ctx)
	_, err := e.AdvanceFromCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "q_name", ctx.CurrentNodeID)
}

func TestNavigateToRejectsNonNeighbourNonQuestion(t *testing.T) {
	e := New(testFlow(t))
	ctx := newCtx()
	e.Initialize(ctx)
	_, err := e.NavigateTo(ctx, "end", true)
	require.Error(t, err)
}

func TestNavigateToAllowsCrossGraphQuestionRevisit(t *testing.T) {
	e := New(testFlow(t))
	ctx := newCtx()
	e.Initialize(ctx)
	ctx.CurrentNodeID = "q_age"
	snap, err := e.NavigateTo(ctx, "q_name", true)
	require.NoError(t, err)
	assert.Equal(t, "q_name", snap.NodeID)
}

func TestResetClearsState(t *testing.T) {
	e := New(testFlow(t))
	ctx := newCtx()
	e.Initialize(ctx)
	e.UpdateAnswer(ctx, "name", "Ana")
	ctx.ClarificationCount = 3
	e.Reset(ctx)
	assert.Equal(t, "q_name", ctx.CurrentNodeID)
	assert.Empty(t, ctx.Answers)
	assert.Empty(t, ctx.NodeStates)
	assert.Zero(t, ctx.ClarificationCount)
}

func TestGetStateTerminalMarksComplete(t *testing.T) {
	e := New(testFlow(t))
	ctx := newCtx()
	ctx.CurrentNodeID = "end"
	snap, err := e.GetState(ctx, "")
	require.NoError(t, err)
	assert.True(t, snap.IsComplete)
	assert.Equal(t, KindTerminal, snap.Kind)
}
