package turn

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/flowrunner/internal/action"
	"github.com/haasonsaas/flowrunner/internal/engine"
	"github.com/haasonsaas/flowrunner/internal/executor"
	"github.com/haasonsaas/flowrunner/internal/feedback"
	"github.com/haasonsaas/flowrunner/internal/flow"
	"github.com/haasonsaas/flowrunner/internal/responder"
	"github.com/haasonsaas/flowrunner/internal/session"
)

type fakeLLM struct {
	responses []responder.ToolCallResult
	calls     int
}

func (f *fakeLLM) Extract(_ context.Context, _, _ string, _ json.RawMessage) (responder.ToolCallResult, error) {
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	return f.responses[i], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubExecutor struct{}

func (stubExecutor) ModifyFlow(_ context.Context, _ string, _ bool) feedback.ActionResult {
	return feedback.ActionResult{Success: true, UserMessage: "aplicado com sucesso"}
}

func (stubExecutor) UpdateCommunicationStyle(_ context.Context, _ string) feedback.ActionResult {
	return feedback.ActionResult{Success: true, UserMessage: "estilo atualizado com sucesso"}
}

func testFlow(t *testing.T) *flow.CompiledFlow {
	t.Helper()
	f := &flow.Flow{
		SchemaVersion: "v1",
		ID:            "onboarding",
		Entry:         "q_name",
		Nodes: []flow.Node{
			{ID: "q_name", Kind: flow.KindQuestion, Question: &flow.QuestionSpec{Key: "name", Prompt: "What is your name?"}},
			{ID: "end", Kind: flow.KindTerminal, Terminal: &flow.TerminalSpec{}},
		},
		Edges: []flow.Edge{
			{Source: "q_name", Target: "end", Guard: &flow.GuardRef{Fn: "answers_has", Args: map[string]any{"key": "name"}}, Priority: 0, ConditionDescription: "has name"},
		},
	}
	cf, err := flow.Compile(f)
	require.NoError(t, err)
	return cf
}

func newRunner(t *testing.T, llm *fakeLLM) *Runner {
	t.Helper()
	schema, err := action.NewSchema()
	require.NoError(t, err)
	e := engine.New(testFlow(t))
	resp := responder.New(llm, schema, testLogger())
	fb := feedback.New(context.Background(), stubExecutor{}, testLogger())
	store := session.NewContextStore(session.NewMemoryStore(), "test")
	x := executor.New(e, fb, store, testLogger())
	return New(e, resp, x, false, testLogger())
}

func TestRunAppliesUpdateAndAdvances(t *testing.T) {
	llm := &fakeLLM{responses: []responder.ToolCallResult{
		{ToolName: "PerformAction", Arguments: json.RawMessage(`{"actions":["update","complete"],"updates":{"name":"Ana"},"messages":[{"text":"Obrigado!"}],"confidence":0.9,"reasoning":"done"}`)},
	}}
	r := newRunner(t, llm)
	ctx := session.NewFlowContext("onboarding", "u1", "s1", time.Now().UTC())

	res, err := r.Run(context.Background(), Input{Ctx: ctx, UserMessage: "Ana"})
	require.NoError(t, err)
	assert.Equal(t, "Ana", res.AnswersDiff["name"])
	assert.True(t, res.Terminal)
	assert.Len(t, res.Messages, 1)
	assert.Equal(t, "Obrigado!", res.Messages[0].Text)
}

func TestRunRecordsAssistantHistory(t *testing.T) {
	llm := &fakeLLM{responses: []responder.ToolCallResult{
		{ToolName: "PerformAction", Arguments: json.RawMessage(`{"actions":["stay"],"messages":[{"text":"Qual seu nome?"}],"confidence":0.7,"reasoning":"ask"}`)},
	}}
	r := newRunner(t, llm)
	ctx := session.NewFlowContext("onboarding", "u1", "s1", time.Now().UTC())

	_, err := r.Run(context.Background(), Input{Ctx: ctx, UserMessage: "oi"})
	require.NoError(t, err)
	require.Len(t, ctx.History, 2)
	assert.Equal(t, session.RoleUser, ctx.History[0].Role)
	assert.Equal(t, session.RoleAssistant, ctx.History[1].Role)
}

func TestRunHandoffSetsEscalate(t *testing.T) {
	llm := &fakeLLM{responses: []responder.ToolCallResult{
		{ToolName: "PerformAction", Arguments: json.RawMessage(`{"actions":["handoff"],"handoff_reason":"angry","messages":[{"text":"Vou te transferir."}],"confidence":0.6,"reasoning":"handoff"}`)},
	}}
	r := newRunner(t, llm)
	ctx := session.NewFlowContext("onboarding", "u1", "s1", time.Now().UTC())

	res, err := r.Run(context.Background(), Input{Ctx: ctx, UserMessage: "I want a human"})
	require.NoError(t, err)
	assert.True(t, res.Escalate)
	assert.Equal(t, "angry", ctx.EscalationReason)
}

func TestRunReplacesDraftWithFeedbackMessageOnModifyFlow(t *testing.T) {
	llm := &fakeLLM{responses: []responder.ToolCallResult{
		{ToolName: "PerformAction", Arguments: json.RawMessage(`{"actions":["modify_flow"],"flow_modification_instruction":"add a step","messages":[{"text":"Vou fazer isso."}],"confidence":0.8,"reasoning":"edit"}`)},
		{ToolName: "PerformAction", Arguments: json.RawMessage(`{"actions":["stay"],"messages":[{"text":"Feito! A alteração foi aplicada com sucesso."}],"confidence":0.9,"reasoning":"feedback"}`)},
	}}
	r := newRunner(t, llm)
	ctx := session.NewFlowContext("onboarding", "u1", "s1", time.Now().UTC())

	res, err := r.Run(context.Background(), Input{Ctx: ctx, UserMessage: "add a step please", IsAdmin: true})
	require.NoError(t, err)
	require.Len(t, res.ExternalCalls, 1)
	assert.True(t, res.ExternalCalls[0].Result.Success)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "Feito! A alteração foi aplicada com sucesso.", res.Messages[0].Text)
}

func TestRunExposesAvailableEdges(t *testing.T) {
	llm := &fakeLLM{responses: []responder.ToolCallResult{
		{ToolName: "PerformAction", Arguments: json.RawMessage(`{"actions":["stay"],"messages":[{"text":"?"}],"confidence":0.5,"reasoning":"x"}`)},
	}}
	r := newRunner(t, llm)
	ctx := session.NewFlowContext("onboarding", "u1", "s1", time.Now().UTC())

	res, err := r.Run(context.Background(), Input{Ctx: ctx})
	require.NoError(t, err)
	require.Len(t, res.AvailableEdges, 1)
	assert.Equal(t, "end", res.AvailableEdges[0].Target)
}
