// Package turn implements the turn runner (spec.md §4.6): the single
// entry point that carries one inbound message through the
// engine -> responder -> executor -> engine round trip and produces a
// TurnResult.
package turn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/flowrunner/internal/action"
	"github.com/haasonsaas/flowrunner/internal/engine"
	"github.com/haasonsaas/flowrunner/internal/executor"
	"github.com/haasonsaas/flowrunner/internal/feedback"
	"github.com/haasonsaas/flowrunner/internal/responder"
	"github.com/haasonsaas/flowrunner/internal/session"
)

// EdgeProjection is one edge surfaced in the prompt's flow_graph, derived
// from engine.TransitionOption without leaking the compiled guard
// internals (spec.md §4.6 step 2).
type EdgeProjection struct {
	Target         string
	Description    string
	GuardSatisfied bool
}

// Result is the outcome of one turn, returned to the caller that owns
// delivery (spec.md §4.6 step 6).
type Result struct {
	Messages      []action.Message
	ToolName      string
	AnswersDiff   map[string]any
	Terminal      bool
	Escalate      bool
	Reasoning     string
	Confidence    float64
	Errors        []string
	AvailableEdges []EdgeProjection
	// ExternalCalls records every external action invoked this turn, for
	// callers that need the raw outcome beyond the user-facing Messages
	// (spec.md §4.7).
	ExternalCalls []feedback.FeedbackExchange
}

// Runner wires one Engine, Responder and Executor together for a single
// flow. A Runner is not bound to a session; callers pass the session's
// FlowContext in on every turn.
type Runner struct {
	Engine    *engine.Engine
	Responder *responder.Responder
	Executor  *executor.Executor
	Naturalize bool
	logger    *slog.Logger
}

// New constructs a Runner. naturalize enables the optional tone-rewrite
// pass over outgoing messages (SPEC_FULL.md §7); when set, messages are
// rewritten only for turns whose Input.CommStyle is non-empty.
func New(e *engine.Engine, r *responder.Responder, x *executor.Executor, naturalize bool, logger *slog.Logger) *Runner {
	return &Runner{Engine: e, Responder: r, Executor: x, Naturalize: naturalize, logger: logger}
}

// Input is one turn's request.
type Input struct {
	Ctx            *session.FlowContext
	UserMessage    string
	CommStyle      string
	ProjectDesc    string
	TargetAudience string
	IsAdmin        bool
}

// Run executes one full turn (spec.md §4.6): resolve state (C4), invoke
// the LLM under the closed tool contract (C6), apply the resulting
// actions (C7), then re-resolve state so the caller's TurnResult reflects
// the post-action node.
func (r *Runner) Run(ctx context.Context, in Input) (*Result, error) {
	r.Engine.Initialize(in.Ctx)
	before := cloneAnswers(in.Ctx.Answers)

	snapshot, err := r.Engine.GetState(in.Ctx, in.UserMessage)
	if err != nil {
		return nil, fmt.Errorf("turn: resolve state: %w", err)
	}

	tc, err := r.Responder.Respond(ctx, responder.Input{
		Ctx:            in.Ctx,
		Snapshot:       snapshot,
		UserMessage:    in.UserMessage,
		CommStyle:      in.CommStyle,
		ProjectDesc:    in.ProjectDesc,
		TargetAudience: in.TargetAudience,
		IsAdmin:        in.IsAdmin,
	})
	if err != nil {
		return nil, fmt.Errorf("turn: responder: %w", err)
	}

	execRes := r.Executor.Apply(ctx, in.Ctx, tc, in.IsAdmin)

	finalSnapshot, err := r.Engine.GetState(in.Ctx, "")
	if err != nil {
		return nil, fmt.Errorf("turn: re-resolve state: %w", err)
	}

	messages := tc.Messages
	if len(execRes.ExternalCalls) > 0 {
		// The draft messages above were written before the external action
		// ran; re-invoke the responder with the action's real outcome so the
		// user sees what actually happened (spec.md §4.7 step 2).
		last := execRes.ExternalCalls[len(execRes.ExternalCalls)-1]
		messages = r.Responder.RespondFeedback(ctx, responder.FeedbackInput{
			Action:          last.Action,
			Success:         last.Result.Success,
			ResultMessage:   last.Result.UserMessage,
			TechnicalError:  last.Result.Error,
			UserInstruction: in.UserMessage,
			DraftMessages:   tc.Messages,
		})
	}
	if r.Naturalize {
		messages = r.naturalizeMessages(ctx, messages, in.CommStyle)
	}

	now := time.Now().UTC()
	for _, m := range messages {
		in.Ctx.AppendHistory(session.HistoryTurn{
			Timestamp: now,
			Role:      session.RoleAssistant,
			Content:   m.Text,
			NodeID:    in.Ctx.CurrentNodeID,
		})
	}
	in.Ctx.UpdatedAt = now

	return &Result{
		Messages:       messages,
		ToolName:       "PerformAction",
		AnswersDiff:    session.AnswersDiff(before, in.Ctx.Answers),
		Terminal:       execRes.Terminal || finalSnapshot.IsComplete,
		Escalate:       execRes.Escalated,
		Reasoning:      tc.Reasoning,
		Confidence:     tc.Confidence,
		Errors:         execRes.Errors,
		AvailableEdges: projectEdges(finalSnapshot.Transitions),
		ExternalCalls:  execRes.ExternalCalls,
	}, nil
}

func (r *Runner) naturalizeMessages(ctx context.Context, msgs []action.Message, style string) []action.Message {
	if style == "" {
		return msgs
	}
	out := make([]action.Message, len(msgs))
	for i, m := range msgs {
		text, err := r.Responder.Naturalize(ctx, m.Text, style)
		if err != nil {
			text = m.Text
		}
		out[i] = action.Message{Text: text, DelayMS: m.DelayMS}
	}
	return out
}

func projectEdges(transitions []engine.TransitionOption) []EdgeProjection {
	out := make([]EdgeProjection, 0, len(transitions))
	for _, t := range transitions {
		out = append(out, EdgeProjection{
			Target:         t.Target,
			Description:    t.Description,
			GuardSatisfied: t.GuardSatisfied,
		})
	}
	return out
}

func cloneAnswers(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
