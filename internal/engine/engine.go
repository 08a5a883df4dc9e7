// Package engine implements the pure flow state machine (spec.md §4.3): it
// never calls an LLM and never invents state, only resolves a compiled flow
// against a session context.
package engine

import (
	"fmt"
	"time"

	"github.com/haasonsaas/flowrunner/internal/errs"
	"github.com/haasonsaas/flowrunner/internal/flow"
	"github.com/haasonsaas/flowrunner/internal/guard"
	"github.com/haasonsaas/flowrunner/internal/session"
)

// Kind discriminates the snapshot variants returned by GetState.
type Kind string

const (
	KindQuestion Kind = "question"
	KindDecision Kind = "decision"
	KindTerminal Kind = "terminal"
)

// TransitionOption describes one outgoing edge from the current node, as
// surfaced to the responder and the turn runner.
type TransitionOption struct {
	Target         string
	Description    string
	GuardArgs      map[string]any
	GuardSatisfied bool
}

// QuestionState is the Question-kind payload of a StateSnapshot.
type QuestionState struct {
	Prompt        string
	Key           string
	IsAnswered    bool
	CurrentAnswer any
	Validator     string
	AllowedValues []string
}

// StateSnapshot is the engine's pure, read-only view of the current node
// resolved against a context. It is never mutated in place; navigation or
// answer updates always produce or write to the context, never the
// snapshot.
type StateSnapshot struct {
	Kind            Kind
	NodeID          string
	Question        *QuestionState
	AvailablePaths  []string
	IsComplete      bool
	Transitions     []TransitionOption
}

// Engine resolves a single CompiledFlow against sessions.
type Engine struct {
	Flow *flow.CompiledFlow
}

// New builds an Engine bound to a compiled flow.
func New(f *flow.CompiledFlow) *Engine {
	return &Engine{Flow: f}
}

// Initialize sets ctx.CurrentNodeID to the flow's entry if unset.
func (e *Engine) Initialize(ctx *session.FlowContext) {
	if ctx.CurrentNodeID == "" {
		ctx.CurrentNodeID = e.Flow.Entry
	}
}

func (e *Engine) guardContext(ctx *session.FlowContext) guard.Context {
	return guard.Context{
		Answers:      ctx.Answers,
		PendingField: ctx.PendingField,
		ActivePath:   ctx.ActivePath,
		PathLocked:   ctx.PathLocked,
	}
}

// transitions returns every outgoing edge of nodeID as TransitionOptions,
// evaluating each edge's guard against ctx (snapshot safety: ctx is read,
// never written).
func (e *Engine) transitions(ctx *session.FlowContext, nodeID string) []TransitionOption {
	edges := e.Flow.OutgoingEdges(nodeID)
	out := make([]TransitionOption, 0, len(edges))
	gctx := e.guardContext(ctx)
	for _, edge := range edges {
		desc := edge.ConditionDescription
		out = append(out, TransitionOption{
			Target:         edge.Target,
			Description:    desc,
			GuardArgs:      edge.GuardArgs,
			GuardSatisfied: edge.Evaluate(gctx),
		})
	}
	return out
}

// GetState resolves the current node, per spec.md §4.3. If userMessage is
// non-empty, a user history turn is appended first. Beyond that history
// append, GetState only records ctx.PendingField when the current node is
// a Question — it performs no navigation and writes no answers (universal
// invariant #1: snapshot safety of the resolved view itself).
func (e *Engine) GetState(ctx *session.FlowContext, userMessage string) (*StateSnapshot, error) {
	if userMessage != "" {
		ctx.AppendHistory(session.HistoryTurn{
			Timestamp: time.Now().UTC(),
			Role:      session.RoleUser,
			Content:   userMessage,
		})
	}
	node, ok := e.Flow.Node(ctx.CurrentNodeID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown current node %q", errs.ErrUnknownNodeKind, ctx.CurrentNodeID)
	}
	switch node.Kind {
	case flow.KindQuestion:
		ctx.PendingField = node.Question.Key
		answer, answered := ctx.Answers[node.Question.Key]
		isAnswered := answered && !isEmptyAnswer(answer)
		return &StateSnapshot{
			Kind:   KindQuestion,
			NodeID: node.ID,
			Question: &QuestionState{
				Prompt:        node.Question.Prompt,
				Key:           node.Question.Key,
				IsAnswered:    isAnswered,
				CurrentAnswer: answer,
				Validator:     node.Question.Validator,
				AllowedValues: node.Question.AllowedValues,
			},
			Transitions: e.transitions(ctx, node.ID),
		}, nil
	case flow.KindDecision:
		return &StateSnapshot{
			Kind:           KindDecision,
			NodeID:         node.ID,
			AvailablePaths: availablePaths(e.Flow, node.ID),
			Transitions:    e.transitions(ctx, node.ID),
		}, nil
	case flow.KindTerminal:
		return &StateSnapshot{
			Kind:       KindTerminal,
			NodeID:     node.ID,
			IsComplete: true,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errs.ErrUnknownNodeKind, node.Kind)
	}
}

func isEmptyAnswer(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

// availablePaths derives human-readable path labels from each outgoing
// edge's condition description, taking the tail after a colon (spec.md
// §4.3 "Decision node").
func availablePaths(f *flow.CompiledFlow, nodeID string) []string {
	edges := f.OutgoingEdges(nodeID)
	paths := make([]string, 0, len(edges))
	for _, e := range edges {
		desc := e.ConditionDescription
		if idx := indexOfColon(desc); idx >= 0 {
			desc = trimSpace(desc[idx+1:])
		}
		if desc != "" {
			paths = append(paths, desc)
		}
	}
	return paths
}

func indexOfColon(s string) int {
	for i, r := range s {
		if r == ':' {
			return i
		}
	}
	return -1
}

func trimSpace(s string) string {
	start := 0
	for start < len(s) && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	return s[start:]
}

// NavigateTo moves ctx.CurrentNodeID to target, validating neighbour-or-
// Question-node reachability unless validate is false (spec.md §4.3: cross-
// graph revisits to Question nodes are always allowed, for corrections).
func (e *Engine) NavigateTo(ctx *session.FlowContext, target string, validate bool) (*StateSnapshot, error) {
	targetNode, ok := e.Flow.Node(target)
	if !ok {
		return nil, fmt.Errorf("%w: unknown target node %q", errs.ErrInvalidTransition, target)
	}
	if validate {
		isNeighbour := e.Flow.IsNeighbour(ctx.CurrentNodeID, target)
		isQuestion := targetNode.Kind == flow.KindQuestion
		if !isNeighbour && !isQuestion {
			return nil, fmt.Errorf("%w: %q is not a neighbour of %q and is not a question node", errs.ErrInvalidTransition, target, ctx.CurrentNodeID)
		}
	}
	ctx.CurrentNodeID = target
	return e.GetState(ctx, "")
}

// UpdateAnswer writes key=value into ctx.Answers. If the current node is a
// Question with that key, its NodeState is marked completed and
// PendingField is cleared (spec.md §4.3).
func (e *Engine) UpdateAnswer(ctx *session.FlowContext, key string, value any) {
	if ctx.Answers == nil {
		ctx.Answers = map[string]any{}
	}
	ctx.Answers[key] = value
	node, ok := e.Flow.Node(ctx.CurrentNodeID)
	if ok && node.Kind == flow.KindQuestion && node.Question.Key == key {
		ns := ctx.NodeStateFor(node.ID)
		ns.Status = session.StatusCompleted
		now := time.Now().UTC()
		ns.LastVisited = &now
		ns.Visits++
		ctx.PendingField = ""
	}
}

// AdvanceFromCurrent follows the first outgoing edge from the current node
// whose guard evaluates true, in priority order. If none is satisfied, the
// context is left unchanged (spec.md §4.3).
func (e *Engine) AdvanceFromCurrent(ctx *session.FlowContext) (*StateSnapshot, error) {
	edges := e.Flow.OutgoingEdges(ctx.CurrentNodeID)
	gctx := e.guardContext(ctx)
	for _, edge := range edges {
		if edge.Evaluate(gctx) {
			ctx.CurrentNodeID = edge.Target
			return e.GetState(ctx, "")
		}
	}
	return e.GetState(ctx, "")
}

// Reset restores ctx to its initial state: current node back to entry,
// answers/node_states/history/pending_field/path selection/clarification
// counters all cleared (spec.md §4.3).
func (e *Engine) Reset(ctx *session.FlowContext) {
	ctx.CurrentNodeID = e.Flow.Entry
	ctx.Answers = map[string]any{}
	ctx.NodeStates = map[string]*session.NodeState{}
	ctx.History = nil
	ctx.TurnCount = 0
	ctx.PendingField = ""
	ctx.AvailablePaths = nil
	ctx.ActivePath = ""
	ctx.PathConfidence = nil
	ctx.PathLocked = false
	ctx.PathLabels = nil
	ctx.PathCorrections = nil
	ctx.ClarificationCount = 0
	ctx.IsComplete = false
}
