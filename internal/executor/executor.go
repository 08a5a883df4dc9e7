// Package executor applies one turn's validated action list against the
// engine, sequentially and in the LLM's declared order (spec.md §4.6).
package executor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/flowrunner/internal/action"
	"github.com/haasonsaas/flowrunner/internal/engine"
	"github.com/haasonsaas/flowrunner/internal/feedback"
	"github.com/haasonsaas/flowrunner/internal/session"
)

// sessionLock is a ref-counted per-session mutex, grounded on the donor's
// internal/agent Runtime.lockSession texture: the map entry is removed
// once the last holder releases it, so idle sessions don't leak mutexes.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Locker serializes turn execution per session, so two superseded workers
// racing on the same session never interleave engine mutations.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

// NewLocker constructs an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*sessionLock)}
}

// Lock acquires the per-session lock for sessionID and returns the unlock
// function. An empty sessionID is a no-op lock.
func (l *Locker) Lock(sessionID string) func() {
	if strings.TrimSpace(sessionID) == "" {
		return func() {}
	}
	l.mu.Lock()
	lk := l.locks[sessionID]
	if lk == nil {
		lk = &sessionLock{}
		l.locks[sessionID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()
	return func() {
		lk.mu.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs <= 0 {
			delete(l.locks, sessionID)
		}
		l.mu.Unlock()
	}
}

// Result carries the per-action execution outcome that feeds
// TurnResult.Metadata (spec.md §4.6 step 4/6).
type Result struct {
	Errors        []string
	Escalated     bool
	Terminal      bool
	ExternalCalls []feedback.FeedbackExchange
}

// Executor applies a ToolCall's actions against an Engine.
type Executor struct {
	Engine   *engine.Engine
	Feedback *feedback.Loop
	// Store persists the escalation marker written on Handoff (spec.md
	// §4.6). It is optional: callers with no durable session store (e.g.
	// the single-session `run` CLI) pass nil and handoff simply skips
	// persistence.
	Store  *session.ContextStore
	logger *slog.Logger
}

// New constructs an Executor bound to one engine, feedback loop, and
// (optional) session store.
func New(e *engine.Engine, fb *feedback.Loop, store *session.ContextStore, logger *slog.Logger) *Executor {
	return &Executor{Engine: e, Feedback: fb, Store: store, logger: logger}
}

// Apply executes tc's actions in order against fc (spec.md §4.6 step 4).
// Engine errors are captured into Result.Errors and do not abort the
// remaining independent actions; handoff short-circuits.
func (x *Executor) Apply(ctx context.Context, fc *session.FlowContext, tc *action.ToolCall, isAdmin bool) Result {
	var res Result

	for _, a := range tc.Actions {
		switch a {
		case action.Stay:
			if tc.ClarificationReason == "needs_explanation" {
				fc.ClarificationCount++
			}
		case action.Update:
			for k, v := range tc.Updates {
				x.Engine.UpdateAnswer(fc, k, v)
			}
		case action.Navigate:
			if _, err := x.Engine.NavigateTo(fc, tc.TargetNodeID, true); err != nil {
				res.Errors = append(res.Errors, err.Error())
			}
		case action.Handoff:
			fc.EscalationReason = tc.HandoffReason
			res.Escalated = true
			if x.Store != nil {
				if err := x.Store.SetEscalation(ctx, fc.UserID, fc.FlowID, time.Now().UTC()); err != nil {
					res.Errors = append(res.Errors, err.Error())
				}
			}
			return res
		case action.Complete:
			if _, err := x.Engine.AdvanceFromCurrent(fc); err != nil {
				res.Errors = append(res.Errors, err.Error())
			}
			fc.IsComplete = true
			res.Terminal = true
		case action.Restart:
			x.Engine.Reset(fc)
		case action.ModifyFlow:
			if x.Feedback != nil {
				exch := x.Feedback.RunModifyFlow(tc.FlowModificationInstruction, isAdmin)
				res.ExternalCalls = append(res.ExternalCalls, exch)
				if !exch.Result.Success {
					res.Errors = append(res.Errors, exch.Result.Error)
				}
			}
		case action.UpdateCommunicationStyle:
			if x.Feedback != nil {
				exch := x.Feedback.RunUpdateCommunicationStyle(tc.UpdatedCommunicationStyle)
				res.ExternalCalls = append(res.ExternalCalls, exch)
				if exch.Result.Success {
					fc.ConversationStyle = tc.UpdatedCommunicationStyle
				} else {
					res.Errors = append(res.Errors, exch.Result.Error)
				}
			}
		}
	}
	return res
}
