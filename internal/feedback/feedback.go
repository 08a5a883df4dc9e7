// Package feedback implements the external-action feedback loop (spec.md
// §4.7): actions like modify_flow and update_communication_style have
// real side effects, so their outcome is reported back to the
// conversation through a truthfulness heuristic rather than taken on
// faith from the LLM's own framing.
package feedback

import (
	"context"
	"log/slog"
	"strings"
)

// ActionResult is the outcome of one external action invocation. It never
// carries a Go error value: ActionExecutor implementations must translate
// failures into Success=false plus a human-readable Error, since the
// result is rendered straight into the conversation.
type ActionResult struct {
	Success     bool
	UserMessage string
	Error       string
	Data        map[string]any
}

// ActionExecutor performs one external action. Implementations must never
// panic or return a Go error — all failure information belongs in the
// returned ActionResult.
type ActionExecutor interface {
	ModifyFlow(ctx context.Context, instruction string, isAdmin bool) ActionResult
	UpdateCommunicationStyle(ctx context.Context, style string) ActionResult
}

// successMarkers and failureMarkers drive the truthfulness heuristic:
// spec.md §4.7 requires detecting when an executor's own UserMessage
// claims success or failure, independent of ActionResult.Success, so a
// generator that contradicts itself gets caught rather than relayed
// verbatim.
var (
	successMarkers = []string{"sucesso", "aplicado", "pronto", "feito", "✅"}
	failureMarkers = []string{"erro", "falhou", "não foi", "❌"}
)

// FeedbackExchange is one external-action round-trip: the instruction
// sent, the executor's raw result, and the truthfulness verdict applied
// to it.
type FeedbackExchange struct {
	Action      string
	Instruction string
	Result      ActionResult
	Truthful    bool
}

// Loop wires an ActionExecutor into the turn executor, applying the
// truthfulness heuristic to every result before it is trusted.
type Loop struct {
	ctx      context.Context
	executor ActionExecutor
	logger   *slog.Logger
}

// New constructs a Loop. ctx bounds every executor call issued through
// this loop (spec.md external actions are expected to be fast; callers
// needing per-call timeouts should wrap ActionExecutor instead).
func New(ctx context.Context, executor ActionExecutor, logger *slog.Logger) *Loop {
	return &Loop{ctx: ctx, executor: executor, logger: logger}
}

// RunModifyFlow invokes the bound executor's ModifyFlow and applies the
// truthfulness heuristic.
func (l *Loop) RunModifyFlow(instruction string, isAdmin bool) FeedbackExchange {
	res := l.executor.ModifyFlow(l.ctx, instruction, isAdmin)
	return l.verify("modify_flow", instruction, res)
}

// RunUpdateCommunicationStyle invokes the bound executor's
// UpdateCommunicationStyle and applies the truthfulness heuristic.
func (l *Loop) RunUpdateCommunicationStyle(style string) FeedbackExchange {
	res := l.executor.UpdateCommunicationStyle(l.ctx, style)
	return l.verify("update_communication_style", style, res)
}

func (l *Loop) verify(action, instruction string, res ActionResult) FeedbackExchange {
	truthful := IsTruthfulMessage(res.Success, res.UserMessage)
	if !truthful {
		l.logger.Warn("external action result contradicts its own message",
			"action", action,
			"success", res.Success,
			"message", res.UserMessage,
		)
		if res.Success {
			res.Success = false
			if res.Error == "" {
				res.Error = "action reported success but its own message indicates failure"
			}
		}
	}
	return FeedbackExchange{Action: action, Instruction: instruction, Result: res, Truthful: truthful}
}

// IsTruthfulMessage reports whether message agrees with success: a
// success result whose own message contains a failure marker (and no
// success marker) is flagged as untruthful, and vice versa. Exported so
// the responder's post-execution feedback reply (spec.md §4.7 step 2)
// can apply the same heuristic to a freshly generated message.
func IsTruthfulMessage(success bool, message string) bool {
	lower := strings.ToLower(message)
	hasSuccessMarker := containsAny(lower, successMarkers)
	hasFailureMarker := containsAny(lower, failureMarkers)

	if success && hasFailureMarker && !hasSuccessMarker {
		return false
	}
	if !success && hasSuccessMarker && !hasFailureMarker {
		return false
	}
	return true
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
