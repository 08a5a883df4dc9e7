package responder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/flowrunner/internal/action"
	"github.com/haasonsaas/flowrunner/internal/engine"
	"github.com/haasonsaas/flowrunner/internal/session"
)

// Input is everything the responder needs to assemble one turn's prompt
// (spec.md §4.5).
type Input struct {
	Ctx            *session.FlowContext
	Snapshot       *engine.StateSnapshot
	UserMessage    string
	CommStyle      string
	ProjectDesc    string
	TargetAudience string
	IsAdmin        bool
}

// BuildPrompt assembles the single deterministic prompt string, in the
// exact section ordering spec.md §4.5 requires: role header → current
// question/pending field/user message → collected answers summary →
// bounded recent history → path hints → navigation options → allowed_values
// constraint → tool rules → format reminder.
func BuildPrompt(in Input) string {
	var b strings.Builder

	fmt.Fprintf(&b, "ROLE: You are a conversational flow assistant")
	if in.CommStyle != "" {
		fmt.Fprintf(&b, " speaking in the following style: %s", in.CommStyle)
	}
	b.WriteString(".\n")
	if in.ProjectDesc != "" {
		fmt.Fprintf(&b, "PROJECT: %s\n", in.ProjectDesc)
	}
	if in.TargetAudience != "" {
		fmt.Fprintf(&b, "AUDIENCE: %s\n", in.TargetAudience)
	}

	if in.Snapshot != nil && in.Snapshot.Kind == engine.KindQuestion {
		q := in.Snapshot.Question
		fmt.Fprintf(&b, "\nCURRENT QUESTION (key=%s): %s\n", q.Key, q.Prompt)
	}
	if in.UserMessage != "" {
		fmt.Fprintf(&b, "USER MESSAGE: %s\n", in.UserMessage)
	}

	if len(in.Ctx.Answers) > 0 {
		b.WriteString("\nCOLLECTED ANSWERS:\n")
		keys := make([]string, 0, len(in.Ctx.Answers))
		for k := range in.Ctx.Answers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %v\n", k, in.Ctx.Answers[k])
		}
	}

	recent := in.Ctx.RecentHistory(action.MaxRecentHistory)
	if len(recent) > 0 {
		b.WriteString("\nRECENT HISTORY:\n")
		for _, t := range recent {
			fmt.Fprintf(&b, "[%s] %s\n", t.Role, t.Content)
		}
	}

	if in.Ctx.ActivePath != "" || len(in.Ctx.AvailablePaths) > 0 {
		b.WriteString("\nPATH HINTS:\n")
		if in.Ctx.ActivePath != "" {
			fmt.Fprintf(&b, "active path: %s (locked=%v)\n", in.Ctx.ActivePath, in.Ctx.PathLocked)
		}
		for _, p := range in.Ctx.AvailablePaths {
			fmt.Fprintf(&b, "available path: %s\n", p)
		}
	}

	if in.Snapshot != nil && len(in.Snapshot.Transitions) > 0 {
		b.WriteString("\nNAVIGATION OPTIONS:\n")
		for _, t := range in.Snapshot.Transitions {
			fmt.Fprintf(&b, "- target=%s satisfied=%v %s\n", t.Target, t.GuardSatisfied, t.Description)
		}
	}

	if in.Snapshot != nil && in.Snapshot.Kind == engine.KindQuestion && len(in.Snapshot.Question.AllowedValues) > 0 {
		fmt.Fprintf(&b, "\nCONSTRAINT: the answer must be one of: %s\n", strings.Join(in.Snapshot.Question.AllowedValues, ", "))
	}

	b.WriteString("\nTOOL RULES: call the action tool exactly once with the ordered actions you intend to apply this turn. ")
	b.WriteString("update requires non-empty updates; navigate requires target_node_id; handoff requires handoff_reason; ")
	if in.IsAdmin {
		b.WriteString("modify_flow is permitted for this admin turn and requires flow_modification_instruction. ")
	} else {
		b.WriteString("modify_flow is not permitted for this turn. ")
	}
	b.WriteString("\nFORMAT: return your reply only via the tool's messages field, never as free text.\n")

	return b.String()
}

// FeedbackInput carries an external action's real outcome, seeding the
// post-execution feedback prompt (spec.md §4.7 step 2): the regenerated
// reply must report what actually happened, not the pre-execution draft.
type FeedbackInput struct {
	Action          string
	Success         bool
	ResultMessage   string
	TechnicalError  string
	UserInstruction string
	DraftMessages   []action.Message
}

// BuildFeedbackPrompt assembles the feedback prompt, following the same
// section ordering spec.md §4.5 uses for the regular prompt: role header
// → action outcome → user's original instruction → original draft → tool
// rules → format reminder.
func BuildFeedbackPrompt(in FeedbackInput) string {
	var b strings.Builder

	b.WriteString("ROLE: You are a conversational flow assistant reporting the real outcome of an action you just took.\n")

	status := "FAILED"
	if in.Success {
		status = "SUCCESS"
	}
	fmt.Fprintf(&b, "\nACTION: %s\nSTATUS: %s\nRESULT: %s\n", in.Action, status, in.ResultMessage)
	if !in.Success && in.TechnicalError != "" {
		fmt.Fprintf(&b, "TECHNICAL ERROR: %s\n", in.TechnicalError)
	}

	if in.UserInstruction != "" {
		fmt.Fprintf(&b, "\nUSER'S ORIGINAL INSTRUCTION: %s\n", in.UserInstruction)
	}

	if len(in.DraftMessages) > 0 {
		b.WriteString("\nORIGINAL DRAFT (written before the action ran, may no longer be true):\n")
		for _, m := range in.DraftMessages {
			fmt.Fprintf(&b, "- %s\n", m.Text)
		}
	}

	b.WriteString("\nTOOL RULES: call the action tool exactly once with the single action \"stay\" and a messages field reporting the outcome above; never contradict STATUS.\n")
	b.WriteString("FORMAT: return your reply only via the tool's messages field, never as free text.\n")

	return b.String()
}

// SchemaCorrectionHint appends up to the first 3 validation errors, verbatim,
// to the next retry prompt (spec.md §4.5).
func SchemaCorrectionHint(base string, errs []string) string {
	if len(errs) == 0 {
		return base
	}
	n := len(errs)
	if n > 3 {
		n = 3
	}
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\nSCHEMA CORRECTION NEEDED — your previous response failed validation:\n")
	for _, e := range errs[:n] {
		fmt.Fprintf(&b, "- %s\n", e)
	}
	b.WriteString("Return a corrected tool call.\n")
	return b.String()
}
