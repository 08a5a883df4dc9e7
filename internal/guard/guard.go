// Package guard implements the pure predicate library evaluated against
// edges in a compiled flow (spec.md §4.1). Guards are total, side-effect
// free functions of a read-only Context; an unknown guard name is a
// compile-time error, never a runtime one (see internal/flow's compiler).
package guard

import (
	"sort"
	"strings"
)

// Context is the read-only view a guard evaluates against. It never
// exposes a way to mutate the caller's FlowContext.
type Context struct {
	Answers      map[string]any
	PendingField string
	ActivePath   string
	PathLocked   bool
	Event        string
	// Args are the guard's own authored arguments (edge.guard.args).
	Args map[string]any
}

// Func is a pure predicate over a Context.
type Func func(ctx Context) bool

// Registry is the closed set of guard implementations, keyed by name.
// Names not present here must be rejected at compile time.
var Registry = map[string]Func{
	"always":         Always,
	"answers_has":    AnswersHas,
	"answers_equals": AnswersEquals,
	"deps_missing":   DepsMissing,
	"path_locked":    PathLocked,
}

// Lookup returns the guard function for name, or (nil, false) if name is
// not registered.
func Lookup(name string) (Func, bool) {
	fn, ok := Registry[name]
	return fn, ok
}

// Always is the trivial guard: always satisfied.
func Always(ctx Context) bool { return true }

func argString(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func isEmptyAnswer(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	default:
		return false
	}
}

// AnswersHas implements answers_has(key): true iff answers[key] is present
// and not {missing, null, empty-string}.
func AnswersHas(ctx Context) bool {
	key, ok := argString(ctx.Args, "key")
	if !ok || key == "" {
		return false
	}
	v, present := ctx.Answers[key]
	if !present {
		return false
	}
	return !isEmptyAnswer(v)
}

// AnswersEquals implements answers_equals(key, value, allowed_values?): an
// exact match, or — when both sides are strings and allowed_values is
// supplied — a best-option fuzzy match against that set.
func AnswersEquals(ctx Context) bool {
	key, ok := argString(ctx.Args, "key")
	if !ok || key == "" {
		return false
	}
	want, present := ctx.Args["value"]
	if !present {
		return false
	}
	got, ok := ctx.Answers[key]
	if !ok {
		return false
	}
	if exactEqual(got, want) {
		return true
	}

	gotStr, gotIsStr := got.(string)
	wantStr, wantIsStr := want.(string)
	if !gotIsStr || !wantIsStr {
		return false
	}
	allowedRaw, hasAllowed := ctx.Args["allowed_values"]
	if !hasAllowed {
		return false
	}
	allowed := toStringSlice(allowedRaw)
	if len(allowed) == 0 {
		return false
	}
	best := BestFuzzyMatch(gotStr, allowed)
	return best != "" && strings.EqualFold(best, wantStr)
}

func exactEqual(a, b any) bool {
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return as == bs
	}
	return a == b
}

func toStringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// DepsMissing implements deps_missing(key, dependencies): true iff every
// dependency is present in answers AND key itself is absent.
func DepsMissing(ctx Context) bool {
	key, ok := argString(ctx.Args, "key")
	if !ok || key == "" {
		return false
	}
	deps := toStringSlice(ctx.Args["dependencies"])
	for _, dep := range deps {
		v, present := ctx.Answers[dep]
		if !present || isEmptyAnswer(v) {
			return false
		}
	}
	v, present := ctx.Answers[key]
	return !present || isEmptyAnswer(v)
}

// PathLocked implements path_locked: true iff ctx.PathLocked is set and
// ctx.ActivePath is a non-empty string.
func PathLocked(ctx Context) bool {
	return ctx.PathLocked && strings.TrimSpace(ctx.ActivePath) != ""
}

// normalize casefolds and maps underscores to spaces, per spec.md §4.1's
// fuzzy-match recipe.
func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", " ")
	return strings.TrimSpace(s)
}

func tokenize(s string) []string {
	return strings.Fields(normalize(s))
}

// fuzzyScore combines a substring-containment bonus with token-overlap,
// deterministically, for a candidate against the input.
func fuzzyScore(input, candidate string) float64 {
	ni, nc := normalize(input), normalize(candidate)
	if ni == nc {
		return 1.0
	}

	var substringBonus float64
	if nc != "" && strings.Contains(ni, nc) {
		substringBonus = float64(len(nc)) / float64(len(ni)+1)
	} else if ni != "" && strings.Contains(nc, ni) {
		substringBonus = float64(len(ni)) / float64(len(nc)+1)
	}

	inputTokens := tokenize(ni)
	candTokens := tokenize(nc)
	overlap := 0
	seen := make(map[string]bool, len(candTokens))
	for _, t := range candTokens {
		seen[t] = true
	}
	for _, t := range inputTokens {
		if seen[t] {
			overlap++
		}
	}
	denom := len(inputTokens) + len(candTokens)
	var tokenScore float64
	if denom > 0 {
		tokenScore = 2 * float64(overlap) / float64(denom)
	}

	return 0.5*substringBonus + 0.5*tokenScore
}

// BestFuzzyMatch returns the element of allowed with the highest
// fuzzyScore against input, breaking ties deterministically by preferring
// the earliest element in authored order. Returns "" if allowed is empty
// or every candidate scores zero.
func BestFuzzyMatch(input string, allowed []string) string {
	if len(allowed) == 0 {
		return ""
	}
	type scored struct {
		value string
		idx   int
		score float64
	}
	scores := make([]scored, len(allowed))
	for i, candidate := range allowed {
		scores[i] = scored{value: candidate, idx: i, score: fuzzyScore(input, candidate)}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].idx < scores[j].idx
	})
	if scores[0].score <= 0 {
		return ""
	}
	return scores[0].value
}
