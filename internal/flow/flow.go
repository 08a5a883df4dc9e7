// Package flow implements the authoring-time flow IR and its compiler
// (spec.md §3, §4.2). A Flow is a typed graph of Question/Decision/
// Terminal nodes and guarded edges; Compile validates it and produces an
// immutable CompiledFlow used by internal/engine.
package flow

// NodeKind discriminates the node variants. Node is a tagged union: exactly
// one of Question, Decision, or Terminal is populated, matching the kind.
type NodeKind string

const (
	KindQuestion NodeKind = "question"
	KindDecision NodeKind = "decision"
	KindTerminal NodeKind = "terminal"
)

// DataType constrains a Question's expected answer shape. Not enforced by
// the engine itself (validation is the authoring tool's job); carried
// through so prompts and downstream tooling can use it.
type DataType string

const (
	DataTypeString DataType = "string"
	DataTypeNumber DataType = "number"
	DataTypeBool   DataType = "bool"
	DataTypeDate   DataType = "date"
)

// QuestionSpec is the Question node variant.
type QuestionSpec struct {
	Key            string   `yaml:"key" json:"key"`
	Prompt         string   `yaml:"prompt" json:"prompt"`
	AllowedValues  []string `yaml:"allowed_values,omitempty" json:"allowed_values,omitempty"`
	Clarification  string   `yaml:"clarification,omitempty" json:"clarification,omitempty"`
	Examples       []string `yaml:"examples,omitempty" json:"examples,omitempty"`
	Dependencies   []string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Validator      string   `yaml:"validator,omitempty" json:"validator,omitempty"`
	Required       bool     `yaml:"required,omitempty" json:"required,omitempty"`
	Skippable      bool     `yaml:"skippable,omitempty" json:"skippable,omitempty"`
	Revisitable    bool     `yaml:"revisitable,omitempty" json:"revisitable,omitempty"`
	MaxAttempts    int      `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	DataType       DataType `yaml:"data_type,omitempty" json:"data_type,omitempty"`
}

// DecisionType distinguishes Decision nodes whose branch is chosen purely
// by guard evaluation from those whose branch needs LLM assistance
// (spec.md §9: "the spec reconciles to one pure engine... Authors relying
// on engine-internal LLM calls should re-author their flow to emit
// explicit Decisions with decision_type=llm_assisted").
type DecisionType string

const (
	DecisionAutomatic   DecisionType = "automatic"
	DecisionLLMAssisted DecisionType = "llm_assisted"
)

// DecisionSpec is the Decision node variant.
type DecisionSpec struct {
	DecisionType   DecisionType `yaml:"decision_type" json:"decision_type"`
	DecisionPrompt string       `yaml:"decision_prompt,omitempty" json:"decision_prompt,omitempty"`
}

// TerminalSpec is the Terminal node variant.
type TerminalSpec struct {
	Reason  string `yaml:"reason,omitempty" json:"reason,omitempty"`
	Success bool   `yaml:"success,omitempty" json:"success,omitempty"`
}

// Node is a single vertex in the flow graph. Exactly one of Question,
// Decision, or Terminal is non-nil, selected by Kind.
type Node struct {
	ID       string         `yaml:"id" json:"id"`
	Kind     NodeKind       `yaml:"kind" json:"kind"`
	Label    string         `yaml:"label,omitempty" json:"label,omitempty"`
	Meta     map[string]any `yaml:"meta,omitempty" json:"meta,omitempty"`
	Question *QuestionSpec  `yaml:"question,omitempty" json:"question,omitempty"`
	Decision *DecisionSpec  `yaml:"decision,omitempty" json:"decision,omitempty"`
	Terminal *TerminalSpec  `yaml:"terminal,omitempty" json:"terminal,omitempty"`
}

// GuardRef names a guard function and its authored arguments (spec.md §4.1).
type GuardRef struct {
	Fn   string         `yaml:"fn" json:"fn"`
	Args map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
}

// Edge connects two nodes, optionally conditioned on a Guard.
type Edge struct {
	Source                string    `yaml:"source" json:"source"`
	Target                string    `yaml:"target" json:"target"`
	Guard                 *GuardRef `yaml:"guard,omitempty" json:"guard,omitempty"`
	Priority              int       `yaml:"priority" json:"priority"`
	ConditionDescription  string    `yaml:"condition_description,omitempty" json:"condition_description,omitempty"`
}

// Policies is an open block for authoring-time behavioral knobs (clamp
// overrides, communication-style hints, etc). Left opaque to the compiler.
type Policies struct {
	Raw map[string]any `yaml:",inline" json:"-"`
}

// Flow is the authoring-time IR described in spec.md §3.
type Flow struct {
	SchemaVersion string         `yaml:"schema_version" json:"schema_version"`
	ID            string         `yaml:"id" json:"id"`
	Entry         string         `yaml:"entry" json:"entry"`
	Nodes         []Node         `yaml:"nodes" json:"nodes"`
	Edges         []Edge         `yaml:"edges" json:"edges"`
	Policies      map[string]any `yaml:"policies,omitempty" json:"policies,omitempty"`
	Metadata      map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	// Version is bumped by internal/flowedit on each successful batch
	// mutation; authored flows start at 1.
	Version int `yaml:"version,omitempty" json:"version,omitempty"`
}

// NodeByID returns the node with the given id, or nil.
func (f *Flow) NodeByID(id string) *Node {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i]
		}
	}
	return nil
}

// Clone deep-copies the flow so batch edits (internal/flowedit) can be
// applied to a scratch copy and discarded on validation failure.
func (f *Flow) Clone() *Flow {
	clone := *f
	clone.Nodes = make([]Node, len(f.Nodes))
	copy(clone.Nodes, f.Nodes)
	for i := range clone.Nodes {
		clone.Nodes[i] = cloneNode(f.Nodes[i])
	}
	clone.Edges = make([]Edge, len(f.Edges))
	for i, e := range f.Edges {
		clone.Edges[i] = cloneEdge(e)
	}
	clone.Policies = cloneAnyMap(f.Policies)
	clone.Metadata = cloneAnyMap(f.Metadata)
	return &clone
}

func cloneNode(n Node) Node {
	out := n
	out.Meta = cloneAnyMap(n.Meta)
	if n.Question != nil {
		q := *n.Question
		q.AllowedValues = append([]string(nil), n.Question.AllowedValues...)
		q.Examples = append([]string(nil), n.Question.Examples...)
		q.Dependencies = append([]string(nil), n.Question.Dependencies...)
		out.Question = &q
	}
	if n.Decision != nil {
		d := *n.Decision
		out.Decision = &d
	}
	if n.Terminal != nil {
		t := *n.Terminal
		out.Terminal = &t
	}
	return out
}

func cloneEdge(e Edge) Edge {
	out := e
	if e.Guard != nil {
		g := *e.Guard
		g.Args = cloneAnyMap(e.Guard.Args)
		out.Guard = &g
	}
	return out
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
