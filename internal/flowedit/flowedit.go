// Package flowedit implements live flow modification (spec.md §4.7): a
// batch of structural edits applied atomically to a scratch clone of the
// flow, re-validated through the same compiler the authoring pipeline
// uses, and only committed — with a new version snapshot — if the whole
// batch compiles clean.
package flowedit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/flowrunner/internal/flow"
)

// OpKind names one structural edit within a modification batch.
type OpKind string

const (
	OpAddNode    OpKind = "add_node"
	OpUpdateNode OpKind = "update_node"
	OpDeleteNode OpKind = "delete_node"
	OpAddEdge    OpKind = "add_edge"
	OpUpdateEdge OpKind = "update_edge"
	OpDeleteEdge OpKind = "delete_edge"
	OpSetEntry   OpKind = "set_entry"
)

// Op is one batch operation. Exactly the fields relevant to Kind are read;
// the rest are ignored.
type Op struct {
	Kind    OpKind
	Node    *flow.Node
	NodeID  string
	Edge    *flow.Edge
	EdgeIdx int
	EntryID string
}

// opWire is the JSON wire shape of Op, used when a modify_flow instruction
// carries a structured batch rather than free-form natural language.
type opWire struct {
	Kind    OpKind     `json:"kind"`
	Node    *flow.Node `json:"node,omitempty"`
	NodeID  string     `json:"node_id,omitempty"`
	Edge    *flow.Edge `json:"edge,omitempty"`
	EdgeIdx int        `json:"edge_idx,omitempty"`
	EntryID string     `json:"entry_id,omitempty"`
}

// ParseBatchJSON decodes a JSON-encoded array of operations, as produced by
// an admin-originated modify_flow instruction, into a Batch ready for
// Apply. It returns an error if instruction is not a JSON array of
// operations — the caller is expected to surface that as a failed external
// action rather than attempt to apply anything.
func ParseBatchJSON(flowID, instruction, actor string) (Batch, error) {
	var wire []opWire
	if err := json.Unmarshal([]byte(instruction), &wire); err != nil {
		return Batch{}, fmt.Errorf("flowedit: instruction is not a JSON operation batch: %w", err)
	}
	if len(wire) == 0 {
		return Batch{}, fmt.Errorf("flowedit: instruction contains no operations")
	}
	ops := make([]Op, len(wire))
	for i, w := range wire {
		ops[i] = Op{
			Kind:    w.Kind,
			Node:    w.Node,
			NodeID:  w.NodeID,
			Edge:    w.Edge,
			EdgeIdx: w.EdgeIdx,
			EntryID: w.EntryID,
		}
	}
	return Batch{FlowID: flowID, Ops: ops, Instruction: instruction, Actor: actor}, nil
}

// Batch is an ordered set of operations applied as a single atomic unit:
// if any operation or the final re-compile fails, none of it is kept.
type Batch struct {
	FlowID      string
	Ops         []Op
	Instruction string
	Actor       string
}

// VersionRecord is one committed snapshot of a flow, persisted by
// VersionStore (SPEC_FULL.md §7 "Flow version history").
type VersionRecord struct {
	FlowID      string
	Version     int
	Flow        *flow.Flow
	Instruction string
	Actor       string
	CreatedAt   time.Time
}

// VersionStore retains every committed version of every flow, in memory.
// Grounded on the distilled implementation's db/repository.py, which
// persists one row per flow version rather than overwriting in place.
type VersionStore struct {
	mu       sync.Mutex
	versions map[string][]VersionRecord
}

// NewVersionStore constructs an empty VersionStore.
func NewVersionStore() *VersionStore {
	return &VersionStore{versions: map[string][]VersionRecord{}}
}

// History returns every recorded version of flowID, oldest first.
func (v *VersionStore) History(flowID string) []VersionRecord {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]VersionRecord, len(v.versions[flowID]))
	copy(out, v.versions[flowID])
	return out
}

func (v *VersionStore) record(rec VersionRecord) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.versions[rec.FlowID] = append(v.versions[rec.FlowID], rec)
}

// Executor applies modification batches against a live in-memory flow
// registry, guarded by a single executor-wide mutex so concurrent admin
// edits (to the same flow or to different flows) serialize rather than
// race.
type Executor struct {
	mu       sync.Mutex
	flows    map[string]*flow.CompiledFlow
	raw      map[string]*flow.Flow
	versions *VersionStore
}

// NewExecutor constructs an Executor with an empty flow registry; flows
// are added with Register.
func NewExecutor(versions *VersionStore) *Executor {
	return &Executor{
		flows:    map[string]*flow.CompiledFlow{},
		raw:      map[string]*flow.Flow{},
		versions: versions,
	}
}

// Register makes f available for modification under its own ID, compiling
// it first.
func (x *Executor) Register(f *flow.Flow) (*flow.CompiledFlow, error) {
	cf, err := flow.Compile(f)
	if err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.raw[f.ID] = f
	x.flows[f.ID] = cf
	return cf, nil
}

// Current returns the currently committed compiled flow for flowID.
func (x *Executor) Current(flowID string) (*flow.CompiledFlow, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	cf, ok := x.flows[flowID]
	return cf, ok
}

// Apply runs one modification batch atomically: every op is applied to a
// scratch clone, the clone is recompiled, and only on success is it
// committed and snapshotted. Any failure — an unknown node reference, an
// invalid structural edit, or a compile error — aborts the whole batch and
// leaves the live flow untouched (spec.md §4.7).
func (x *Executor) Apply(batch Batch) (*flow.CompiledFlow, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	base, ok := x.raw[batch.FlowID]
	if !ok {
		return nil, fmt.Errorf("flowedit: unknown flow %q", batch.FlowID)
	}
	scratch := base.Clone()

	for i, op := range batch.Ops {
		if err := applyOp(scratch, op); err != nil {
			return nil, fmt.Errorf("flowedit: op %d (%s): %w", i, op.Kind, err)
		}
	}

	scratch.Version++
	compiled, err := flow.Compile(scratch)
	if err != nil {
		return nil, fmt.Errorf("flowedit: batch failed validation: %w", err)
	}

	x.raw[batch.FlowID] = scratch
	x.flows[batch.FlowID] = compiled
	if x.versions != nil {
		x.versions.record(VersionRecord{
			FlowID:      batch.FlowID,
			Version:     scratch.Version,
			Flow:        scratch,
			Instruction: batch.Instruction,
			Actor:       batch.Actor,
			CreatedAt:   time.Now().UTC(),
		})
	}
	return compiled, nil
}

func applyOp(f *flow.Flow, op Op) error {
	switch op.Kind {
	case OpAddNode:
		if op.Node == nil {
			return fmt.Errorf("add_node requires a node")
		}
		if f.NodeByID(op.Node.ID) != nil {
			return fmt.Errorf("node %q already exists", op.Node.ID)
		}
		f.Nodes = append(f.Nodes, *op.Node)
	case OpUpdateNode:
		if op.Node == nil {
			return fmt.Errorf("update_node requires a node")
		}
		n := f.NodeByID(op.Node.ID)
		if n == nil {
			return fmt.Errorf("node %q does not exist", op.Node.ID)
		}
		*n = *op.Node
	case OpDeleteNode:
		if op.NodeID == "" {
			return fmt.Errorf("delete_node requires a node id")
		}
		if f.NodeByID(op.NodeID) == nil {
			return fmt.Errorf("node %q does not exist", op.NodeID)
		}
		out := f.Nodes[:0]
		for _, n := range f.Nodes {
			if n.ID != op.NodeID {
				out = append(out, n)
			}
		}
		f.Nodes = out
		// Cascade: drop every edge touching the deleted node, so the
		// batch never leaves a dangling reference behind (spec.md §4.7).
		remaining := f.Edges[:0]
		for _, e := range f.Edges {
			if e.Source != op.NodeID && e.Target != op.NodeID {
				remaining = append(remaining, e)
			}
		}
		f.Edges = remaining
	case OpAddEdge:
		if op.Edge == nil {
			return fmt.Errorf("add_edge requires an edge")
		}
		f.Edges = append(f.Edges, *op.Edge)
	case OpUpdateEdge:
		if op.Edge == nil || op.EdgeIdx < 0 || op.EdgeIdx >= len(f.Edges) {
			return fmt.Errorf("update_edge requires a valid edge index")
		}
		f.Edges[op.EdgeIdx] = *op.Edge
	case OpDeleteEdge:
		if op.EdgeIdx < 0 || op.EdgeIdx >= len(f.Edges) {
			return fmt.Errorf("delete_edge requires a valid edge index")
		}
		f.Edges = append(f.Edges[:op.EdgeIdx], f.Edges[op.EdgeIdx+1:]...)
	case OpSetEntry:
		if op.EntryID == "" || f.NodeByID(op.EntryID) == nil {
			return fmt.Errorf("set_entry requires an existing node id")
		}
		f.Entry = op.EntryID
	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
	return nil
}
