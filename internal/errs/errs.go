// Package errs defines the error kinds shared across the flow engine, turn
// runner, and debounce manager. Each kind maps to one of the error kinds in
// the design document's error handling section: CompileError,
// InvalidTransition, SchemaViolation, ToolExecutionError,
// ExternalActionFailure, Superseded, and StoreUnavailable.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that callers commonly need to identify with
// errors.Is, mirroring the donor's sentinel-error convention.
var (
	// ErrInvalidTransition is returned when a navigation target is not a
	// valid neighbour of the current node and is not itself a Question.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrSchemaViolation is returned when an LLM response fails to parse or
	// validate against the closed action-tool schema.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrStoreUnavailable is returned when the session store's I/O fails.
	ErrStoreUnavailable = errors.New("session store unavailable")

	// ErrSuperseded is returned when a worker's turn was cancelled because a
	// newer inbound message arrived for the same session.
	ErrSuperseded = errors.New("turn superseded")

	// ErrCompile is returned when a flow IR fails compilation.
	ErrCompile = errors.New("flow failed to compile")

	// ErrUnknownGuard is returned when a guard name has no registered
	// implementation.
	ErrUnknownGuard = errors.New("unknown guard")

	// ErrUnknownNodeKind is a programming error: the engine encountered a
	// node kind it does not know how to interpret. Unlike the other
	// sentinels this is always fatal.
	ErrUnknownNodeKind = errors.New("unknown node kind")
)

// ToolExecutionError wraps a failure that occurred while applying an LLM
// action to a FlowContext. It never escapes the tool executor as a panic;
// it is always returned as a value, per the "exceptions for control flow"
// design note.
type ToolExecutionError struct {
	Action string
	NodeID string
	Cause  error
}

func (e *ToolExecutionError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("tool execution failed: action=%s node=%s: %v", e.Action, e.NodeID, e.Cause)
	}
	return fmt.Sprintf("tool execution failed: action=%s: %v", e.Action, e.Cause)
}

func (e *ToolExecutionError) Unwrap() error { return e.Cause }

// CompileError describes one violated invariant found while compiling a
// Flow IR into a CompiledFlow. A batch of these is surfaced by the compiler;
// a non-empty slice means compilation failed.
type CompileError struct {
	Code    string
	NodeID  string
	EdgeIdx int
	Message string
}

func (e *CompileError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("compile error [%s] node=%s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("compile error [%s]: %s", e.Code, e.Message)
}

// CompileErrors aggregates multiple CompileError values into a single error.
type CompileErrors []*CompileError

func (e CompileErrors) Error() string {
	if len(e) == 0 {
		return "no compile errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", e[0].Error(), len(e)-1)
}

func (e CompileErrors) Unwrap() error { return ErrCompile }
