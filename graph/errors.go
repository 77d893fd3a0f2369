package graph

import (
	"errors"
	"fmt"
)

// ErrInterrupted signals that a node suspended the run on purpose, usually
// after registering pending checkpoint data via Execution.RequestRollback.
// The strategy loop consumes the pending data and re-invokes; an interrupt
// without pending data propagates to the caller.
var ErrInterrupted = errors.New("graph: execution interrupted")

// DuplicatePathError reports two nodes producing the same path during
// strategy construction. Fatal; the strategy is rejected.
type DuplicatePathError struct {
	Path Path
}

func (e *DuplicatePathError) Error() string {
	return fmt.Sprintf("graph: duplicate node path %q", e.Path)
}

// UnknownPathError reports a path-index lookup miss, e.g. a checkpoint
// addressing a node the current strategy does not contain.
type UnknownPathError struct {
	Path string
}

func (e *UnknownPathError) Error() string {
	return fmt.Sprintf("graph: unknown node path %q", e.Path)
}

// DeadEndError reports that no edge candidate accepted a node's output.
// Fatal; edge resolution is never retried.
type DeadEndError struct {
	Path   Path
	Output any
}

func (e *DeadEndError) Error() string {
	return fmt.Sprintf("graph: no edge resolved from node %q", e.Path)
}

// IterationLimitExceededError reports that a subgraph loop attempted its
// configured maximum iteration. The limit bounds attempts exactly: with
// limit N the Nth attempt fails, it is never stretched to N+1.
type IterationLimitExceededError struct {
	Path  Path
	Limit int
}

func (e *IterationLimitExceededError) Error() string {
	return fmt.Sprintf("graph: iteration limit %d exceeded in subgraph %q", e.Limit, e.Path)
}

// RestoreError reports a failed checkpoint restore attempt. The failure is
// fatal for the attempt but leaves unrelated in-flight state untouched.
type RestoreError struct {
	Path   string
	Reason string
	Err    error
}

func (e *RestoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("graph: restore at %q failed: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("graph: restore at %q failed: %s", e.Path, e.Reason)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *RestoreError) Unwrap() error { return e.Err }

// NodeInputTypeError reports an input value that does not match the node's
// declared input type.
type NodeInputTypeError struct {
	Path Path
	Want string
	Got  any
}

func (e *NodeInputTypeError) Error() string {
	return fmt.Sprintf("graph: node %q expects input %s, got %T", e.Path, e.Want, e.Got)
}
