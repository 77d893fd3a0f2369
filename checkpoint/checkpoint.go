// Package checkpoint defines the serialized snapshot of an execution
// position plus conversation state that enables later resumption, and the
// rollback policies governing how much state a restore rewinds. The engine
// consumes checkpoints; persistence beyond the in-memory reference store is
// the caller's concern, this package only fixes the shape.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentgraph/core"
)

// Policy governs how much state a checkpoint restore rewinds.
type Policy string

const (
	// PolicyFullExecutionPoint restores the execution cursor along the
	// checkpoint's node path and overwrites the conversation history.
	PolicyFullExecutionPoint Policy = "full_execution_point"
	// PolicyConversationOnly overwrites the conversation history and leaves
	// the execution cursor untouched.
	PolicyConversationOnly Policy = "conversation_only"
)

// Source is the tagged restore-data variant of a checkpoint, evaluated once
// up front by the restore logic instead of being inferred from field
// nullability scattered through it.
type Source int

const (
	// NoRestoreData marks a checkpoint without a saved input or output.
	NoRestoreData Source = iota
	// RestoreFromInput marks the legacy (v1) form: the node's input was
	// saved and the node is re-executed with it.
	RestoreFromInput
	// RestoreFromOutput marks the current (v2) form: the node's output was
	// saved and edge resolution runs against it to find the resumption node.
	RestoreFromOutput
)

// String returns a readable name for the restore source.
func (s Source) String() string {
	switch s {
	case RestoreFromInput:
		return "input"
	case RestoreFromOutput:
		return "output"
	default:
		return "none"
	}
}

// ErrBothValuesSet reports a checkpoint carrying both a saved input and a
// saved output; the two forms are mutually exclusive.
var ErrBothValuesSet = errors.New("checkpoint: lastInput and lastOutput are mutually exclusive")

// CleanupFunc undoes an external side effect before a restore re-executes
// the graph region that caused it.
type CleanupFunc func(ctx context.Context) error

// Checkpoint is one captured execution snapshot. The JSON shape
// {nodePath, lastInput|lastOutput, messageHistory, rollbackPolicy} is the
// persistence contract consumed by external storage.
//
// Both value forms remain supported indefinitely; legacy lastInput
// checkpoints restore through the same tagged-source path as current
// lastOutput ones.
type Checkpoint struct {
	ID             string          `json:"id"`
	NodePath       string          `json:"nodePath"`
	LastInput      json.RawMessage `json:"lastInput,omitempty"`
	LastOutput     json.RawMessage `json:"lastOutput,omitempty"`
	MessageHistory []core.Message  `json:"messageHistory"`
	RollbackPolicy Policy          `json:"rollbackPolicy"`
	CreatedAt      time.Time       `json:"createdAt"`

	cleanups []CleanupFunc
}

// Options configures checkpoint construction.
type Options struct {
	// LastInput / LastOutput are marshaled into the checkpoint; set at most
	// one of them.
	LastInput  any
	LastOutput any
	hasInput   bool
	hasOutput  bool

	History  []core.Message
	Policy   Policy
	Cleanups []CleanupFunc
}

// WithLastInput saves the node's input (legacy v1 form).
func WithLastInput(v any) func(o *Options) {
	return func(o *Options) { o.LastInput = v; o.hasInput = true }
}

// WithLastOutput saves the node's output (current v2 form).
func WithLastOutput(v any) func(o *Options) {
	return func(o *Options) { o.LastOutput = v; o.hasOutput = true }
}

// WithHistory sets the message history snapshot.
func WithHistory(msgs []core.Message) func(o *Options) {
	return func(o *Options) { o.History = core.CloneMessages(msgs) }
}

// WithPolicy sets the rollback policy.
func WithPolicy(p Policy) func(o *Options) {
	return func(o *Options) { o.Policy = p }
}

// WithCleanup appends a caller-supplied cleanup action run before restore.
func WithCleanup(fn CleanupFunc) func(o *Options) {
	return func(o *Options) { o.Cleanups = append(o.Cleanups, fn) }
}

// New creates a checkpoint for the given node path.
func New(nodePath string, optFns ...func(o *Options)) (*Checkpoint, error) {
	opts := Options{Policy: PolicyFullExecutionPoint}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.hasInput && opts.hasOutput {
		return nil, ErrBothValuesSet
	}
	cp := &Checkpoint{
		ID:             core.NewID(),
		NodePath:       nodePath,
		MessageHistory: opts.History,
		RollbackPolicy: opts.Policy,
		CreatedAt:      time.Now().UTC(),
		cleanups:       opts.Cleanups,
	}
	if opts.hasInput {
		raw, err := json.Marshal(opts.LastInput)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: marshaling last input: %w", err)
		}
		cp.LastInput = raw
	}
	if opts.hasOutput {
		raw, err := json.Marshal(opts.LastOutput)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: marshaling last output: %w", err)
		}
		cp.LastOutput = raw
	}
	return cp, nil
}

// Validate checks structural invariants of a checkpoint loaded from storage.
func (c *Checkpoint) Validate() error {
	if c.NodePath == "" {
		return errors.New("checkpoint: nodePath is required")
	}
	if len(c.LastInput) > 0 && len(c.LastOutput) > 0 {
		return ErrBothValuesSet
	}
	switch c.RollbackPolicy {
	case PolicyFullExecutionPoint, PolicyConversationOnly:
		return nil
	default:
		return fmt.Errorf("checkpoint: unknown rollback policy %q", c.RollbackPolicy)
	}
}

// Source reports which restore-data variant this checkpoint carries.
func (c *Checkpoint) Source() Source {
	switch {
	case len(c.LastInput) > 0:
		return RestoreFromInput
	case len(c.LastOutput) > 0:
		return RestoreFromOutput
	default:
		return NoRestoreData
	}
}

// AddCleanup appends a cleanup action; actions run in the order added.
func (c *Checkpoint) AddCleanup(fn CleanupFunc) { c.cleanups = append(c.cleanups, fn) }

// RunCleanups executes the cleanup actions in order. The first failure
// aborts the restore attempt.
func (c *Checkpoint) RunCleanups(ctx context.Context) error {
	for _, fn := range c.cleanups {
		if err := fn(ctx); err != nil {
			return fmt.Errorf("checkpoint: cleanup action failed: %w", err)
		}
	}
	return nil
}
