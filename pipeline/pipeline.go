// Package pipeline implements the synchronous lifecycle-event dispatch
// mechanism that lets cross-cutting observers (tracing, metrics, policy) hook
// every engine transition without coupling to engine internals.
//
// The pipeline is an explicit registry object owned by the agent and passed
// down through the execution context; there is no global observer state.
// Dispatch is synchronous and happens in registration order; an observer
// error aborts dispatch and propagates to the engine (fail-fast, the single
// consistent policy for this module).
package pipeline

import (
	"context"
	"sync"
	"time"
)

// Kind identifies a lifecycle transition.
type Kind string

const (
	// AgentStarting fires once when Agent.Run begins.
	AgentStarting Kind = "agent_starting"
	// AgentFinished fires once when Agent.Run returns.
	AgentFinished Kind = "agent_finished"
	// AgentClosing fires when the agent is closed.
	AgentClosing Kind = "agent_closing"

	// StrategyStarting / StrategyFinished bracket a strategy execution.
	StrategyStarting Kind = "strategy_starting"
	StrategyFinished Kind = "strategy_finished"

	// SubgraphStarting / SubgraphFinished bracket one subgraph invocation.
	SubgraphStarting Kind = "subgraph_starting"
	SubgraphFinished Kind = "subgraph_finished"

	// NodeStarting / NodeFinished bracket one node execution.
	NodeStarting Kind = "node_starting"
	NodeFinished Kind = "node_finished"

	// Tool call lifecycle.
	ToolCallStarting     Kind = "tool_call_starting"
	ToolCallCompleted    Kind = "tool_call_completed"
	ToolCallFailed       Kind = "tool_call_failed"
	ToolValidationFailed Kind = "tool_validation_failed"

	// Model call lifecycle.
	ModelCallStarting Kind = "model_call_starting"
	ModelCallFinished Kind = "model_call_finished"
)

// ExecutionInfo identifies the execution a lifecycle event belongs to and its
// parent, letting observers reconstruct the call tree without bookkeeping of
// their own. ParentID is empty for the root (agent-level) execution.
type ExecutionInfo struct {
	RunID    string `json:"run_id"`
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
}

// Event is one dispatched lifecycle transition. Which payload fields are set
// depends on the Kind; identity and timestamp are always present.
type Event struct {
	Kind      Kind          `json:"kind"`
	Execution ExecutionInfo `json:"execution"`
	Timestamp time.Time     `json:"timestamp"`

	// Strategy is the strategy name; set on all engine-emitted events.
	Strategy string `json:"strategy,omitempty"`
	// Path is the graph path of the node or subgraph the event concerns.
	Path string `json:"path,omitempty"`
	// Name is the leaf node, tool or model name.
	Name string `json:"name,omitempty"`

	Input  any   `json:"input,omitempty"`
	Output any   `json:"output,omitempty"`
	Err    error `json:"-"`
}

// Observer receives lifecycle events. Implementations must be safe for calls
// from the single goroutine driving a run; the pipeline performs no
// additional synchronization around OnEvent.
type Observer interface {
	// ID identifies the observer kind; installing another observer with the
	// same ID replaces this one in place.
	ID() string
	// OnEvent handles a single event. A non-nil error aborts dispatch and
	// fails the surrounding engine operation.
	OnEvent(ctx context.Context, ev Event) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc struct {
	Name string
	Fn   func(ctx context.Context, ev Event) error
}

// ID implements Observer.
func (o ObserverFunc) ID() string { return o.Name }

// OnEvent implements Observer.
func (o ObserverFunc) OnEvent(ctx context.Context, ev Event) error { return o.Fn(ctx, ev) }

// Pipeline is an ordered observer registry. The zero value is not usable;
// construct with New.
type Pipeline struct {
	mu        sync.RWMutex
	observers []Observer
}

// New creates an empty pipeline.
func New() *Pipeline { return &Pipeline{} }

// Install registers an observer. If an observer with the same ID is already
// installed it is replaced in place, keeping its original dispatch position;
// otherwise the observer is appended after all existing ones.
func (p *Pipeline) Install(o Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.observers {
		if existing.ID() == o.ID() {
			p.observers[i] = o
			return
		}
	}
	p.observers = append(p.observers, o)
}

// Observers returns a snapshot of the installed observers in dispatch order.
func (p *Pipeline) Observers() []Observer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Observer, len(p.observers))
	copy(out, p.observers)
	return out
}

// Emit dispatches the event to every installed observer synchronously, in
// registration order. The first observer error stops dispatch and is
// returned. A zero Timestamp is filled in with the current UTC time.
func (p *Pipeline) Emit(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	for _, o := range p.Observers() {
		if err := o.OnEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
