package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/agentgraph/pipeline"
)

// Recorder is a pipeline observer that captures every dispatched event in
// order. Safe for concurrent use.
type Recorder struct {
	name string

	mu     sync.Mutex
	events []pipeline.Event
}

// NewRecorder creates a recording observer with the given observer ID.
func NewRecorder(name string) *Recorder {
	return &Recorder{name: name}
}

// ID implements pipeline.Observer.
func (r *Recorder) ID() string { return r.name }

// OnEvent implements pipeline.Observer.
func (r *Recorder) OnEvent(_ context.Context, ev pipeline.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a snapshot of the recorded events in dispatch order.
func (r *Recorder) Events() []pipeline.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pipeline.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the recorded event kinds in dispatch order.
func (r *Recorder) Kinds() []pipeline.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pipeline.Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

// Filter returns the recorded events of the given kind, in order.
func (r *Recorder) Filter(kind pipeline.Kind) []pipeline.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []pipeline.Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Reset clears the recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
