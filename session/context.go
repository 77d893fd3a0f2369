package session

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/model"
)

// maxWeight is the total capacity of the lock semaphore. A writer acquires
// all of it, a reader one unit, which yields shared-reader/exclusive-writer
// semantics with context-aware (cancellable) acquisition.
const maxWeight int64 = 1 << 30

var (
	// ErrClosed reports use of a session object after its block returned.
	ErrClosed = errors.New("session: use after close")

	// ErrReentrant reports an attempt to open a session while the calling
	// context is already inside a session of the same Context. Nested
	// acquisition would self-deadlock on the lock, so it is rejected up
	// front as a programmer error.
	ErrReentrant = errors.New("session: re-entrant session access")
)

// Monitor receives model-call lifecycle notifications from session
// operations. The agent installs a pipeline-backed monitor; a nil monitor
// disables notification. A non-nil error from either hook fails the
// operation, consistent with the pipeline's fail-fast observer policy.
type Monitor interface {
	ModelCallStarting(ctx context.Context, modelName string) error
	ModelCallFinished(ctx context.Context, modelName string, err error) error
}

// State is the shared mutable state of one run: the conversation prompt, the
// tool descriptors currently visible to the model, the model reference and an
// optional response post-processor applied to every executor response.
type State struct {
	Prompt      []core.Message
	Tools       []model.ToolDefinition
	Model       core.ModelRef
	PostProcess func(model.Response) model.Response
}

func cloneState(s State) State {
	out := s
	out.Prompt = core.CloneMessages(s.Prompt)
	if s.Tools != nil {
		out.Tools = make([]model.ToolDefinition, len(s.Tools))
		copy(out.Tools, s.Tools)
	}
	return out
}

// Context owns the shared session state and its reader/writer lock. It is
// the only cross-run shared mutable resource; the graph and its path index
// are immutable.
type Context struct {
	sem      *semaphore.Weighted
	executor model.Executor
	logger   logging.Logger
	monitor  Monitor

	// state is guarded by sem: readers hold one unit, the writer holds all.
	state State
}

// NewContext creates a session context around the given executor and initial
// state.
func NewContext(executor model.Executor, initial State, optFns ...func(o *Options)) *Context {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Context{
		sem:      semaphore.NewWeighted(maxWeight),
		executor: executor,
		logger:   opts.Logger,
		monitor:  opts.Monitor,
		state:    cloneState(initial),
	}
}

// Options configures a session Context.
type Options struct {
	Logger  logging.Logger
	Monitor Monitor
}

// WithLogger sets the logger used for lock diagnostics.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// WithMonitor installs the model-call monitor.
func WithMonitor(m Monitor) func(o *Options) {
	return func(o *Options) { o.Monitor = m }
}

type contextKey struct{}

func (c *Context) guardReentry(ctx context.Context) error {
	if holder, _ := ctx.Value(contextKey{}).(*Context); holder == c {
		return ErrReentrant
	}
	return nil
}

func (c *Context) markHeld(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// WriteSession acquires the exclusive lock, snapshots the current state into
// a private mutable Session, runs fn against it and on every exit path
// (normal return, error or panic) republishes the session's final
// prompt/tools/model into the shared state and releases the lock.
//
// Cancelling ctx while waiting for the lock returns the context error
// without the lock ever having been held.
func (c *Context) WriteSession(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	if err := c.guardReentry(ctx); err != nil {
		return fmt.Errorf("%w: write session inside active session", err)
	}
	if err := c.sem.Acquire(ctx, maxWeight); err != nil {
		return fmt.Errorf("session: acquiring write lock: %w", err)
	}
	c.logger.Debug("session: write lock acquired")
	s := &Session{base: base{executor: c.executor, monitor: c.monitor, active: true}}
	s.state = cloneState(c.state)
	s.base.state = &s.state
	defer func() {
		s.base.active = false
		c.state = cloneState(s.state)
		c.sem.Release(maxWeight)
	}()
	return fn(c.markHeld(ctx), s)
}

// ReadSession acquires a shared lock, constructs a read-only view over the
// current state, runs fn and releases without republishing. Any number of
// read sessions may be active at once; a write session excludes them all.
func (c *Context) ReadSession(ctx context.Context, fn func(ctx context.Context, s *ReadSession) error) error {
	if err := c.guardReentry(ctx); err != nil {
		return fmt.Errorf("%w: read session inside active session", err)
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("session: acquiring read lock: %w", err)
	}
	s := &ReadSession{base: base{executor: c.executor, monitor: c.monitor, active: true, state: &c.state}}
	defer func() {
		s.base.active = false
		c.sem.Release(1)
	}()
	return fn(c.markHeld(ctx), s)
}
