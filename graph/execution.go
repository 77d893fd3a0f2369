package graph

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentgraph/checkpoint"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/pipeline"
	"github.com/hupe1980/agentgraph/session"
	"github.com/hupe1980/agentgraph/tool"
)

// DefaultMaxIterations bounds subgraph loops when no explicit cap is set.
const DefaultMaxIterations = 100

// Environment is the external world a run acts on: tool execution plus a
// reporting sink for conditions a node wants surfaced without failing the
// run. The agent supplies it; nodes reach it through Execution.
type Environment interface {
	// ExecuteTool validates and invokes a tool call. Failures come back
	// inside the Result, never as an engine-fatal error.
	ExecuteTool(ctx context.Context, call core.ToolCall) tool.Result
	// ReportProblem surfaces a non-fatal condition to the hosting
	// application.
	ReportProblem(ctx context.Context, err error)
}

// resumeData is the consumed form of a checkpoint leaf, handed to the
// subgraph that owns the target node.
type resumeData struct {
	path   Path
	source checkpoint.Source
	value  any
}

// Execution is the per-run mutable state of one engine run: identity,
// session, environment, limits and the checkpoint/cursor bookkeeping the
// restore logic operates on. Create one per Agent.Run; never share across
// runs. The engine drives it from a single goroutine.
type Execution struct {
	runID    string
	session  *session.Context
	env      Environment
	tools    *tool.Registry
	pipeline *pipeline.Pipeline
	logger   logging.Logger

	maxIterations  int
	rollbackPolicy checkpoint.Policy

	storage   checkpoint.Storage
	lineageID string

	// cursors re-point a subgraph's current node during restore, keyed by
	// the subgraph's path string. Consumed on first use.
	cursors map[string]Node
	resume  *resumeData
	pending *checkpoint.Checkpoint
}

// ExecutionOptions configures a per-run Execution.
type ExecutionOptions struct {
	Environment    Environment
	Tools          *tool.Registry
	Pipeline       *pipeline.Pipeline
	Logger         logging.Logger
	MaxIterations  int
	RollbackPolicy checkpoint.Policy
	Storage        checkpoint.Storage
	LineageID      string
}

// WithEnvironment sets the external tool/reporting environment.
func WithEnvironment(env Environment) func(o *ExecutionOptions) {
	return func(o *ExecutionOptions) { o.Environment = env }
}

// WithToolRegistry sets the tool registry backing tool-selection swaps.
func WithToolRegistry(r *tool.Registry) func(o *ExecutionOptions) {
	return func(o *ExecutionOptions) { o.Tools = r }
}

// WithPipeline sets the lifecycle event pipeline.
func WithPipeline(p *pipeline.Pipeline) func(o *ExecutionOptions) {
	return func(o *ExecutionOptions) { o.Pipeline = p }
}

// WithLogger sets the run logger.
func WithLogger(l logging.Logger) func(o *ExecutionOptions) {
	return func(o *ExecutionOptions) { o.Logger = l }
}

// WithMaxIterations caps loop iterations per subgraph invocation.
func WithMaxIterations(n int) func(o *ExecutionOptions) {
	return func(o *ExecutionOptions) { o.MaxIterations = n }
}

// WithRollbackPolicy sets the policy applied to checkpoints captured
// during this run.
func WithRollbackPolicy(p checkpoint.Policy) func(o *ExecutionOptions) {
	return func(o *ExecutionOptions) { o.RollbackPolicy = p }
}

// WithCheckpointStorage enables SaveCheckpoint persistence under the given
// lineage id.
func WithCheckpointStorage(s checkpoint.Storage, lineageID string) func(o *ExecutionOptions) {
	return func(o *ExecutionOptions) {
		o.Storage = s
		o.LineageID = lineageID
	}
}

// NewExecution creates the per-run state for one engine run.
func NewExecution(runID string, sess *session.Context, optFns ...func(o *ExecutionOptions)) *Execution {
	opts := ExecutionOptions{
		Pipeline:       pipeline.New(),
		Logger:         logging.NoOpLogger{},
		MaxIterations:  DefaultMaxIterations,
		RollbackPolicy: checkpoint.PolicyFullExecutionPoint,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	return &Execution{
		runID:          runID,
		session:        sess,
		env:            opts.Environment,
		tools:          opts.Tools,
		pipeline:       opts.Pipeline,
		logger:         opts.Logger,
		maxIterations:  opts.MaxIterations,
		rollbackPolicy: opts.RollbackPolicy,
		storage:        opts.Storage,
		lineageID:      opts.LineageID,
		cursors:        make(map[string]Node),
	}
}

// RunID returns the run's identity.
func (e *Execution) RunID() string { return e.runID }

// Session returns the run's shared session context.
func (e *Execution) Session() *session.Context { return e.session }

// Pipeline returns the run's lifecycle event pipeline.
func (e *Execution) Pipeline() *pipeline.Pipeline { return e.pipeline }

// Logger returns the run logger.
func (e *Execution) Logger() logging.Logger { return e.logger }

// Tools returns the run's tool registry, which may be nil.
func (e *Execution) Tools() *tool.Registry { return e.tools }

// MaxIterations returns the per-subgraph loop cap.
func (e *Execution) MaxIterations() int { return e.maxIterations }

// RollbackPolicy returns the policy applied to captured checkpoints.
func (e *Execution) RollbackPolicy() checkpoint.Policy { return e.rollbackPolicy }

// ReportProblem forwards a non-fatal condition to the environment, if one
// is installed.
func (e *Execution) ReportProblem(ctx context.Context, err error) {
	if e.env != nil {
		e.env.ReportProblem(ctx, err)
	}
}

// CallTool dispatches a tool call through the environment, bracketing it
// with pipeline events. Tool failures come back inside the Result; the
// returned error covers infrastructure only (no environment installed, or
// an observer aborting dispatch).
func (e *Execution) CallTool(ctx context.Context, call core.ToolCall) (tool.Result, error) {
	if e.env == nil {
		return tool.Result{}, fmt.Errorf("graph: no environment installed for tool call %q", call.Name)
	}
	info, _ := pipeline.ExecutionFromContext(ctx)
	if err := e.pipeline.Emit(ctx, pipeline.Event{
		Kind:      pipeline.ToolCallStarting,
		Execution: info,
		Name:      call.Name,
		Input:     call.Arguments,
	}); err != nil {
		return tool.Result{}, err
	}
	res := e.env.ExecuteTool(ctx, call)
	ev := pipeline.Event{
		Kind:      pipeline.ToolCallCompleted,
		Execution: info,
		Name:      call.Name,
		Output:    res.Content,
	}
	switch {
	case res.ValidationErr != nil:
		ev.Kind = pipeline.ToolValidationFailed
		ev.Err = res.ValidationErr
		ev.Output = nil
	case res.Err != nil:
		ev.Kind = pipeline.ToolCallFailed
		ev.Err = res.Err
		ev.Output = nil
	}
	if err := e.pipeline.Emit(ctx, ev); err != nil {
		return tool.Result{}, err
	}
	e.logger.Debug("tool call dispatched", "tool", call.Name, "succeeded", res.Succeeded())
	return res, nil
}

// CreateCheckpoint captures a checkpoint at the given node. The current
// conversation history and the run's rollback policy are snapshotted
// first; caller options (saved input or output, cleanups) apply on top.
// Capturing requires a read session, so it must not be called from inside
// an active session block.
func (e *Execution) CreateCheckpoint(ctx context.Context, n Node, optFns ...func(o *checkpoint.Options)) (*checkpoint.Checkpoint, error) {
	var history []core.Message
	err := e.session.ReadSession(ctx, func(_ context.Context, s *session.ReadSession) error {
		history = s.Prompt()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: snapshotting history for checkpoint: %w", err)
	}
	base := []func(o *checkpoint.Options){
		checkpoint.WithHistory(history),
		checkpoint.WithPolicy(e.rollbackPolicy),
	}
	return checkpoint.New(n.Path().String(), append(base, optFns...)...)
}

// SaveCheckpoint persists a checkpoint under the run's lineage so a later
// run (or process) can resume from it. Fails when no storage is
// configured.
func (e *Execution) SaveCheckpoint(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if e.storage == nil {
		return fmt.Errorf("graph: no checkpoint storage configured")
	}
	return e.storage.Save(ctx, e.lineageID, cp)
}

// RequestRollback registers the checkpoint as pending restore data and
// returns ErrInterrupted for the calling node to propagate. The strategy
// loop consumes the pending data and re-invokes the graph from the
// restored position.
func (e *Execution) RequestRollback(cp *checkpoint.Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("graph: rollback requested without checkpoint")
	}
	e.pending = cp
	return ErrInterrupted
}

// SetPendingCheckpoint injects restore data before the run starts, used by
// the agent to resume from externally persisted checkpoints.
func (e *Execution) SetPendingCheckpoint(cp *checkpoint.Checkpoint) {
	e.pending = cp
}

// PendingCheckpoint returns the pending checkpoint without consuming it.
func (e *Execution) PendingCheckpoint() *checkpoint.Checkpoint { return e.pending }

// takePending consumes the pending checkpoint. Clearing before the restore
// attempt is what guarantees the strategy resume loop terminates.
func (e *Execution) takePending() *checkpoint.Checkpoint {
	cp := e.pending
	e.pending = nil
	return cp
}

func (e *Execution) hasPending() bool { return e.pending != nil }

// setCursor overrides the named subgraph's current node for its next
// invocation.
func (e *Execution) setCursor(subgraphPath string, n Node) {
	e.cursors[subgraphPath] = n
}

// takeCursor consumes a cursor override for the subgraph, if present.
func (e *Execution) takeCursor(subgraphPath string) (Node, bool) {
	n, ok := e.cursors[subgraphPath]
	if ok {
		delete(e.cursors, subgraphPath)
	}
	return n, ok
}

// setResume records the leaf restore data.
func (e *Execution) setResume(r resumeData) { e.resume = &r }

// takeResume consumes the leaf restore data if it targets the given path.
func (e *Execution) takeResume(path Path) (resumeData, bool) {
	if e.resume == nil || e.resume.path.String() != path.String() {
		return resumeData{}, false
	}
	r := *e.resume
	e.resume = nil
	return r, true
}
