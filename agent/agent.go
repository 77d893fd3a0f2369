package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/agentgraph/checkpoint"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/graph"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/pipeline"
	"github.com/hupe1980/agentgraph/session"
	"github.com/hupe1980/agentgraph/tool"
)

var (
	// ErrAlreadyRunning reports a second concurrent Run on the same agent.
	ErrAlreadyRunning = errors.New("agent: run already in progress")

	// ErrClosed reports use of an agent after Close.
	ErrClosed = errors.New("agent: closed")
)

// Config carries the per-agent execution settings.
type Config struct {
	// MaxIterations caps loop iterations per subgraph invocation.
	MaxIterations int
	// RollbackPolicy applies to checkpoints captured during runs.
	RollbackPolicy checkpoint.Policy
	// Model is the model reference runs start with.
	Model core.ModelRef
	// SystemPrompt, when non-empty, seeds the conversation.
	SystemPrompt string
}

// Agent binds a compiled strategy to a session, tool environment, event
// pipeline and optional checkpoint storage. Safe for concurrent use, but
// only one Run may be in flight at a time.
type Agent struct {
	id       string
	config   Config
	strategy *graph.Strategy
	engine   *graph.Engine
	session  *session.Context
	pipeline *pipeline.Pipeline
	tools    *tool.Registry
	env      graph.Environment
	storage  checkpoint.Storage
	logger   logging.Logger

	mu      sync.Mutex
	running bool
	closed  bool
}

// Options configures agent construction.
type Options struct {
	Config   Config
	Tools    *tool.Registry
	Env      graph.Environment
	Storage  checkpoint.Storage
	Logger   logging.Logger
	Pipeline *pipeline.Pipeline
}

// WithConfig sets the execution settings.
func WithConfig(cfg Config) func(o *Options) {
	return func(o *Options) { o.Config = cfg }
}

// WithTools sets the tool registry backing graph tool selections and the
// default environment.
func WithTools(r *tool.Registry) func(o *Options) {
	return func(o *Options) { o.Tools = r }
}

// WithEnvironment overrides the default registry-backed environment.
func WithEnvironment(env graph.Environment) func(o *Options) {
	return func(o *Options) { o.Env = env }
}

// WithCheckpointStorage enables checkpoint persistence and resume-on-run.
func WithCheckpointStorage(s checkpoint.Storage) func(o *Options) {
	return func(o *Options) { o.Storage = s }
}

// WithLogger sets the agent logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// New creates an agent around a compiled strategy and a model executor.
func New(strategy *graph.Strategy, executor model.Executor, optFns ...func(o *Options)) (*Agent, error) {
	if strategy == nil {
		return nil, errors.New("agent: strategy is required")
	}
	if executor == nil {
		return nil, errors.New("agent: model executor is required")
	}

	opts := Options{
		Logger:   logging.NoOpLogger{},
		Pipeline: pipeline.New(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Config.MaxIterations <= 0 {
		opts.Config.MaxIterations = graph.DefaultMaxIterations
	}
	if opts.Config.RollbackPolicy == "" {
		opts.Config.RollbackPolicy = checkpoint.PolicyFullExecutionPoint
	}
	if opts.Pipeline == nil {
		opts.Pipeline = pipeline.New()
	}

	a := &Agent{
		id:       core.NewID(),
		config:   opts.Config,
		strategy: strategy,
		engine:   graph.NewEngine(),
		pipeline: opts.Pipeline,
		tools:    opts.Tools,
		env:      opts.Env,
		storage:  opts.Storage,
		logger:   opts.Logger,
	}
	if a.env == nil && a.tools != nil {
		a.env = &registryEnvironment{tools: a.tools, logger: a.logger}
	}

	initial := session.State{Model: opts.Config.Model}
	if opts.Config.SystemPrompt != "" {
		initial.Prompt = []core.Message{core.SystemMessage(opts.Config.SystemPrompt)}
	}
	if a.tools != nil {
		initial.Tools = a.tools.Definitions(nil)
	}
	a.session = session.NewContext(executor, initial,
		session.WithLogger(a.logger),
		session.WithMonitor(&pipelineMonitor{pipeline: a.pipeline, runID: a.id}),
	)
	return a, nil
}

// ID returns the agent's identity, also used as the checkpoint lineage id.
func (a *Agent) ID() string { return a.id }

// Session exposes the agent's session context, mainly for tests and for
// callers that seed conversation state between runs.
func (a *Agent) Session() *session.Context { return a.session }

// Install registers a lifecycle observer; installing an observer with an
// already-present ID replaces it in place.
func (a *Agent) Install(o pipeline.Observer) { a.pipeline.Install(o) }

// acquireRun flips the running flag, refusing overlap.
func (a *Agent) acquireRun() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if a.running {
		return ErrAlreadyRunning
	}
	a.running = true
	return nil
}

func (a *Agent) releaseRun() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}

// Run executes the strategy against the input and returns the value that
// reached the finish node. A second concurrent call fails immediately with
// ErrAlreadyRunning. When checkpoint storage is configured the latest
// persisted checkpoint for this agent is restored before execution and the
// lineage is cleared on success.
func (a *Agent) Run(ctx context.Context, input any) (output any, err error) {
	if err := a.acquireRun(); err != nil {
		return nil, err
	}
	defer a.releaseRun()

	runID := core.NewID()
	info := pipeline.ExecutionInfo{RunID: runID, ID: runID}
	ctx = pipeline.ContextWithExecution(ctx, info)

	a.logger.Info("run starting", "agent", a.id, "run_id", runID, "strategy", a.strategy.Name())

	if err := a.pipeline.Emit(ctx, pipeline.Event{
		Kind:      pipeline.AgentStarting,
		Execution: info,
		Strategy:  a.strategy.Name(),
		Name:      a.id,
		Input:     input,
	}); err != nil {
		return nil, err
	}
	defer func() {
		emitErr := a.pipeline.Emit(ctx, pipeline.Event{
			Kind:      pipeline.AgentFinished,
			Execution: info,
			Strategy:  a.strategy.Name(),
			Name:      a.id,
			Output:    output,
			Err:       err,
		})
		if emitErr != nil && err == nil {
			output, err = nil, emitErr
		}
	}()

	exec := graph.NewExecution(runID, a.session,
		graph.WithEnvironment(a.env),
		graph.WithToolRegistry(a.tools),
		graph.WithPipeline(a.pipeline),
		graph.WithLogger(a.logger),
		graph.WithMaxIterations(a.config.MaxIterations),
		graph.WithRollbackPolicy(a.config.RollbackPolicy),
		graph.WithCheckpointStorage(a.storage, a.id),
	)

	if a.storage != nil {
		cp, lerr := a.storage.Latest(ctx, a.id)
		switch {
		case lerr == nil:
			a.logger.Info("resuming from persisted checkpoint", "run_id", runID, "path", cp.NodePath)
			exec.SetPendingCheckpoint(cp)
		case errors.Is(lerr, checkpoint.ErrNotFound):
			// Fresh run.
		default:
			return nil, fmt.Errorf("agent: loading checkpoint: %w", lerr)
		}
	}

	output, err = a.engine.Run(ctx, a.strategy, exec, input)
	if err != nil {
		a.logger.Error("run failed", "run_id", runID, "error", err)
		return nil, err
	}

	if a.storage != nil {
		if cerr := a.storage.Clear(ctx, a.id); cerr != nil {
			a.logger.Error("clearing checkpoint lineage failed", "run_id", runID, "error", cerr)
		}
	}
	a.logger.Info("run finished", "run_id", runID)
	return output, nil
}

// Close marks the agent unusable and notifies observers. Idempotent.
func (a *Agent) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	return a.pipeline.Emit(ctx, pipeline.Event{
		Kind:      pipeline.AgentClosing,
		Execution: pipeline.ExecutionInfo{RunID: a.id, ID: a.id},
		Name:      a.id,
	})
}
