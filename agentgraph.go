// Package agentgraph provides a high-level façade over the graph execution
// engine and its supporting services (sessions, tools, checkpoints,
// lifecycle observers) enabling rapid construction of graph-driven agents.
// Most applications interact with this package by:
//  1. Building a strategy graph with the graph package
//  2. Creating an AgentGraph via New() around a model executor
//  3. Compiling agents from strategies and invoking Run
//
// The façade delegates execution to agent.Agent while keeping setup
// ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply durable checkpoint
// storage and a structured logger.
package agentgraph

import (
	"context"

	"github.com/hupe1980/agentgraph/agent"
	"github.com/hupe1980/agentgraph/checkpoint"
	"github.com/hupe1980/agentgraph/graph"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/pipeline"
	"github.com/hupe1980/agentgraph/tool"
)

// Options configures the AgentGraph instance.
type Options struct {
	// Config carries the execution settings shared by compiled agents
	// (iteration cap, rollback policy, model reference, system prompt).
	Config agent.Config

	// Tools registers the callable tools exposed to strategies. Nil means
	// no tool support.
	Tools *tool.Registry

	// CheckpointStorage persists checkpoints between runs (defaults to the
	// in-memory store).
	CheckpointStorage checkpoint.Storage

	// Observers are installed on every compiled agent's event pipeline.
	Observers []pipeline.Observer

	// Logger defaults to the NoOp logger if nil.
	Logger logging.Logger
}

// AgentGraph is the high-level façade aggregating the model executor and
// the shared services compiled agents are wired with.
type AgentGraph struct {
	executor model.Executor
	opts     Options
}

// New creates a new AgentGraph around a model executor with optional
// overrides. Any unset service is initialized with an in-memory
// implementation.
func New(executor model.Executor, optFns ...func(o *Options)) *AgentGraph {
	opts := Options{
		CheckpointStorage: checkpoint.NewInMemoryStorage(),
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &AgentGraph{executor: executor, opts: opts}
}

// Compile builds a runnable agent from a compiled strategy, wiring in the
// façade's tools, checkpoint storage, observers and logger.
func (g *AgentGraph) Compile(strategy *graph.Strategy) (*agent.Agent, error) {
	a, err := agent.New(strategy, g.executor,
		agent.WithConfig(g.opts.Config),
		agent.WithTools(g.opts.Tools),
		agent.WithCheckpointStorage(g.opts.CheckpointStorage),
		agent.WithLogger(g.opts.Logger),
	)
	if err != nil {
		return nil, err
	}
	for _, o := range g.opts.Observers {
		a.Install(o)
	}
	return a, nil
}

// Run compiles the strategy and executes it once against the input. A
// convenience for one-shot invocations; reuse Compile for repeated runs.
func (g *AgentGraph) Run(ctx context.Context, strategy *graph.Strategy, input any) (any, error) {
	a, err := g.Compile(strategy)
	if err != nil {
		return nil, err
	}
	return a.Run(ctx, input)
}
