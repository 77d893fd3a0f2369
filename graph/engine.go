package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/agentgraph/checkpoint"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/pipeline"
	"github.com/hupe1980/agentgraph/session"
)

// Engine walks a strategy graph for one run. The engine itself is
// stateless; everything mutable lives on the Execution, so a single engine
// value may drive any number of runs concurrently.
type Engine struct{}

// NewEngine creates an execution engine.
func NewEngine() *Engine { return &Engine{} }

// Run executes the strategy from its start node and returns the value that
// reached the finish node.
//
// Run owns the resume loop: when the graph interrupts with pending
// checkpoint data, the data is consumed, position restored and the graph
// re-invoked. The loop terminates because pending data is always cleared
// before a restore attempt; an interrupt without fresh pending data
// propagates to the caller.
func (e *Engine) Run(ctx context.Context, strat *Strategy, exec *Execution, input any) (any, error) {
	parent, _ := pipeline.ExecutionFromContext(ctx)
	info := pipeline.ExecutionInfo{RunID: exec.RunID(), ID: core.NewID(), ParentID: parent.ID}
	ctx = pipeline.ContextWithExecution(ctx, info)

	if err := exec.pipeline.Emit(ctx, pipeline.Event{
		Kind:      pipeline.StrategyStarting,
		Execution: info,
		Strategy:  strat.Name(),
		Input:     input,
	}); err != nil {
		return nil, err
	}

	output, err := e.runWithResume(ctx, strat, exec, input)

	if emitErr := exec.pipeline.Emit(ctx, pipeline.Event{
		Kind:      pipeline.StrategyFinished,
		Execution: info,
		Strategy:  strat.Name(),
		Output:    output,
		Err:       err,
	}); emitErr != nil && err == nil {
		return nil, emitErr
	}
	return output, err
}

func (e *Engine) runWithResume(ctx context.Context, strat *Strategy, exec *Execution, input any) (any, error) {
	for {
		if cp := exec.takePending(); cp != nil {
			if err := e.restore(ctx, strat, exec, cp); err != nil {
				return nil, err
			}
		}
		output, err := e.runSubgraph(ctx, strat, exec, strat.Root(), input)
		if errors.Is(err, ErrInterrupted) && exec.hasPending() {
			exec.logger.Debug("run interrupted with pending checkpoint, resuming",
				"strategy", strat.Name())
			continue
		}
		return output, err
	}
}

// runSubgraph drives one subgraph invocation: enter at the start node (or
// the restore cursor), execute, resolve edges, repeat until control
// reaches the finish node.
func (e *Engine) runSubgraph(ctx context.Context, strat *Strategy, exec *Execution, g *Subgraph, input any) (output any, err error) {
	parent, _ := pipeline.ExecutionFromContext(ctx)
	info := pipeline.ExecutionInfo{RunID: exec.RunID(), ID: core.NewID(), ParentID: parent.ID}
	ctx = pipeline.ContextWithExecution(ctx, info)

	if err := exec.pipeline.Emit(ctx, pipeline.Event{
		Kind:      pipeline.SubgraphStarting,
		Execution: info,
		Strategy:  strat.Name(),
		Path:      g.Path().String(),
		Name:      g.Name(),
		Input:     input,
	}); err != nil {
		return nil, err
	}
	defer func() {
		emitErr := exec.pipeline.Emit(ctx, pipeline.Event{
			Kind:      pipeline.SubgraphFinished,
			Execution: info,
			Strategy:  strat.Name(),
			Path:      g.Path().String(),
			Name:      g.Name(),
			Output:    output,
			Err:       err,
		})
		if emitErr != nil && err == nil {
			output, err = nil, emitErr
		}
	}()

	restoreTools, err := e.applyToolSelection(ctx, exec, g.Tools())
	if err != nil {
		return nil, err
	}
	if restoreTools != nil {
		defer restoreTools()
	}

	current, _ := g.Node(StartName)
	if cursor, ok := exec.takeCursor(g.Path().String()); ok {
		current = cursor
	}
	curInput := input

	for iter := 1; ; iter++ {
		skipBody := false
		if r, ok := exec.takeResume(current.Path()); ok {
			switch r.source {
			case checkpoint.RestoreFromInput:
				// Legacy form: re-execute the node with its saved input.
				curInput = r.value
			case checkpoint.RestoreFromOutput:
				if current.Name() == FinishName {
					// Finish has no outgoing edges; the saved output is
					// the subgraph's result.
					return r.value, nil
				}
				// Current form: resolve edges against the saved output to
				// find the true resumption node.
				output = r.value
				skipBody = true
			}
		}

		if current.Name() == FinishName {
			return curInput, nil
		}

		if !skipBody {
			if iter >= exec.maxIterations {
				return nil, &IterationLimitExceededError{Path: g.Path(), Limit: exec.maxIterations}
			}
			output, err = e.runNode(ctx, strat, exec, current, curInput)
			if err != nil {
				return nil, err
			}
		}

		next, nextInput, err := e.resolveEdge(ctx, exec, g, current, output)
		if err != nil {
			return nil, err
		}
		current, curInput = next, nextInput
	}
}

// runNode executes a single node, recursing for subgraphs and bracketing
// leaf nodes with pipeline events.
func (e *Engine) runNode(ctx context.Context, strat *Strategy, exec *Execution, n Node, input any) (any, error) {
	if sg, ok := n.(*Subgraph); ok {
		return e.runSubgraph(ctx, strat, exec, sg, input)
	}

	parent, _ := pipeline.ExecutionFromContext(ctx)
	info := pipeline.ExecutionInfo{RunID: exec.RunID(), ID: core.NewID(), ParentID: parent.ID}
	ctx = pipeline.ContextWithExecution(ctx, info)

	if err := exec.pipeline.Emit(ctx, pipeline.Event{
		Kind:      pipeline.NodeStarting,
		Execution: info,
		Strategy:  strat.Name(),
		Path:      n.Path().String(),
		Name:      n.Name(),
		Input:     input,
	}); err != nil {
		return nil, err
	}

	output, err := n.Run(ctx, exec, input)

	exec.logger.Debug("node executed", "path", n.Path().String(), "err", err)
	if emitErr := exec.pipeline.Emit(ctx, pipeline.Event{
		Kind:      pipeline.NodeFinished,
		Execution: info,
		Strategy:  strat.Name(),
		Path:      n.Path().String(),
		Name:      n.Name(),
		Output:    output,
		Err:       err,
	}); emitErr != nil && err == nil {
		return nil, emitErr
	}
	if err != nil {
		return nil, err
	}
	return output, nil
}

// resolveEdge tests the node's declared candidates in order against its
// output; the first resolver that fires determines the next node and its
// input. No match is a fatal dead end.
func (e *Engine) resolveEdge(ctx context.Context, exec *Execution, g *Subgraph, from Node, output any) (Node, any, error) {
	for _, c := range g.Candidates(from.Name()) {
		input, ok, err := c.Resolve(ctx, exec, output)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			continue
		}
		next, found := g.Node(c.To)
		if !found {
			return nil, nil, &UnknownPathError{Path: g.Path().Child(c.To).String()}
		}
		return next, input, nil
	}
	return nil, nil, &DeadEndError{Path: from.Path(), Output: output}
}

// applyToolSelection swaps the session's visible tool definitions for the
// duration of a subgraph and returns the restore action, or nil when the
// subgraph inherits. Restore uses a detached context so a cancelled run
// still puts the previous selection back.
func (e *Engine) applyToolSelection(ctx context.Context, exec *Execution, sel ToolSelection) (func(), error) {
	if sel.Mode == ToolsInherit {
		return nil, nil
	}
	if exec.tools == nil && sel.Mode != ToolsNone {
		return nil, errors.New("graph: tool selection requires a tool registry")
	}

	var defs []model.ToolDefinition
	switch sel.Mode {
	case ToolsAll:
		defs = exec.tools.Definitions(nil)
	case ToolsNamed:
		defs = exec.tools.Definitions(sel.Names)
	case ToolsNone:
		defs = []model.ToolDefinition{}
	}

	var prev []model.ToolDefinition
	err := exec.session.WriteSession(ctx, func(_ context.Context, s *session.Session) error {
		prev = s.Tools()
		s.SetTools(defs)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: applying tool selection: %w", err)
	}

	restore := func() {
		rctx := context.WithoutCancel(ctx)
		if rerr := exec.session.WriteSession(rctx, func(_ context.Context, s *session.Session) error {
			s.SetTools(prev)
			return nil
		}); rerr != nil {
			exec.logger.Error("restoring tool selection failed", "error", rerr)
		}
	}
	return restore, nil
}

// restore applies a consumed checkpoint: path resolution and structural
// validation first, then cleanups, then cursor re-pointing per the
// rollback policy, then the history overwrite. A failure aborts the
// restore attempt without touching unrelated state.
func (e *Engine) restore(ctx context.Context, strat *Strategy, exec *Execution, cp *checkpoint.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return &RestoreError{Path: cp.NodePath, Reason: "invalid checkpoint", Err: err}
	}
	// The path must resolve regardless of policy; a checkpoint naming a
	// node this strategy does not contain never restores.
	if _, err := strat.Metadata().Lookup(cp.NodePath); err != nil {
		return &RestoreError{Path: cp.NodePath, Reason: "path not in strategy", Err: err}
	}
	if err := cp.RunCleanups(ctx); err != nil {
		return &RestoreError{Path: cp.NodePath, Reason: "cleanup failed", Err: err}
	}

	if cp.RollbackPolicy == checkpoint.PolicyFullExecutionPoint {
		if err := e.restoreCursor(strat, exec, cp); err != nil {
			return err
		}
	}

	err := exec.session.WriteSession(ctx, func(_ context.Context, s *session.Session) error {
		s.SetPrompt(cp.MessageHistory)
		return nil
	})
	if err != nil {
		return &RestoreError{Path: cp.NodePath, Reason: "overwriting history", Err: err}
	}

	exec.logger.Info("checkpoint restored",
		"path", cp.NodePath,
		"policy", string(cp.RollbackPolicy),
		"source", cp.Source().String())
	return nil
}

// restoreCursor walks the checkpoint path from the strategy root down,
// re-pointing each enclosing subgraph's current node, and stages the leaf
// restore data.
func (e *Engine) restoreCursor(strat *Strategy, exec *Execution, cp *checkpoint.Checkpoint) error {
	path, err := ParsePath(cp.NodePath)
	if err != nil {
		return &RestoreError{Path: cp.NodePath, Reason: "invalid path", Err: err}
	}
	leaf, err := strat.Metadata().Lookup(cp.NodePath)
	if err != nil {
		return &RestoreError{Path: cp.NodePath, Reason: "path not in strategy", Err: err}
	}

	segments := path.Segments()
	if segments[0] != strat.Name() {
		return &RestoreError{Path: cp.NodePath, Reason: fmt.Sprintf("path belongs to strategy %q", segments[0])}
	}

	container := strat.Root()
	for i := 1; i < len(segments); i++ {
		child, ok := container.Node(segments[i])
		if !ok {
			return &RestoreError{Path: cp.NodePath, Reason: fmt.Sprintf("segment %q not found", segments[i])}
		}
		exec.setCursor(container.Path().String(), child)
		if i == len(segments)-1 {
			break
		}
		sg, ok := child.(*Subgraph)
		if !ok {
			return &RestoreError{Path: cp.NodePath, Reason: fmt.Sprintf("intermediate segment %q is not a subgraph", segments[i])}
		}
		container = sg
	}

	switch cp.Source() {
	case checkpoint.RestoreFromInput:
		value, err := leaf.DecodeInput(cp.LastInput)
		if err != nil {
			return &RestoreError{Path: cp.NodePath, Reason: "decoding saved input", Err: err}
		}
		exec.setResume(resumeData{path: path, source: checkpoint.RestoreFromInput, value: value})
	case checkpoint.RestoreFromOutput:
		value, err := leaf.DecodeOutput(cp.LastOutput)
		if err != nil {
			return &RestoreError{Path: cp.NodePath, Reason: "decoding saved output", Err: err}
		}
		exec.setResume(resumeData{path: path, source: checkpoint.RestoreFromOutput, value: value})
	case checkpoint.NoRestoreData:
		// Cursor-only restore: the leaf re-executes with the input its
		// enclosing subgraph passes in.
	}
	return nil
}
