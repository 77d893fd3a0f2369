package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/checkpoint"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/internal/testutil"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/pipeline"
	"github.com/hupe1980/agentgraph/session"
	"github.com/hupe1980/agentgraph/tool"
)

func newTestSession() *session.Context {
	return session.NewContext(model.NewMockExecutor(), session.State{})
}

func newTestExecution(sess *session.Context, optFns ...func(o *ExecutionOptions)) (*Execution, *testutil.Recorder) {
	rec := testutil.NewRecorder("recorder")
	p := pipeline.New()
	p.Install(rec)
	opts := append([]func(o *ExecutionOptions){WithPipeline(p)}, optFns...)
	return NewExecution(core.NewID(), sess, opts...), rec
}

func linearStrategy(t *testing.T, counter *int) *Strategy {
	t.Helper()
	root := NewSubgraph("root")
	require.NoError(t, root.AddNode(NewNode("a", func(_ context.Context, _ *Execution, in string) (string, error) {
		*counter++
		return in + "-a", nil
	})))
	require.NoError(t, root.Chain("a"))

	strat, err := NewStrategy("main", root)
	require.NoError(t, err)
	return strat
}

func TestEngineLinearRun(t *testing.T) {
	var runs int
	strat := linearStrategy(t, &runs)
	exec, _ := newTestExecution(newTestSession())

	out, err := NewEngine().Run(context.Background(), strat, exec, "seed")
	require.NoError(t, err)
	assert.Equal(t, "seed-a", out)
	assert.Equal(t, 1, runs)
}

func TestEngineConditionalEdgesFirstMatchWins(t *testing.T) {
	root := NewSubgraph("root")
	require.NoError(t, root.AddNode(NewNode("classify", func(_ context.Context, _ *Execution, in string) (string, error) {
		return in, nil
	})))
	require.NoError(t, root.AddNode(NewNode("low", func(_ context.Context, _ *Execution, in string) (string, error) {
		return "low:" + in, nil
	})))
	require.NoError(t, root.AddNode(NewNode("high", func(_ context.Context, _ *Execution, in string) (string, error) {
		return "high:" + in, nil
	})))

	require.NoError(t, root.AddEdge(StartName, Candidate{To: "classify", Resolve: Forward()}))
	require.NoError(t, root.AddEdge("classify",
		Candidate{To: "low", Resolve: WhenExpr(`output == "small"`)},
		// Always matches; must only fire when the first declines.
		Candidate{To: "high", Resolve: Forward()},
	))
	require.NoError(t, root.AddEdge("low", Candidate{To: FinishName, Resolve: Forward()}))
	require.NoError(t, root.AddEdge("high", Candidate{To: FinishName, Resolve: Forward()}))

	strat, err := NewStrategy("main", root)
	require.NoError(t, err)

	// Deterministic: same output, same edge, both times.
	for i := 0; i < 2; i++ {
		exec, _ := newTestExecution(newTestSession())
		out, err := NewEngine().Run(context.Background(), strat, exec, "small")
		require.NoError(t, err)
		assert.Equal(t, "low:small", out)
	}

	exec, _ := newTestExecution(newTestSession())
	out, err := NewEngine().Run(context.Background(), strat, exec, "big")
	require.NoError(t, err)
	assert.Equal(t, "high:big", out)
}

func TestEngineDeadEnd(t *testing.T) {
	root := NewSubgraph("root")
	require.NoError(t, root.AddNode(NewNode("stuck", func(_ context.Context, _ *Execution, in string) (string, error) {
		return in, nil
	})))
	require.NoError(t, root.AddEdge(StartName, Candidate{To: "stuck", Resolve: Forward()}))
	require.NoError(t, root.AddEdge("stuck", Candidate{To: FinishName, Resolve: When(func(any) bool { return false })}))

	strat, err := NewStrategy("main", root)
	require.NoError(t, err)

	exec, _ := newTestExecution(newTestSession())
	_, err = NewEngine().Run(context.Background(), strat, exec, "x")

	var deadEnd *DeadEndError
	require.ErrorAs(t, err, &deadEnd)
	assert.Equal(t, "main/stuck", deadEnd.Path.String())
}

func TestEngineIterationLimit(t *testing.T) {
	const limit = 5

	var loops int
	root := NewSubgraph("root")
	require.NoError(t, root.AddNode(NewNode("loop", func(_ context.Context, _ *Execution, in int) (int, error) {
		loops++
		return in + 1, nil
	})))
	require.NoError(t, root.AddEdge(StartName, Candidate{To: "loop", Resolve: Forward()}))
	require.NoError(t, root.AddEdge("loop", Candidate{To: "loop", Resolve: Forward()}))

	strat, err := NewStrategy("main", root)
	require.NoError(t, err)

	exec, _ := newTestExecution(newTestSession(), WithMaxIterations(limit))
	_, err = NewEngine().Run(context.Background(), strat, exec, 0)

	var limitErr *IterationLimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, limit, limitErr.Limit)

	// The Nth iteration attempt fails before executing; the start node
	// consumed the first slot, so the loop body ran limit-2 times.
	assert.Equal(t, limit-2, loops)
}

func TestEngineEventOrdering(t *testing.T) {
	inner := NewSubgraph("inner")
	require.NoError(t, inner.AddNode(NewNode("work", func(_ context.Context, _ *Execution, in string) (string, error) {
		return in, nil
	})))
	require.NoError(t, inner.Chain("work"))

	root := NewSubgraph("root")
	require.NoError(t, root.AddNode(inner))
	require.NoError(t, root.Chain("inner"))

	strat, err := NewStrategy("main", root)
	require.NoError(t, err)

	exec, rec := newTestExecution(newTestSession())
	_, err = NewEngine().Run(context.Background(), strat, exec, "x")
	require.NoError(t, err)

	events := rec.Events()
	idx := func(kind pipeline.Kind, path string) int {
		for i, ev := range events {
			if ev.Kind == kind && ev.Path == path {
				return i
			}
		}
		t.Fatalf("event %s %q not found", kind, path)
		return -1
	}

	stratStart := 0
	require.Equal(t, pipeline.StrategyStarting, events[0].Kind)
	rootStart := idx(pipeline.SubgraphStarting, "main")
	innerStart := idx(pipeline.SubgraphStarting, "main/inner")
	workStart := idx(pipeline.NodeStarting, "main/inner/work")

	// Parent starting precedes child starting.
	assert.Less(t, stratStart, rootStart)
	assert.Less(t, rootStart, innerStart)
	assert.Less(t, innerStart, workStart)

	workEnd := idx(pipeline.NodeFinished, "main/inner/work")
	innerEnd := idx(pipeline.SubgraphFinished, "main/inner")
	rootEnd := idx(pipeline.SubgraphFinished, "main")
	stratEnd := len(events) - 1
	require.Equal(t, pipeline.StrategyFinished, events[stratEnd].Kind)

	// Child ending precedes parent ending.
	assert.Less(t, workEnd, innerEnd)
	assert.Less(t, innerEnd, rootEnd)
	assert.Less(t, rootEnd, stratEnd)

	// Identity chain: the node's parent is the inner subgraph execution,
	// whose parent is the root subgraph execution.
	assert.Equal(t, events[innerStart].Execution.ID, events[workStart].Execution.ParentID)
	assert.Equal(t, events[rootStart].Execution.ID, events[innerStart].Execution.ParentID)
}

func TestEngineObserverErrorAbortsRun(t *testing.T) {
	var runs int
	strat := linearStrategy(t, &runs)

	boom := errors.New("observer rejected")
	p := pipeline.New()
	p.Install(pipeline.ObserverFunc{
		Name: "vetoing",
		Fn: func(_ context.Context, ev pipeline.Event) error {
			if ev.Kind == pipeline.NodeStarting {
				return boom
			}
			return nil
		},
	})

	exec := NewExecution(core.NewID(), newTestSession(), WithPipeline(p))
	_, err := NewEngine().Run(context.Background(), strat, exec, "x")
	require.ErrorIs(t, err, boom)
	assert.Zero(t, runs, "node must not run once dispatch is aborted")
}

func TestEngineCheckpointRestoreAtFinish(t *testing.T) {
	// Linear Start -> a -> Finish: checkpoint right after a, mutate the
	// session, restore, then confirm resumption at Finish with a's
	// recorded output and the saved conversation.
	var runs int
	strat := linearStrategy(t, &runs)
	sess := newTestSession()
	ctx := context.Background()

	require.NoError(t, sess.WriteSession(ctx, func(_ context.Context, s *session.Session) error {
		s.SetPrompt([]core.Message{core.UserMessage("saved history")})
		return nil
	}))

	exec, _ := newTestExecution(sess)
	out, err := NewEngine().Run(ctx, strat, exec, "seed")
	require.NoError(t, err)
	require.Equal(t, "seed-a", out)
	require.Equal(t, 1, runs)

	aNode, err := strat.Metadata().Lookup("main/a")
	require.NoError(t, err)
	cp, err := exec.CreateCheckpoint(ctx, aNode, checkpoint.WithLastOutput("seed-a"))
	require.NoError(t, err)
	require.Equal(t, checkpoint.RestoreFromOutput, cp.Source())

	// Mutate the conversation after the capture.
	require.NoError(t, sess.WriteSession(ctx, func(_ context.Context, s *session.Session) error {
		s.AppendMessage(core.UserMessage("post-checkpoint noise"))
		return nil
	}))

	restoreExec, _ := newTestExecution(sess)
	restoreExec.SetPendingCheckpoint(cp)
	out, err = NewEngine().Run(ctx, strat, restoreExec, "ignored")
	require.NoError(t, err)

	// Resumed at Finish with a's recorded output; a itself never re-ran.
	assert.Equal(t, "seed-a", out)
	assert.Equal(t, 1, runs)

	require.NoError(t, sess.ReadSession(ctx, func(_ context.Context, s *session.ReadSession) error {
		prompt := s.Prompt()
		require.Len(t, prompt, 1)
		assert.Equal(t, "saved history", prompt[0].Content)
		return nil
	}))
}

func TestEngineLegacyInputRestoreReexecutes(t *testing.T) {
	var runs int
	strat := linearStrategy(t, &runs)
	ctx := context.Background()

	cp, err := checkpoint.New("main/a", checkpoint.WithLastInput("replayed"))
	require.NoError(t, err)

	exec, _ := newTestExecution(newTestSession())
	exec.SetPendingCheckpoint(cp)
	out, err := NewEngine().Run(ctx, strat, exec, "ignored")
	require.NoError(t, err)

	// Legacy form: the node re-executes with its saved input.
	assert.Equal(t, "replayed-a", out)
	assert.Equal(t, 1, runs)
}

func TestEngineConversationOnlyRestore(t *testing.T) {
	var runs int
	strat := linearStrategy(t, &runs)
	sess := newTestSession()
	ctx := context.Background()

	cp, err := checkpoint.New("main/a",
		checkpoint.WithHistory([]core.Message{core.UserMessage("only history")}),
		checkpoint.WithPolicy(checkpoint.PolicyConversationOnly),
	)
	require.NoError(t, err)

	exec, _ := newTestExecution(sess)
	exec.SetPendingCheckpoint(cp)
	out, err := NewEngine().Run(ctx, strat, exec, "fresh")
	require.NoError(t, err)

	// Cursor untouched: the run starts from the beginning.
	assert.Equal(t, "fresh-a", out)
	assert.Equal(t, 1, runs)

	require.NoError(t, sess.ReadSession(ctx, func(_ context.Context, s *session.ReadSession) error {
		prompt := s.Prompt()
		require.Len(t, prompt, 1)
		assert.Equal(t, "only history", prompt[0].Content)
		return nil
	}))
}

func TestEngineConversationOnlyRestoreValidatesPath(t *testing.T) {
	// Path resolution is policy-independent: even a restore that leaves
	// the cursor alone refuses a node this strategy does not contain.
	var runs int
	strat := linearStrategy(t, &runs)
	sess := newTestSession()

	cp, err := checkpoint.New("main/ghost",
		checkpoint.WithHistory([]core.Message{core.UserMessage("stale history")}),
		checkpoint.WithPolicy(checkpoint.PolicyConversationOnly),
	)
	require.NoError(t, err)

	exec, _ := newTestExecution(sess)
	exec.SetPendingCheckpoint(cp)
	_, err = NewEngine().Run(context.Background(), strat, exec, "fresh")

	var restoreErr *RestoreError
	require.ErrorAs(t, err, &restoreErr)
	assert.Zero(t, runs)

	// The rejected checkpoint must not have touched the conversation.
	require.NoError(t, sess.ReadSession(context.Background(), func(_ context.Context, s *session.ReadSession) error {
		assert.Empty(t, s.Prompt())
		return nil
	}))
}

func TestEngineRestoreUnknownPathFailsHard(t *testing.T) {
	var runs int
	strat := linearStrategy(t, &runs)

	cp, err := checkpoint.New("main/ghost", checkpoint.WithLastOutput("x"))
	require.NoError(t, err)

	exec, _ := newTestExecution(newTestSession())
	exec.SetPendingCheckpoint(cp)
	_, err = NewEngine().Run(context.Background(), strat, exec, "x")

	var restoreErr *RestoreError
	require.ErrorAs(t, err, &restoreErr)
	assert.Zero(t, runs)
}

func TestEngineRestoreCleanupsRunFirst(t *testing.T) {
	var runs int
	strat := linearStrategy(t, &runs)

	var cleaned bool
	cp, err := checkpoint.New("main/a",
		checkpoint.WithLastInput("redo"),
		checkpoint.WithCleanup(func(context.Context) error {
			cleaned = true
			return nil
		}),
	)
	require.NoError(t, err)

	exec, _ := newTestExecution(newTestSession())
	exec.SetPendingCheckpoint(cp)
	_, err = NewEngine().Run(context.Background(), strat, exec, "x")
	require.NoError(t, err)
	assert.True(t, cleaned)

	t.Run("cleanup failure aborts restore", func(t *testing.T) {
		boom := errors.New("undo failed")
		cp, err := checkpoint.New("main/a",
			checkpoint.WithLastInput("redo"),
			checkpoint.WithCleanup(func(context.Context) error { return boom }),
		)
		require.NoError(t, err)

		exec, _ := newTestExecution(newTestSession())
		exec.SetPendingCheckpoint(cp)
		_, err = NewEngine().Run(context.Background(), strat, exec, "x")

		var restoreErr *RestoreError
		require.ErrorAs(t, err, &restoreErr)
		require.ErrorIs(t, err, boom)
	})
}

func TestEngineInterruptWithRollbackResumesInRun(t *testing.T) {
	var (
		runs  int
		flaky Node
	)
	root := NewSubgraph("root")
	require.NoError(t, root.AddNode(NewNode("flaky", func(ctx context.Context, exec *Execution, in string) (string, error) {
		runs++
		cp, err := exec.CreateCheckpoint(ctx, flaky, checkpoint.WithLastOutput("recovered"))
		if err != nil {
			return "", err
		}
		return "", exec.RequestRollback(cp)
	})))
	require.NoError(t, root.Chain("flaky"))

	strat, err := NewStrategy("main", root)
	require.NoError(t, err)
	flaky, err = strat.Metadata().Lookup("main/flaky")
	require.NoError(t, err)

	exec, _ := newTestExecution(newTestSession())
	out, err := NewEngine().Run(context.Background(), strat, exec, "x")
	require.NoError(t, err)

	// The resume loop consumed the pending checkpoint and edge resolution
	// against the saved output carried control to Finish.
	assert.Equal(t, "recovered", out)
	assert.Equal(t, 1, runs)
}

func TestEngineInterruptWithoutPendingPropagates(t *testing.T) {
	root := NewSubgraph("root")
	require.NoError(t, root.AddNode(NewNode("halt", func(context.Context, *Execution, string) (string, error) {
		return "", ErrInterrupted
	})))
	require.NoError(t, root.Chain("halt"))

	strat, err := NewStrategy("main", root)
	require.NoError(t, err)

	exec, _ := newTestExecution(newTestSession())
	_, err = NewEngine().Run(context.Background(), strat, exec, "x")
	require.ErrorIs(t, err, ErrInterrupted)
}

func TestEngineToolSelectionSwap(t *testing.T) {
	reg, err := tool.NewRegistry(
		tool.NewFunctionTool("echo", "echo", nil, func(_ context.Context, args map[string]any) (any, error) {
			return args, nil
		}),
		tool.NewFunctionTool("search", "search", nil, func(_ context.Context, args map[string]any) (any, error) {
			return args, nil
		}),
	)
	require.NoError(t, err)

	sess := session.NewContext(model.NewMockExecutor(), session.State{Tools: reg.Definitions(nil)})
	ctx := context.Background()

	var visible []string
	inner := NewSubgraph("inner", WithTools(NamedTools("echo")))
	require.NoError(t, inner.AddNode(NewNode("peek", func(ctx context.Context, exec *Execution, in string) (string, error) {
		err := exec.Session().ReadSession(ctx, func(_ context.Context, s *session.ReadSession) error {
			for _, def := range s.Tools() {
				visible = append(visible, def.Function.Name)
			}
			return nil
		})
		return in, err
	})))
	require.NoError(t, inner.Chain("peek"))

	root := NewSubgraph("root")
	require.NoError(t, root.AddNode(inner))
	require.NoError(t, root.Chain("inner"))

	strat, err := NewStrategy("main", root)
	require.NoError(t, err)

	exec, _ := newTestExecution(sess, WithToolRegistry(reg))
	_, err = NewEngine().Run(ctx, strat, exec, "x")
	require.NoError(t, err)

	assert.Equal(t, []string{"echo"}, visible, "only the selected tool is visible inside the subgraph")

	// The previous selection is restored on subgraph exit.
	require.NoError(t, sess.ReadSession(ctx, func(_ context.Context, s *session.ReadSession) error {
		assert.Len(t, s.Tools(), 2)
		return nil
	}))
}

type testEnv struct {
	tools *tool.Registry
}

func (e *testEnv) ExecuteTool(ctx context.Context, call core.ToolCall) tool.Result {
	return e.tools.Execute(ctx, call)
}

func (e *testEnv) ReportProblem(context.Context, error) {}

func TestExecutionCallTool(t *testing.T) {
	reg, err := tool.NewRegistry(
		tool.NewFunctionTool("greet", "greets", nil, func(context.Context, map[string]any) (any, error) {
			return "hello", nil
		}),
	)
	require.NoError(t, err)

	exec, rec := newTestExecution(newTestSession(), WithEnvironment(&testEnv{tools: reg}))

	res, err := exec.CallTool(context.Background(), core.ToolCall{ID: "1", Name: "greet"})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, "hello", res.Content)

	kinds := rec.Kinds()
	assert.Equal(t, []pipeline.Kind{pipeline.ToolCallStarting, pipeline.ToolCallCompleted}, kinds)

	t.Run("validation failure event", func(t *testing.T) {
		rec.Reset()
		res, err := exec.CallTool(context.Background(), core.ToolCall{ID: "2", Name: "ghost"})
		require.NoError(t, err)
		assert.False(t, res.Succeeded())
		assert.Equal(t, []pipeline.Kind{pipeline.ToolCallStarting, pipeline.ToolValidationFailed}, rec.Kinds())
	})
}

func TestNodeInputTypeMismatch(t *testing.T) {
	root := NewSubgraph("root")
	require.NoError(t, root.AddNode(NewNode("typed", func(_ context.Context, _ *Execution, in string) (string, error) {
		return in, nil
	})))
	require.NoError(t, root.AddEdge(StartName, Candidate{To: "typed", Resolve: Forward()}))
	require.NoError(t, root.AddEdge("typed", Candidate{To: FinishName, Resolve: Forward()}))

	strat, err := NewStrategy("main", root)
	require.NoError(t, err)

	exec, _ := newTestExecution(newTestSession())
	_, err = NewEngine().Run(context.Background(), strat, exec, 42)

	var typeErr *NodeInputTypeError
	require.ErrorAs(t, err, &typeErr)
}
