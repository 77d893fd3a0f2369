package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/checkpoint"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/graph"
	"github.com/hupe1980/agentgraph/internal/testutil"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/pipeline"
	"github.com/hupe1980/agentgraph/session"
)

func echoStrategy(t *testing.T) *graph.Strategy {
	t.Helper()
	root := graph.NewSubgraph("root")
	require.NoError(t, root.AddNode(graph.NewNode("echo", func(_ context.Context, _ *graph.Execution, in string) (string, error) {
		return "echo:" + in, nil
	})))
	require.NoError(t, root.Chain("echo"))

	strat, err := graph.NewStrategy("main", root)
	require.NoError(t, err)
	return strat
}

func TestAgentRun(t *testing.T) {
	a, err := New(echoStrategy(t), model.NewMockExecutor())
	require.NoError(t, err)

	out, err := a.Run(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", out)
}

func TestAgentRunEmitsLifecycleEvents(t *testing.T) {
	a, err := New(echoStrategy(t), model.NewMockExecutor())
	require.NoError(t, err)

	rec := testutil.NewRecorder("recorder")
	a.Install(rec)

	_, err = a.Run(context.Background(), "hi")
	require.NoError(t, err)

	kinds := rec.Kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, pipeline.AgentStarting, kinds[0])
	assert.Equal(t, pipeline.AgentFinished, kinds[len(kinds)-1])
	assert.NotEmpty(t, rec.Filter(pipeline.StrategyStarting))
	assert.NotEmpty(t, rec.Filter(pipeline.NodeFinished))
}

func TestAgentModelCallsReachPipeline(t *testing.T) {
	mock := model.NewMockExecutor()
	mock.AddResponse("question", "answer")

	root := graph.NewSubgraph("root")
	require.NoError(t, root.AddNode(graph.NewNode("ask", func(ctx context.Context, exec *graph.Execution, in string) (string, error) {
		var content string
		err := exec.Session().WriteSession(ctx, func(ctx context.Context, s *session.Session) error {
			s.AppendMessage(core.UserMessage(in))
			resp, err := s.RequestResponse(ctx)
			if err != nil {
				return err
			}
			content = resp.Message.Content
			return nil
		})
		return content, err
	})))
	require.NoError(t, root.Chain("ask"))

	strat, err := graph.NewStrategy("main", root)
	require.NoError(t, err)

	a, err := New(strat, mock)
	require.NoError(t, err)

	rec := testutil.NewRecorder("recorder")
	a.Install(rec)

	out, err := a.Run(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
	assert.Len(t, rec.Filter(pipeline.ModelCallStarting), 1)
	assert.Len(t, rec.Filter(pipeline.ModelCallFinished), 1)
}

func TestAgentRejectsConcurrentRuns(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	root := graph.NewSubgraph("root")
	require.NoError(t, root.AddNode(graph.NewNode("block", func(_ context.Context, _ *graph.Execution, in string) (string, error) {
		close(entered)
		<-release
		return in, nil
	})))
	require.NoError(t, root.Chain("block"))

	strat, err := graph.NewStrategy("main", root)
	require.NoError(t, err)

	a, err := New(strat, model.NewMockExecutor())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := a.Run(context.Background(), "x")
		done <- err
	}()

	<-entered
	_, err = a.Run(context.Background(), "y")
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	require.NoError(t, <-done)
}

func TestAgentResumesFromPersistedCheckpoint(t *testing.T) {
	storage := checkpoint.NewInMemoryStorage()
	crash := errors.New("transient failure")

	var (
		runs  int
		strat *graph.Strategy
	)
	root := graph.NewSubgraph("root")
	require.NoError(t, root.AddNode(graph.NewNode("work", func(ctx context.Context, exec *graph.Execution, in string) (string, error) {
		runs++
		if runs == 1 {
			node, err := strat.Metadata().Lookup("main/work")
			if err != nil {
				return "", err
			}
			cp, err := exec.CreateCheckpoint(ctx, node, checkpoint.WithLastOutput("done:"+in))
			if err != nil {
				return "", err
			}
			if err := exec.SaveCheckpoint(ctx, cp); err != nil {
				return "", err
			}
			return "", crash
		}
		return "done:" + in, nil
	})))
	require.NoError(t, root.Chain("work"))

	var err error
	strat, err = graph.NewStrategy("main", root)
	require.NoError(t, err)

	a, err := New(strat, model.NewMockExecutor(), WithCheckpointStorage(storage))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = a.Run(ctx, "x")
	require.ErrorIs(t, err, crash)

	// The failed run persisted a checkpoint for the agent's lineage.
	_, err = storage.Latest(ctx, a.ID())
	require.NoError(t, err)

	// The next run restores it and resumes past the node with the
	// recorded output instead of re-executing.
	out, err := a.Run(ctx, "ignored")
	require.NoError(t, err)
	assert.Equal(t, "done:x", out)
	assert.Equal(t, 1, runs)

	// Success clears the lineage.
	_, err = storage.Latest(ctx, a.ID())
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestAgentClose(t *testing.T) {
	a, err := New(echoStrategy(t), model.NewMockExecutor())
	require.NoError(t, err)

	rec := testutil.NewRecorder("recorder")
	a.Install(rec)

	ctx := context.Background()
	require.NoError(t, a.Close(ctx))
	assert.Len(t, rec.Filter(pipeline.AgentClosing), 1)

	// Idempotent; no second event.
	require.NoError(t, a.Close(ctx))
	assert.Len(t, rec.Filter(pipeline.AgentClosing), 1)

	_, err = a.Run(ctx, "x")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAgentSystemPromptSeedsSession(t *testing.T) {
	a, err := New(echoStrategy(t), model.NewMockExecutor(),
		WithConfig(Config{SystemPrompt: "be terse"}),
	)
	require.NoError(t, err)

	require.NoError(t, a.Session().ReadSession(context.Background(), func(_ context.Context, s *session.ReadSession) error {
		prompt := s.Prompt()
		require.Len(t, prompt, 1)
		assert.Equal(t, "be terse", prompt[0].Content)
		return nil
	}))
}
