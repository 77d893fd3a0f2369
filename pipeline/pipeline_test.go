package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingObserver(id string, log *[]string) Observer {
	return ObserverFunc{
		Name: id,
		Fn: func(_ context.Context, ev Event) error {
			*log = append(*log, id+":"+string(ev.Kind))
			return nil
		},
	}
}

func TestEmitDispatchOrder(t *testing.T) {
	p := New()
	var log []string
	p.Install(recordingObserver("first", &log))
	p.Install(recordingObserver("second", &log))
	p.Install(recordingObserver("third", &log))

	require.NoError(t, p.Emit(context.Background(), Event{Kind: NodeStarting}))

	assert.Equal(t, []string{
		"first:node_starting",
		"second:node_starting",
		"third:node_starting",
	}, log)
}

func TestInstallReplacesInPlace(t *testing.T) {
	p := New()
	var log []string
	p.Install(recordingObserver("a", &log))
	p.Install(recordingObserver("b", &log))

	// Reinstalling "a" must keep its original dispatch position.
	p.Install(ObserverFunc{
		Name: "a",
		Fn: func(_ context.Context, ev Event) error {
			log = append(log, "a2:"+string(ev.Kind))
			return nil
		},
	})

	require.NoError(t, p.Emit(context.Background(), Event{Kind: NodeFinished}))
	assert.Equal(t, []string{"a2:node_finished", "b:node_finished"}, log)

	assert.Len(t, p.Observers(), 2)
}

func TestEmitFailFast(t *testing.T) {
	p := New()
	var log []string
	boom := errors.New("boom")

	p.Install(recordingObserver("before", &log))
	p.Install(ObserverFunc{
		Name: "failing",
		Fn:   func(context.Context, Event) error { return boom },
	})
	p.Install(recordingObserver("after", &log))

	err := p.Emit(context.Background(), Event{Kind: ToolCallStarting})
	require.ErrorIs(t, err, boom)

	// Dispatch stops at the failing observer.
	assert.Equal(t, []string{"before:tool_call_starting"}, log)
}

func TestEmitFillsTimestamp(t *testing.T) {
	p := New()
	var got Event
	p.Install(ObserverFunc{
		Name: "capture",
		Fn: func(_ context.Context, ev Event) error {
			got = ev
			return nil
		},
	})

	require.NoError(t, p.Emit(context.Background(), Event{Kind: AgentStarting}))
	assert.False(t, got.Timestamp.IsZero())
}

func TestExecutionContextRoundTrip(t *testing.T) {
	info := ExecutionInfo{RunID: "run", ID: "child", ParentID: "parent"}
	ctx := ContextWithExecution(context.Background(), info)

	got, ok := ExecutionFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, info, got)

	_, ok = ExecutionFromContext(context.Background())
	assert.False(t, ok)
}
