package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hupe1980/agentgraph/pipeline"
)

func newRecordingObserver() (*TraceObserver, *tracetest.SpanRecorder) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return NewTraceObserver(WithTracerProvider(tp)), sr
}

func emit(t *testing.T, o *TraceObserver, ev pipeline.Event) {
	t.Helper()
	require.NoError(t, o.OnEvent(context.Background(), ev))
}

func findSpan(t *testing.T, spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, s := range spans {
		if s.Name() == name {
			return s
		}
	}
	t.Fatalf("span %q not recorded", name)
	return nil
}

func TestTraceObserverSpanTree(t *testing.T) {
	obs, sr := newRecordingObserver()

	run := pipeline.ExecutionInfo{RunID: "r1", ID: "r1"}
	strat := pipeline.ExecutionInfo{RunID: "r1", ID: "s1", ParentID: "r1"}
	node := pipeline.ExecutionInfo{RunID: "r1", ID: "n1", ParentID: "s1"}

	emit(t, obs, pipeline.Event{Kind: pipeline.AgentStarting, Execution: run, Name: "agent-1"})
	emit(t, obs, pipeline.Event{Kind: pipeline.StrategyStarting, Execution: strat, Strategy: "main"})
	emit(t, obs, pipeline.Event{Kind: pipeline.NodeStarting, Execution: node, Path: "main/work", Name: "work"})
	emit(t, obs, pipeline.Event{Kind: pipeline.NodeFinished, Execution: node, Path: "main/work", Name: "work"})
	emit(t, obs, pipeline.Event{Kind: pipeline.StrategyFinished, Execution: strat, Strategy: "main"})
	emit(t, obs, pipeline.Event{Kind: pipeline.AgentFinished, Execution: run, Name: "agent-1"})

	spans := sr.Ended()
	require.Len(t, spans, 3)

	agentSpan := findSpan(t, spans, "agent.run")
	stratSpan := findSpan(t, spans, "strategy main")
	nodeSpan := findSpan(t, spans, "node main/work")

	// Children close before parents.
	assert.Equal(t, "node main/work", spans[0].Name())
	assert.Equal(t, "agent.run", spans[2].Name())

	// Parenting follows execution identity.
	assert.Equal(t, stratSpan.SpanContext().SpanID(), nodeSpan.Parent().SpanID())
	assert.Equal(t, agentSpan.SpanContext().SpanID(), stratSpan.Parent().SpanID())
	assert.False(t, agentSpan.Parent().IsValid())

	// All spans share one trace.
	assert.Equal(t, agentSpan.SpanContext().TraceID(), nodeSpan.SpanContext().TraceID())
	assert.Equal(t, codes.Ok, nodeSpan.Status().Code)
}

func TestTraceObserverToolAndModelSpans(t *testing.T) {
	obs, sr := newRecordingObserver()

	node := pipeline.ExecutionInfo{RunID: "r1", ID: "n1"}
	emit(t, obs, pipeline.Event{Kind: pipeline.NodeStarting, Execution: node, Path: "main/work"})

	// Tool and model calls share the node's execution identity and still
	// produce distinct child spans.
	emit(t, obs, pipeline.Event{Kind: pipeline.ToolCallStarting, Execution: node, Name: "search"})
	emit(t, obs, pipeline.Event{Kind: pipeline.ModelCallStarting, Execution: node, Name: "chat"})
	emit(t, obs, pipeline.Event{Kind: pipeline.ModelCallFinished, Execution: node, Name: "chat"})
	emit(t, obs, pipeline.Event{Kind: pipeline.ToolCallCompleted, Execution: node, Name: "search"})
	emit(t, obs, pipeline.Event{Kind: pipeline.NodeFinished, Execution: node, Path: "main/work"})

	spans := sr.Ended()
	require.Len(t, spans, 3)

	nodeSpan := findSpan(t, spans, "node main/work")
	toolSpan := findSpan(t, spans, "tool search")
	modelSpan := findSpan(t, spans, "model chat")

	assert.Equal(t, nodeSpan.SpanContext().SpanID(), toolSpan.Parent().SpanID())
	assert.Equal(t, nodeSpan.SpanContext().SpanID(), modelSpan.Parent().SpanID())
}

func TestTraceObserverRecordsErrors(t *testing.T) {
	obs, sr := newRecordingObserver()

	node := pipeline.ExecutionInfo{RunID: "r1", ID: "n1"}
	boom := errors.New("node exploded")

	emit(t, obs, pipeline.Event{Kind: pipeline.NodeStarting, Execution: node, Path: "main/work"})
	emit(t, obs, pipeline.Event{Kind: pipeline.NodeFinished, Execution: node, Path: "main/work", Err: boom})

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "node exploded", spans[0].Status().Description)

	events := spans[0].Events()
	require.NotEmpty(t, events)
	assert.Equal(t, "exception", events[0].Name)
}

func TestTraceObserverIgnoresUnmatchedEnd(t *testing.T) {
	obs, sr := newRecordingObserver()

	emit(t, obs, pipeline.Event{
		Kind:      pipeline.NodeFinished,
		Execution: pipeline.ExecutionInfo{RunID: "r1", ID: "orphan"},
	})
	assert.Empty(t, sr.Ended())
}
