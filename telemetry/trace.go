package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentgraph/pipeline"
)

const instrumentationName = "github.com/hupe1980/agentgraph/telemetry"

// TraceObserver turns lifecycle events into OpenTelemetry spans. Spans are
// parented by execution identity: a child execution's span hangs under its
// parent's, reconstructing the call tree without any engine coupling.
//
// The observer is driven from the single goroutine of a run but protects
// its span table anyway so one observer may serve several agents.
type TraceObserver struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
	ctxs  map[string]context.Context
}

// TraceOptions configures a TraceObserver.
type TraceOptions struct {
	TracerProvider trace.TracerProvider
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) func(o *TraceOptions) {
	return func(o *TraceOptions) { o.TracerProvider = tp }
}

// NewTraceObserver creates a tracing observer using the global tracer
// provider unless one is supplied.
func NewTraceObserver(optFns ...func(o *TraceOptions)) *TraceObserver {
	opts := TraceOptions{TracerProvider: otel.GetTracerProvider()}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &TraceObserver{
		tracer: opts.TracerProvider.Tracer(instrumentationName),
		spans:  make(map[string]trace.Span),
		ctxs:   make(map[string]context.Context),
	}
}

// ID implements pipeline.Observer.
func (o *TraceObserver) ID() string { return "telemetry.trace" }

// OnEvent implements pipeline.Observer. It never fails; tracing must not
// abort a run.
func (o *TraceObserver) OnEvent(ctx context.Context, ev pipeline.Event) error {
	switch ev.Kind {
	case pipeline.AgentStarting, pipeline.StrategyStarting,
		pipeline.SubgraphStarting, pipeline.NodeStarting:
		o.start(ctx, spanKey(ev), ev.Execution.ParentID, spanName(ev), ev)
	case pipeline.ToolCallStarting, pipeline.ModelCallStarting:
		// Tool and model calls share their node's execution identity, so
		// they key by kind and name on top of it.
		o.start(ctx, spanKey(ev), ev.Execution.ID, spanName(ev), ev)
	case pipeline.AgentFinished, pipeline.StrategyFinished,
		pipeline.SubgraphFinished, pipeline.NodeFinished,
		pipeline.ToolCallCompleted, pipeline.ToolCallFailed,
		pipeline.ToolValidationFailed, pipeline.ModelCallFinished:
		o.end(spanKey(ev), ev.Err)
	case pipeline.AgentClosing:
		// Nothing to trace.
	}
	return nil
}

func (o *TraceObserver) start(ctx context.Context, key, parentKey, name string, ev pipeline.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if parent, ok := o.ctxs[parentKey]; ok {
		ctx = parent
	}
	attrs := []attribute.KeyValue{
		attribute.String("agentgraph.run_id", ev.Execution.RunID),
		attribute.String("agentgraph.execution_id", ev.Execution.ID),
	}
	if ev.Strategy != "" {
		attrs = append(attrs, attribute.String("agentgraph.strategy", ev.Strategy))
	}
	if ev.Path != "" {
		attrs = append(attrs, attribute.String("agentgraph.path", ev.Path))
	}
	if ev.Name != "" {
		attrs = append(attrs, attribute.String("agentgraph.name", ev.Name))
	}
	spanCtx, span := o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	o.spans[key] = span
	o.ctxs[key] = spanCtx
}

func (o *TraceObserver) end(key string, evErr error) {
	o.mu.Lock()
	span, ok := o.spans[key]
	if ok {
		delete(o.spans, key)
		delete(o.ctxs, key)
	}
	o.mu.Unlock()
	if !ok {
		return
	}
	if evErr != nil {
		span.RecordError(evErr)
		span.SetStatus(codes.Error, evErr.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func spanKey(ev pipeline.Event) string {
	switch ev.Kind {
	case pipeline.ToolCallStarting, pipeline.ToolCallCompleted,
		pipeline.ToolCallFailed, pipeline.ToolValidationFailed:
		return ev.Execution.ID + ":tool:" + ev.Name
	case pipeline.ModelCallStarting, pipeline.ModelCallFinished:
		return ev.Execution.ID + ":model:" + ev.Name
	default:
		return ev.Execution.ID
	}
}

func spanName(ev pipeline.Event) string {
	switch ev.Kind {
	case pipeline.AgentStarting:
		return "agent.run"
	case pipeline.StrategyStarting:
		return "strategy " + ev.Strategy
	case pipeline.SubgraphStarting:
		return "subgraph " + ev.Path
	case pipeline.NodeStarting:
		return "node " + ev.Path
	case pipeline.ToolCallStarting:
		return "tool " + ev.Name
	case pipeline.ModelCallStarting:
		return "model " + ev.Name
	default:
		return string(ev.Kind)
	}
}
