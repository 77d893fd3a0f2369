package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/pipeline"
)

// LogObserver writes structured execution records for strategy, node, tool
// and model call events. It pairs starting and finished events by execution
// identity to compute durations, the same keying the trace observer uses,
// and counts node executions per run for the strategy summary record.
type LogObserver struct {
	logger *logging.RunLogger

	mu     sync.Mutex
	starts map[string]time.Time
	nodes  map[string]int
}

// NewLogObserver creates a logging observer. A nil logger falls back to the
// default configuration.
func NewLogObserver(logger *logging.RunLogger) *LogObserver {
	if logger == nil {
		logger = logging.NewLogger(nil)
	}
	return &LogObserver{
		logger: logger,
		starts: make(map[string]time.Time),
		nodes:  make(map[string]int),
	}
}

// ID implements pipeline.Observer.
func (o *LogObserver) ID() string { return "telemetry.log" }

// OnEvent implements pipeline.Observer. It never fails; logging must not
// abort a run.
func (o *LogObserver) OnEvent(_ context.Context, ev pipeline.Event) error {
	switch ev.Kind {
	case pipeline.AgentStarting:
		o.logger.WithRun(ev.Execution.RunID, ev.Strategy).Info("agent run starting")
	case pipeline.AgentFinished:
		l := o.logger.WithRun(ev.Execution.RunID, ev.Strategy)
		if ev.Err != nil {
			l.Error("agent run failed: %v", ev.Err)
		} else {
			l.Info("agent run finished")
		}
	case pipeline.StrategyStarting, pipeline.ToolCallStarting, pipeline.ModelCallStarting:
		o.mark(spanKey(ev), ev.Timestamp)
	case pipeline.NodeStarting:
		o.mark(spanKey(ev), ev.Timestamp)
		o.countNode(ev.Execution.RunID)
	case pipeline.NodeFinished:
		o.logger.WithRun(ev.Execution.RunID, ev.Strategy).
			LogNodeExecution(ev.Path, o.took(spanKey(ev), ev.Timestamp), ev.Err == nil, ev.Err)
	case pipeline.ToolCallCompleted, pipeline.ToolCallFailed, pipeline.ToolValidationFailed:
		o.logger.WithRun(ev.Execution.RunID, ev.Strategy).
			LogToolCall(ev.Name, o.took(spanKey(ev), ev.Timestamp), ev.Kind == pipeline.ToolCallCompleted, ev.Err)
	case pipeline.ModelCallFinished:
		// Token usage is not carried on events; the record covers
		// latency and outcome.
		o.logger.WithRun(ev.Execution.RunID, ev.Strategy).
			LogModelCall(ev.Name, 0, o.took(spanKey(ev), ev.Timestamp), ev.Err == nil, ev.Err)
	case pipeline.StrategyFinished:
		o.logger.WithRun(ev.Execution.RunID, ev.Strategy).
			LogStrategyRun(ev.Strategy, o.takeNodes(ev.Execution.RunID), o.took(spanKey(ev), ev.Timestamp), ev.Err == nil, ev.Err)
	}
	return nil
}

func (o *LogObserver) mark(key string, at time.Time) {
	o.mu.Lock()
	o.starts[key] = at
	o.mu.Unlock()
}

func (o *LogObserver) countNode(runID string) {
	o.mu.Lock()
	o.nodes[runID]++
	o.mu.Unlock()
}

func (o *LogObserver) takeNodes(runID string) int {
	o.mu.Lock()
	n := o.nodes[runID]
	delete(o.nodes, runID)
	o.mu.Unlock()
	return n
}

// took returns the elapsed time since the matching start event, or zero when
// no start was observed.
func (o *LogObserver) took(key string, end time.Time) time.Duration {
	o.mu.Lock()
	start, ok := o.starts[key]
	if ok {
		delete(o.starts, key)
	}
	o.mu.Unlock()
	if !ok {
		return 0
	}
	return end.Sub(start)
}
