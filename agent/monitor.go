package agent

import (
	"context"

	"github.com/hupe1980/agentgraph/pipeline"
)

// pipelineMonitor forwards session model-call notifications to the event
// pipeline, attributing them to the execution identity carried by the
// calling context.
type pipelineMonitor struct {
	pipeline *pipeline.Pipeline
	runID    string
}

func (m *pipelineMonitor) info(ctx context.Context) pipeline.ExecutionInfo {
	if info, ok := pipeline.ExecutionFromContext(ctx); ok {
		return info
	}
	return pipeline.ExecutionInfo{RunID: m.runID, ID: m.runID}
}

func (m *pipelineMonitor) ModelCallStarting(ctx context.Context, modelName string) error {
	return m.pipeline.Emit(ctx, pipeline.Event{
		Kind:      pipeline.ModelCallStarting,
		Execution: m.info(ctx),
		Name:      modelName,
	})
}

func (m *pipelineMonitor) ModelCallFinished(ctx context.Context, modelName string, callErr error) error {
	return m.pipeline.Emit(ctx, pipeline.Event{
		Kind:      pipeline.ModelCallFinished,
		Execution: m.info(ctx),
		Name:      modelName,
		Err:       callErr,
	})
}
