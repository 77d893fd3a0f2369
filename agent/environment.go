package agent

import (
	"context"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/tool"
)

// registryEnvironment is the default Environment: tool calls go to the
// registry, problem reports to the logger.
type registryEnvironment struct {
	tools  *tool.Registry
	logger logging.Logger
}

func (e *registryEnvironment) ExecuteTool(ctx context.Context, call core.ToolCall) tool.Result {
	return e.tools.Execute(ctx, call)
}

func (e *registryEnvironment) ReportProblem(_ context.Context, err error) {
	e.logger.Warn("problem reported", "error", err)
}
