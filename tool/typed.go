package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentgraph/internal/util"
)

// NewTypedFunctionTool constructs a FunctionTool whose parameter schema is
// derived from the argument struct type via reflection (json tags name the
// properties, `description` tags document them, pointer and omitempty
// fields are optional). The raw argument map is decoded into T before the
// function runs, so implementations work with typed fields instead of
// map lookups.
func NewTypedFunctionTool[T any](
	name, description string,
	fn func(ctx context.Context, args T) (any, error),
) *FunctionTool {
	var zero T
	params := util.CreateSchema(zero)
	return NewFunctionTool(name, description, params, func(ctx context.Context, raw map[string]any) (any, error) {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("tool %s: encoding arguments: %w", name, err)
		}
		var args T
		if err := json.Unmarshal(data, &args); err != nil {
			return nil, fmt.Errorf("tool %s: decoding arguments: %w", name, err)
		}
		return fn(ctx, args)
	})
}
