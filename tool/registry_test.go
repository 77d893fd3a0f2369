package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/core"
)

func echoTool() *FunctionTool {
	return NewFunctionTool("echo", "echoes the given text",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			return fmt.Sprintf("%v", args["text"]), nil
		},
	)
}

func failingTool() *FunctionTool {
	return NewFunctionTool("fail", "always fails", nil,
		func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("tool exploded")
		},
	)
}

func call(name, args string) core.ToolCall {
	return core.ToolCall{ID: "call-1", Name: name, Arguments: json.RawMessage(args)}
}

func TestRegistryExecute(t *testing.T) {
	reg, err := NewRegistry(echoTool())
	require.NoError(t, err)

	res := reg.Execute(context.Background(), call("echo", `{"text":"hi"}`))
	assert.True(t, res.Succeeded())
	assert.Equal(t, "hi", res.Content)
	assert.Equal(t, "call-1", res.CallID)
}

func TestRegistrySchemaValidation(t *testing.T) {
	reg, err := NewRegistry(echoTool())
	require.NoError(t, err)

	t.Run("missing required field", func(t *testing.T) {
		res := reg.Execute(context.Background(), call("echo", `{}`))
		require.NotNil(t, res.ValidationErr)
		assert.False(t, res.Succeeded())
		assert.Nil(t, res.Err)
	})

	t.Run("wrong type", func(t *testing.T) {
		res := reg.Execute(context.Background(), call("echo", `{"text":42}`))
		require.NotNil(t, res.ValidationErr)
		assert.NotEmpty(t, res.ValidationErr.Issues)
	})

	t.Run("not a JSON object", func(t *testing.T) {
		res := reg.Execute(context.Background(), call("echo", `[1,2]`))
		require.NotNil(t, res.ValidationErr)
	})
}

func TestRegistryUnknownTool(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	res := reg.Execute(context.Background(), call("nope", `{}`))
	require.NotNil(t, res.ValidationErr)
	assert.Equal(t, "nope", res.Tool)
}

func TestRegistryExecutionError(t *testing.T) {
	reg, err := NewRegistry(failingTool())
	require.NoError(t, err)

	res := reg.Execute(context.Background(), call("fail", `{}`))
	require.NotNil(t, res.Err)
	assert.Nil(t, res.ValidationErr)

	var execErr *ExecutionError
	require.ErrorAs(t, res.Err, &execErr)
	assert.Equal(t, "fail", execErr.Tool)
}

func TestRegistryDuplicateName(t *testing.T) {
	reg, err := NewRegistry(echoTool())
	require.NoError(t, err)
	assert.Error(t, reg.Register(echoTool()))
}

func TestRegistryDefinitions(t *testing.T) {
	reg, err := NewRegistry(echoTool(), failingTool())
	require.NoError(t, err)

	t.Run("all", func(t *testing.T) {
		defs := reg.Definitions(nil)
		require.Len(t, defs, 2)
		assert.Equal(t, "echo", defs[0].Function.Name)
		assert.Equal(t, "fail", defs[1].Function.Name)
	})

	t.Run("named subset skips unknown", func(t *testing.T) {
		defs := reg.Definitions([]string{"fail", "ghost"})
		require.Len(t, defs, 1)
		assert.Equal(t, "fail", defs[0].Function.Name)
	})

	t.Run("none", func(t *testing.T) {
		assert.Empty(t, reg.Definitions([]string{}))
	})
}
