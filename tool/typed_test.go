package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lookupArgs struct {
	City  string `json:"city" description:"City name"`
	Units string `json:"units,omitempty"`
	Days  *int   `json:"days"`
}

func TestNewTypedFunctionTool(t *testing.T) {
	lookup := NewTypedFunctionTool("lookup", "Look up a city.",
		func(_ context.Context, args lookupArgs) (any, error) {
			return args.City + "/" + args.Units, nil
		})

	t.Run("derived schema", func(t *testing.T) {
		params := lookup.Parameters()
		assert.Equal(t, "object", params["type"])

		props, ok := params["properties"].(map[string]any)
		require.True(t, ok)
		city, ok := props["city"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "string", city["type"])
		assert.Equal(t, "City name", city["description"])

		// omitempty and pointer fields are optional.
		assert.Equal(t, []string{"city"}, params["required"])
	})

	t.Run("typed call through registry", func(t *testing.T) {
		reg, err := NewRegistry(lookup)
		require.NoError(t, err)

		res := reg.Execute(context.Background(), call("lookup", `{"city":"Berlin","units":"metric"}`))
		require.True(t, res.Succeeded())
		assert.Equal(t, "Berlin/metric", res.Content)
	})

	t.Run("missing required argument rejected", func(t *testing.T) {
		reg, err := NewRegistry(lookup)
		require.NoError(t, err)

		res := reg.Execute(context.Background(), call("lookup", `{"units":"metric"}`))
		assert.False(t, res.Succeeded())
		assert.NotNil(t, res.ValidationErr)
	})
}
