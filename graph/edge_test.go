package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForward(t *testing.T) {
	input, ok, err := Forward()(context.Background(), nil, "payload")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "payload", input)
}

func TestWhen(t *testing.T) {
	isLong := When(func(output any) bool {
		s, _ := output.(string)
		return len(s) > 3
	})

	_, ok, err := isLong(context.Background(), nil, "hi")
	require.NoError(t, err)
	assert.False(t, ok)

	input, ok, err := isLong(context.Background(), nil, "hello")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", input)
}

func TestMap(t *testing.T) {
	double := Map(func(output any) any { return output.(int) * 2 })

	input, ok, err := double(context.Background(), nil, 21)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42, input)
}

func TestWhenExpr(t *testing.T) {
	t.Run("map access", func(t *testing.T) {
		lowScore := WhenExpr(`output.score < 0.5`)

		input, ok, err := lowScore(context.Background(), nil, map[string]any{"score": 0.2})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, map[string]any{"score": 0.2}, input)

		_, ok, err = lowScore(context.Background(), nil, map[string]any{"score": 0.9})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("string output", func(t *testing.T) {
		retry := WhenExpr(`output == "retry"`)
		_, ok, err := retry(context.Background(), nil, "retry")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("invalid expression panics", func(t *testing.T) {
		assert.Panics(t, func() { WhenExpr(`output ==`) })
	})

	t.Run("deterministic", func(t *testing.T) {
		// Identical output twice yields the identical decision.
		cond := WhenExpr(`output > 10`)
		for i := 0; i < 2; i++ {
			_, ok, err := cond(context.Background(), nil, 11)
			require.NoError(t, err)
			assert.True(t, ok)
		}
	})
}
