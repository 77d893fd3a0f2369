package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathConstruction(t *testing.T) {
	p, err := NewPath("main", "outer", "work")
	require.NoError(t, err)

	assert.Equal(t, "main/outer/work", p.String())
	assert.Equal(t, "work", p.Leaf())
	assert.Equal(t, 3, p.Len())
	assert.False(t, p.IsZero())
}

func TestPathRejectsInvalidSegments(t *testing.T) {
	_, err := NewPath("main", "")
	assert.Error(t, err)

	_, err = NewPath("main", "a/b")
	assert.Error(t, err)
}

func TestParsePath(t *testing.T) {
	p, err := ParsePath("main/outer/work")
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "outer", "work"}, p.Segments())

	_, err = ParsePath("")
	assert.Error(t, err)

	_, err = ParsePath("main//work")
	assert.Error(t, err, "empty segment must be rejected")
}

func TestPathChild(t *testing.T) {
	p, err := NewPath("main")
	require.NoError(t, err)

	child := p.Child("work")
	assert.Equal(t, "main/work", child.String())
	assert.Equal(t, "main", p.String(), "Child must not mutate the receiver")

	assert.Panics(t, func() { p.Child("a/b") })
}

func TestPathSegmentsCopy(t *testing.T) {
	p, err := NewPath("main", "work")
	require.NoError(t, err)

	segs := p.Segments()
	segs[0] = "mutated"
	assert.Equal(t, "main/work", p.String())
}
