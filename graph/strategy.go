package graph

import (
	"fmt"
)

// Strategy is a named, immutable execution graph. Construction validates
// the structure, assigns absolute paths and builds the path index; after
// NewStrategy returns, the graph never changes and any number of runs may
// execute it concurrently, each against its own Execution.
type Strategy struct {
	name string
	root *Subgraph
	meta *Metadata
}

// Metadata is the derived, read-only view of a strategy: the flat path
// index mapping absolute path strings to nodes.
type Metadata struct {
	index map[string]Node
}

// Lookup resolves an absolute path string to its node.
func (m *Metadata) Lookup(path string) (Node, error) {
	n, ok := m.index[path]
	if !ok {
		return nil, &UnknownPathError{Path: path}
	}
	return n, nil
}

// Paths returns every indexed path string. Order is unspecified.
func (m *Metadata) Paths() []string {
	out := make([]string, 0, len(m.index))
	for p := range m.index {
		out = append(out, p)
	}
	return out
}

// NewStrategy seals a root subgraph under the given strategy name. The
// root's local name is ignored; the strategy name becomes the first path
// segment of every node.
func NewStrategy(name string, root *Subgraph) (*Strategy, error) {
	if err := validateSegment(name); err != nil {
		return nil, fmt.Errorf("graph: invalid strategy name: %w", err)
	}
	if root == nil {
		return nil, fmt.Errorf("graph: strategy %q has no root subgraph", name)
	}
	if err := root.validate(); err != nil {
		return nil, err
	}
	base, err := NewPath(name)
	if err != nil {
		return nil, err
	}
	index := make(map[string]Node)
	if err := root.assignPaths(base, index); err != nil {
		return nil, err
	}
	return &Strategy{
		name: name,
		root: root,
		meta: &Metadata{index: index},
	}, nil
}

// Name returns the strategy name.
func (s *Strategy) Name() string { return s.name }

// Root returns the sealed root subgraph.
func (s *Strategy) Root() *Subgraph { return s.root }

// Metadata returns the strategy's path index.
func (s *Strategy) Metadata() *Metadata { return s.meta }
