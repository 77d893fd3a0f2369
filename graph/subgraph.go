package graph

import (
	"context"
	"errors"
	"fmt"
)

// ToolSelectionMode controls which tools a subgraph exposes to the model
// while its nodes execute.
type ToolSelectionMode int

const (
	// ToolsInherit keeps the tool selection of the enclosing subgraph.
	ToolsInherit ToolSelectionMode = iota
	// ToolsAll exposes every registered tool.
	ToolsAll
	// ToolsNone exposes no tools.
	ToolsNone
	// ToolsNamed exposes only the named tools.
	ToolsNamed
)

// ToolSelection names the tools active within a subgraph. The engine
// applies the selection on entry and restores the previous one on exit.
type ToolSelection struct {
	Mode  ToolSelectionMode
	Names []string
}

// InheritTools keeps the enclosing subgraph's selection.
func InheritTools() ToolSelection { return ToolSelection{Mode: ToolsInherit} }

// AllTools exposes every registered tool.
func AllTools() ToolSelection { return ToolSelection{Mode: ToolsAll} }

// NoTools disables tool exposure.
func NoTools() ToolSelection { return ToolSelection{Mode: ToolsNone} }

// NamedTools exposes exactly the given tools.
func NamedTools(names ...string) ToolSelection {
	return ToolSelection{Mode: ToolsNamed, Names: names}
}

// Subgraph is a node containing a nested graph. Execution enters at the
// implicit start node and ends when control reaches the implicit finish
// node. Subgraphs nest arbitrarily and may loop; the engine bounds loops
// with the run's iteration limit.
type Subgraph struct {
	BaseNode

	nodes map[string]Node
	edges map[string][]Candidate
	tools ToolSelection
}

// NewSubgraph creates an empty subgraph with the given local name. The
// implicit start and finish nodes exist from the outset; wire edges from
// StartName into your first node and into FinishName out of your last.
func NewSubgraph(name string, opts ...SubgraphOption) *Subgraph {
	g := &Subgraph{
		BaseNode: NewBaseNode(name),
		nodes:    make(map[string]Node),
		edges:    make(map[string][]Candidate),
		tools:    InheritTools(),
	}
	g.nodes[StartName] = newPassthroughNode(StartName)
	g.nodes[FinishName] = newPassthroughNode(FinishName)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SubgraphOption configures a subgraph at construction.
type SubgraphOption func(*Subgraph)

// WithTools sets the subgraph's tool selection.
func WithTools(sel ToolSelection) SubgraphOption {
	return func(g *Subgraph) { g.tools = sel }
}

// AddNode registers a child node. Names must be unique within the
// subgraph; the reserved start and finish names are rejected.
func (g *Subgraph) AddNode(n Node) error {
	name := n.Name()
	if name == StartName || name == FinishName {
		return fmt.Errorf("graph: node name %q is reserved", name)
	}
	if err := validateSegment(name); err != nil {
		return fmt.Errorf("graph: invalid node name: %w", err)
	}
	if _, exists := g.nodes[name]; exists {
		return fmt.Errorf("graph: node %q already present in subgraph %q", name, g.Name())
	}
	g.nodes[name] = n
	return nil
}

// AddEdge appends edge candidates leaving the named node. Candidates are
// evaluated in the order they were added, across calls; the first resolver
// that fires wins.
func (g *Subgraph) AddEdge(from string, candidates ...Candidate) error {
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("graph: edge source %q not found in subgraph %q", from, g.Name())
	}
	if from == FinishName {
		return fmt.Errorf("graph: finish node cannot have outgoing edges")
	}
	for _, c := range candidates {
		if _, ok := g.nodes[c.To]; !ok {
			return fmt.Errorf("graph: edge target %q not found in subgraph %q", c.To, g.Name())
		}
		if c.Resolve == nil {
			return errors.New("graph: edge candidate without resolver")
		}
	}
	g.edges[from] = append(g.edges[from], candidates...)
	return nil
}

// Chain wires a linear sequence of already-added nodes with Forward edges,
// from start through each name to finish. A convenience for the common
// pipeline shape.
func (g *Subgraph) Chain(names ...string) error {
	prev := StartName
	for _, name := range names {
		if err := g.AddEdge(prev, Candidate{To: name, Resolve: Forward()}); err != nil {
			return err
		}
		prev = name
	}
	return g.AddEdge(prev, Candidate{To: FinishName, Resolve: Forward()})
}

// Tools returns the subgraph's tool selection.
func (g *Subgraph) Tools() ToolSelection { return g.tools }

// Node returns the child node with the given local name.
func (g *Subgraph) Node(name string) (Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Candidates returns the ordered edge candidates leaving the named node.
func (g *Subgraph) Candidates(from string) []Candidate { return g.edges[from] }

// Run directs execution to the engine. Subgraphs are containers; invoking
// one outside an engine run is a programming error.
func (g *Subgraph) Run(context.Context, *Execution, any) (any, error) {
	return nil, fmt.Errorf("graph: subgraph %q must be run by the engine", g.Name())
}

// InputType returns the input type of the subgraph boundary.
func (g *Subgraph) InputType() string { return "any" }

// OutputType returns the output type of the subgraph boundary.
func (g *Subgraph) OutputType() string { return "any" }

// DecodeInput round-trips a boundary payload through JSON.
func (g *Subgraph) DecodeInput(data []byte) (any, error) { return decodeAny(data) }

// DecodeOutput round-trips a boundary payload through JSON.
func (g *Subgraph) DecodeOutput(data []byte) (any, error) { return decodeAny(data) }

// validate checks structural soundness: every non-finish node must have at
// least one outgoing edge, otherwise execution would dead-end statically.
func (g *Subgraph) validate() error {
	for name := range g.nodes {
		if name == FinishName {
			continue
		}
		if len(g.edges[name]) == 0 {
			return fmt.Errorf("graph: node %q in subgraph %q has no outgoing edges", name, g.Name())
		}
	}
	for name, n := range g.nodes {
		if sg, ok := n.(*Subgraph); ok {
			if err := sg.validate(); err != nil {
				return fmt.Errorf("graph: nested subgraph %q: %w", name, err)
			}
		}
	}
	return nil
}

// assignPaths walks the tree and fixes every node's absolute path, filling
// the index as it goes. Duplicate paths abort construction.
func (g *Subgraph) assignPaths(base Path, index map[string]Node) error {
	g.setPath(base)
	if err := indexNode(index, g); err != nil {
		return err
	}
	for name, n := range g.nodes {
		child := base.Child(name)
		if sg, ok := n.(*Subgraph); ok {
			if err := sg.assignPaths(child, index); err != nil {
				return err
			}
			continue
		}
		n.setPath(child)
		if err := indexNode(index, n); err != nil {
			return err
		}
	}
	return nil
}

func indexNode(index map[string]Node, n Node) error {
	key := n.Path().String()
	if _, exists := index[key]; exists {
		return &DuplicatePathError{Path: n.Path()}
	}
	index[key] = n
	return nil
}
