package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
)

// Reserved node names for the implicit entry and exit points of a subgraph.
const (
	StartName  = "__start__"
	FinishName = "__finish__"
)

// Node is a unit of work inside a strategy graph. Implementations carry
// typed input and output; the engine moves values between nodes through
// edge resolvers.
//
// Nodes are immutable after strategy construction. Per-run state belongs
// on the Execution passed to Run, never on the node itself.
type Node interface {
	// Name returns the node's local name, unique within its subgraph.
	Name() string

	// Path returns the node's absolute path, assigned at strategy
	// construction time.
	Path() Path

	// Run executes the node against the given input and returns its output.
	Run(ctx context.Context, exec *Execution, input any) (any, error)

	// InputType and OutputType name the node's value types. They are
	// recorded in checkpoints so restored payloads can be decoded.
	InputType() string
	OutputType() string

	// DecodeInput and DecodeOutput reconstruct typed values from their
	// JSON form, used when resuming from a checkpoint.
	DecodeInput(data []byte) (any, error)
	DecodeOutput(data []byte) (any, error)

	// setPath fixes the node's absolute path. Called once during strategy
	// construction; not part of the public surface.
	setPath(p Path)
}

// BaseNode provides the name and path bookkeeping shared by all node
// implementations. Embed it and implement the remaining Node methods.
type BaseNode struct {
	name string
	path Path
}

// NewBaseNode creates the shared node core with the given local name.
func NewBaseNode(name string) BaseNode {
	return BaseNode{name: name}
}

// Name returns the node's local name.
func (b *BaseNode) Name() string { return b.name }

// Path returns the node's absolute path.
func (b *BaseNode) Path() Path { return b.path }

func (b *BaseNode) setPath(p Path) { b.path = p }

// Func is the body of a FuncNode.
type Func[In, Out any] func(ctx context.Context, exec *Execution, input In) (Out, error)

// FuncNode wraps a typed function as a Node. Input values are checked
// against In before invocation; checkpointed payloads round-trip through
// JSON into the declared types.
type FuncNode[In, Out any] struct {
	BaseNode
	fn Func[In, Out]
}

// NewNode creates a typed function node with the given local name.
func NewNode[In, Out any](name string, fn Func[In, Out]) *FuncNode[In, Out] {
	return &FuncNode[In, Out]{BaseNode: NewBaseNode(name), fn: fn}
}

// Run type-asserts the input and invokes the wrapped function.
func (n *FuncNode[In, Out]) Run(ctx context.Context, exec *Execution, input any) (any, error) {
	in, err := coerce[In](input)
	if err != nil {
		return nil, &NodeInputTypeError{Path: n.Path(), Want: n.InputType(), Got: input}
	}
	return n.fn(ctx, exec, in)
}

// InputType returns the name of the node's input type.
func (n *FuncNode[In, Out]) InputType() string { return typeName[In]() }

// OutputType returns the name of the node's output type.
func (n *FuncNode[In, Out]) OutputType() string { return typeName[Out]() }

// DecodeInput unmarshals a JSON payload into the node's input type.
func (n *FuncNode[In, Out]) DecodeInput(data []byte) (any, error) {
	var in In
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode input for node %q: %w", n.Name(), err)
	}
	return in, nil
}

// DecodeOutput unmarshals a JSON payload into the node's output type.
func (n *FuncNode[In, Out]) DecodeOutput(data []byte) (any, error) {
	var out Out
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode output for node %q: %w", n.Name(), err)
	}
	return out, nil
}

// passthroughNode forwards its input unchanged. Used for the implicit
// start and finish nodes of every subgraph.
type passthroughNode struct {
	BaseNode
}

func newPassthroughNode(name string) *passthroughNode {
	return &passthroughNode{BaseNode: NewBaseNode(name)}
}

func (n *passthroughNode) Run(_ context.Context, _ *Execution, input any) (any, error) {
	return input, nil
}

func (n *passthroughNode) InputType() string  { return "any" }
func (n *passthroughNode) OutputType() string { return "any" }

func (n *passthroughNode) DecodeInput(data []byte) (any, error)  { return decodeAny(data) }
func (n *passthroughNode) DecodeOutput(data []byte) (any, error) { return decodeAny(data) }

func decodeAny(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// coerce converts an untyped value into T, tolerating nil for pointer,
// slice, map and interface inputs.
func coerce[T any](v any) (T, error) {
	var zero T
	if v == nil {
		t := reflect.TypeFor[T]()
		switch t.Kind() {
		case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface, reflect.Chan, reflect.Func:
			return zero, nil
		default:
			return zero, fmt.Errorf("nil value for non-nilable type %s", t)
		}
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("value of type %T is not %s", v, reflect.TypeFor[T]())
	}
	return t, nil
}

func typeName[T any]() string {
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Interface && t.NumMethod() == 0 {
		return "any"
	}
	return t.String()
}
