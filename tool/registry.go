package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/model"
)

// Registry is a thread-safe name → tool mapping with compiled argument
// schemas. Registration order is preserved so tool definitions are presented
// to the model deterministically.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*gojsonschema.Schema
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools:   map[string]Tool{},
		schemas: map[string]*gojsonschema.Schema{},
	}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool, compiling its parameter schema once up front.
// Registering a name twice replaces the previous tool in place.
func (r *Registry) Register(t Tool) error {
	schema, err := compileSchema(t)
	if err != nil {
		return fmt.Errorf("tool %s: compiling parameter schema: %w", t.Name(), err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
	r.schemas[t.Name()] = schema
	return nil
}

func compileSchema(t Tool) (*gojsonschema.Schema, error) {
	params := t.Parameters()
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(params))
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions returns model-facing tool definitions for the named tools, or
// for all registered tools when names is nil. Unknown names are skipped.
func (r *Registry) Definitions(names []string) []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	selected := names
	if selected == nil {
		selected = r.order
	}
	defs := make([]model.ToolDefinition, 0, len(selected))
	for _, name := range selected {
		t, ok := r.tools[name]
		if !ok {
			continue
		}
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute validates the call's arguments against the tool's schema and
// invokes it. Failures come back inside the Result, never as an error:
// unknown tool and schema violations produce a ValidationErr, implementation
// failures an ExecutionError.
func (r *Registry) Execute(ctx context.Context, call core.ToolCall) Result {
	r.mu.RLock()
	t, ok := r.tools[call.Name]
	schema := r.schemas[call.Name]
	r.mu.RUnlock()

	res := Result{Tool: call.Name, CallID: call.ID}
	if !ok {
		res.ValidationErr = &ValidationError{Tool: call.Name, Issues: []string{"unknown tool"}}
		return res
	}

	args := map[string]any{}
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			res.ValidationErr = &ValidationError{Tool: call.Name, Issues: []string{fmt.Sprintf("arguments are not a JSON object: %v", err)}}
			return res
		}
	}
	if issues := validate(schema, args); len(issues) > 0 {
		res.ValidationErr = &ValidationError{Tool: call.Name, Issues: issues}
		return res
	}

	content, err := t.Call(ctx, args)
	if err != nil {
		res.Err = &ExecutionError{Tool: call.Name, Err: err}
		return res
	}
	res.Content = content
	return res
}

func validate(schema *gojsonschema.Schema, args map[string]any) []string {
	if schema == nil {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return []string{err.Error()}
	}
	if result.Valid() {
		return nil
	}
	issues := make([]string, 0, len(result.Errors()))
	for _, verr := range result.Errors() {
		issues = append(issues, verr.String())
	}
	return issues
}
