// Package tool implements the function / tool calling subsystem: structured
// capabilities agents can invoke with schema validated arguments, consistent
// error handling and typed results. Tool failures are never engine-fatal;
// they are returned as a Result the requesting node inspects.
package tool

import (
	"context"
	"fmt"
)

// Tool defines a callable capability exposed to the model.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Handle errors gracefully
//   - Be thread-safe if used concurrently
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case
	// recommended).
	Name() string

	// Description returns a human-readable description provided to the model
	// so it understands when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	// It is used both for validation and for the model's tool definition.
	Parameters() map[string]any

	// Call executes the tool with already-validated arguments.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ValidationError carries the schema violations for a rejected tool call.
type ValidationError struct {
	Tool   string   `json:"tool"`
	Issues []string `json:"issues"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool %s: argument validation failed: %v", e.Tool, e.Issues)
}

// ExecutionError wraps an error returned by a tool implementation.
type ExecutionError struct {
	Tool string `json:"tool"`
	Err  error  `json:"-"`
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s: execution failed: %v", e.Tool, e.Err)
}

// Unwrap exposes the underlying tool error for errors.Is/As.
func (e *ExecutionError) Unwrap() error { return e.Err }

// Result is the typed outcome of one tool call. Exactly one of Content,
// ValidationErr or Err is meaningful; Succeeded distinguishes the cases
// without nil checks at call sites.
type Result struct {
	Tool    string `json:"tool"`
	CallID  string `json:"call_id"`
	Content any    `json:"content,omitempty"`

	ValidationErr *ValidationError `json:"validation_error,omitempty"`
	Err           error            `json:"-"`
}

// Succeeded reports whether the call produced a usable result.
func (r Result) Succeeded() bool { return r.ValidationErr == nil && r.Err == nil }

// String renders the result content, or the failure, as model-consumable
// text for a RoleTool message.
func (r Result) String() string {
	switch {
	case r.ValidationErr != nil:
		return r.ValidationErr.Error()
	case r.Err != nil:
		return r.Err.Error()
	case r.Content == nil:
		return ""
	default:
		if s, ok := r.Content.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", r.Content)
	}
}
