// Package model defines the abstract prompt-execution capability the engine
// is built against. The Executor interface is the only contract concrete
// providers (OpenAI, Anthropic, mocks) must satisfy; everything above it,
// from sessions to the graph engine and agents, is provider agnostic.
package model

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentgraph/core"
)

// ToolChoice controls whether and how the model may call tools for a request.
type ToolChoice string

const (
	// ToolChoiceAuto lets the model decide freely.
	ToolChoiceAuto ToolChoice = "auto"
	// ToolChoiceNone disables tool calling for the request.
	ToolChoiceNone ToolChoice = "none"
	// ToolChoiceRequired forces the model to call some tool.
	ToolChoiceRequired ToolChoice = "required"
)

// FunctionDefinition describes an individual function (tool) exposed to the
// model. Parameters is a JSON Schema object.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// Request captures the normalized model input produced by sessions.
type Request struct {
	Model    core.ModelRef    `json:"model"`
	Messages []core.Message   `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`

	// ToolChoice selects the calling mode; ForcedTool names a single tool the
	// model must call and takes precedence over ToolChoice when non-empty.
	ToolChoice ToolChoice `json:"tool_choice,omitempty"`
	ForcedTool string     `json:"forced_tool,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a single (partial or final) model result. Streaming executors
// emit a sequence of partial responses terminated by one final response.
type Response struct {
	Message      core.Message `json:"message"`
	Partial      bool         `json:"partial"`
	FinishReason string       `json:"finish_reason,omitempty"` // "stop", "length", "tool_calls", ...
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Moderation is the outcome of a content moderation check.
type Moderation struct {
	Flagged    bool            `json:"flagged"`
	Categories map[string]bool `json:"categories,omitempty"`
}

// Info contains metadata about an executor implementation.
type Info struct {
	Provider           string `json:"provider"`
	SupportsTools      bool   `json:"supports_tools"`
	SupportsModeration bool   `json:"supports_moderation"`
}

// Executor is the externally supplied prompt-execution capability. All
// blocking operations take a context and surface provider errors unchanged;
// the engine never wraps them in implicit retries.
type Executor interface {
	// Execute runs the request and returns the single final response.
	Execute(ctx context.Context, req Request) (Response, error)

	// ExecuteMultiple returns up to n candidate responses for the request.
	ExecuteMultiple(ctx context.Context, req Request, n int) ([]Response, error)

	// ExecuteStreaming emits partial responses followed by a final one. Both
	// channels are closed when the stream terminates; the error channel is
	// buffered with capacity one.
	ExecuteStreaming(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// ExecuteStructured runs the request constrained to produce output
	// matching the given JSON schema.
	ExecuteStructured(ctx context.Context, req Request, schema map[string]any) (Response, error)

	// Moderate checks the given messages against the provider's content
	// policy. Executors without moderation support return ErrModerationUnsupported.
	Moderate(ctx context.Context, messages []core.Message) (Moderation, error)

	// Info returns metadata about the executor implementation.
	Info() Info
}

// ErrModerationUnsupported is returned by executors that have no moderation
// endpoint.
var ErrModerationUnsupported = fmt.Errorf("model: moderation not supported by this executor")
