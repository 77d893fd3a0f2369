package model

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentgraph/core"
)

// MockExecutor is a lightweight in-memory Executor useful for tests and
// examples. Responses are keyed by the content of the last message in the
// request; unknown prompts get a generated echo response. Tool calls can be
// scripted per prompt via AddToolCall.
type MockExecutor struct {
	responses map[string]string
	toolCalls map[string][]core.ToolCall
	flagged   map[string]bool
	calls     int
}

// NewMockExecutor constructs an empty MockExecutor.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		responses: map[string]string{},
		toolCalls: map[string][]core.ToolCall{},
		flagged:   map[string]bool{},
	}
}

// AddResponse registers a deterministic canned completion for a prompt.
func (m *MockExecutor) AddResponse(prompt, response string) { m.responses[prompt] = response }

// AddToolCall scripts a tool call the executor will attach to its response
// for the given prompt.
func (m *MockExecutor) AddToolCall(prompt, callID, tool string, args map[string]any) {
	raw, _ := json.Marshal(args)
	m.toolCalls[prompt] = append(m.toolCalls[prompt], core.ToolCall{ID: callID, Name: tool, Arguments: raw})
}

// FlagContent marks a prompt so Moderate reports it as flagged.
func (m *MockExecutor) FlagContent(prompt string) { m.flagged[prompt] = true }

// Calls reports how many execute operations have run; useful for asserting
// call counts in tests.
func (m *MockExecutor) Calls() int { return m.calls }

func (m *MockExecutor) respond(req Request) Response {
	m.calls++
	var last string
	if len(req.Messages) > 0 {
		last = req.Messages[len(req.Messages)-1].Content
	}
	text, ok := m.responses[last]
	if !ok {
		text = fmt.Sprintf("mock response to: %s", last)
	}
	msg := core.AssistantMessage(text)
	finish := "stop"
	if calls := m.toolCalls[last]; len(calls) > 0 {
		msg.ToolCalls = append([]core.ToolCall(nil), calls...)
		finish = "tool_calls"
	}
	return Response{Message: msg, FinishReason: finish}
}

// Execute implements Executor.
func (m *MockExecutor) Execute(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	return m.respond(req), nil
}

// ExecuteMultiple implements Executor by repeating the canned response.
func (m *MockExecutor) ExecuteMultiple(ctx context.Context, req Request, n int) ([]Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Response, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, m.respond(req))
	}
	return out, nil
}

// ExecuteStreaming implements Executor; emits per-rune partial chunks then
// the final response, mirroring real streaming adapters.
func (m *MockExecutor) ExecuteStreaming(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)
	go func() {
		defer close(respCh)
		defer close(errCh)
		final := m.respond(req)
		for _, r := range final.Message.Content {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case respCh <- Response{Partial: true, Message: core.AssistantMessage(string(r))}:
			}
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- final:
		}
	}()
	return respCh, errCh
}

// ExecuteStructured implements Executor; the canned response must already be
// valid JSON, otherwise the call fails like a provider-side schema violation.
func (m *MockExecutor) ExecuteStructured(ctx context.Context, req Request, schema map[string]any) (Response, error) {
	resp, err := m.Execute(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if !json.Valid([]byte(resp.Message.Content)) {
		return Response{}, fmt.Errorf("mock executor: response is not valid JSON for structured output")
	}
	return resp, nil
}

// Moderate implements Executor using the prompts registered via FlagContent.
func (m *MockExecutor) Moderate(ctx context.Context, messages []core.Message) (Moderation, error) {
	if err := ctx.Err(); err != nil {
		return Moderation{}, err
	}
	for _, msg := range messages {
		if m.flagged[msg.Content] {
			return Moderation{Flagged: true, Categories: map[string]bool{"test": true}}, nil
		}
	}
	return Moderation{}, nil
}

// Info implements Executor.
func (m *MockExecutor) Info() Info {
	return Info{Provider: "mock", SupportsTools: true, SupportsModeration: true}
}
