package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author class of a message within a conversation.
type Role string

const (
	// RoleSystem marks instructions injected by the application.
	RoleSystem Role = "system"
	// RoleUser marks input supplied by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks model-generated output.
	RoleAssistant Role = "assistant"
	// RoleTool marks the result of a tool invocation fed back to the model.
	RoleTool Role = "tool"
)

// ToolCall is a provider-neutral function call request surfaced by a model.
// Arguments is the raw JSON argument object exactly as the model produced it.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one entry of a conversation. After creation it should be treated
// as immutable; copies of the containing slice are cheap and the engine relies
// on that for history snapshots.
//
// Content may be empty for assistant messages that only carry tool calls.
// ToolCallID links a RoleTool message back to the call it answers.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// NewMessage creates a message with the current UTC timestamp.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// SystemMessage creates a RoleSystem message.
func SystemMessage(content string) Message { return NewMessage(RoleSystem, content) }

// UserMessage creates a RoleUser message.
func UserMessage(content string) Message { return NewMessage(RoleUser, content) }

// AssistantMessage creates a RoleAssistant message.
func AssistantMessage(content string) Message { return NewMessage(RoleAssistant, content) }

// ToolResultMessage creates a RoleTool message answering the given call id.
func ToolResultMessage(callID, content string) Message {
	m := NewMessage(RoleTool, content)
	m.ToolCallID = callID
	return m
}

// CloneMessages returns a defensive copy of a message slice, including each
// message's tool call list, so mutations on one side never leak across a
// session boundary.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	for i := range out {
		if out[i].ToolCalls != nil {
			out[i].ToolCalls = append([]ToolCall(nil), out[i].ToolCalls...)
		}
	}
	return out
}

// NewID returns a new random identifier for runs and executions.
func NewID() string { return uuid.NewString() }
