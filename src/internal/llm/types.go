// Package llm defines the request/response contract with the completion
// service and the iteration protocol the task runner drives against it.
// The provider behind the Streamer interface is a black box; only the
// streamed-chunk shape below matters.
package llm

import (
	"context"
	"errors"
)

// ErrModelUnavailable indicates missing/invalid model credentials or a
// transport-level failure before any tokens streamed.
var ErrModelUnavailable = errors.New("model unavailable")

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage is one turn of the conversation sent to the model.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a complete tool invocation the model requested. Arguments is
// the raw JSON argument string exactly as the model produced it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec advertises a callable tool to the model. Parameters is a
// JSON-Schema-shaped object map.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCallDelta is a streamed fragment of a tool call. A provider may
// stream a call's id, name, and arguments across multiple chunks keyed by
// the same index.
type ToolCallDelta struct {
	Index          int
	ID             string
	Name           string
	ArgumentsDelta string
}

// Chunk is one streamed completion fragment.
type Chunk struct {
	ContentDelta string
	ToolCalls    []ToolCallDelta
	FinishReason string
}

const FinishReasonToolCalls = "tool_calls"

// Stream yields Chunks until io.EOF.
type Stream interface {
	Recv() (Chunk, error)
	Close()
}

// Streamer opens a token-streamed completion for a conversation.
type Streamer interface {
	StreamCompletion(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (Stream, error)
}
