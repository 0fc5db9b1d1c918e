// Package llm wraps the reasoning and vision model behind a narrow
// client interface. The pipeline treats the model as an optional
// accelerator: every caller has a deterministic fallback for when the
// client errors or returns unparseable output.
package llm

import (
	"context"
	"encoding/json"
)

// Role values for conversation messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn in a tool-calling conversation.
type Message struct {
	Role        string
	Content     string
	ToolCalls   []ToolCall   // assistant turns that requested tools
	ToolResults []ToolResult // user turns that answer tool calls
}

// ToolCall is the model's request to invoke a tool.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult answers one ToolCall. Errors are delivered in-band — a
// failed tool never aborts the conversation.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// ToolDefinition describes one tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any // JSON Schema: {"type":"object","properties":...}
}

// StopReason indicates why the model stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Response is the model's reply to a Chat call.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason StopReason
	Usage      Usage
}

// Usage aggregates token consumption for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ImageInput is one image attached to a vision prompt.
type ImageInput struct {
	MediaType string // e.g. "image/png"
	Base64    string
}

// Client is the model interface consumed by agents.
type Client interface {
	// Complete runs a single text prompt and returns the model's text.
	Complete(ctx context.Context, system, prompt string) (string, error)

	// CompleteVision runs a prompt with attached images against the
	// vision model.
	CompleteVision(ctx context.Context, system, prompt string, images []ImageInput) (string, error)

	// Chat runs one turn of a tool-calling conversation.
	Chat(ctx context.Context, system string, messages []Message, tools []ToolDefinition) (*Response, error)
}
