// Package llm defines the model-provider contract used by the response
// engine: given conversation history, an optional system prompt, and tool
// definitions, a provider yields an ordered stream of text and tool-call
// events terminated by a token-usage count.
package llm

import (
	"context"
	"encoding/json"
	"time"

	jsonschema "github.com/swaggest/jsonschema-go"
)

// Message is a single entry of conversation history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Roles used in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// ToolDef describes one tool offered to the model.
type ToolDef struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// Usage is the token accounting for one provider exchange.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add returns the element-wise sum of two usage counts.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// Request is one streamed exchange with the provider.
type Request struct {
	Messages     []Message
	SystemPrompt string
	Tools        []ToolDef
}

// EventKind discriminates stream events.
type EventKind int

const (
	// EventText carries a fragment of assistant text.
	EventText EventKind = iota
	// EventToolCall carries a tool invocation requested by the model.
	EventToolCall
)

// Event is one element of a provider response stream.
type Event struct {
	Kind EventKind

	// Text is set when Kind == EventText.
	Text string

	// Tool call fields, set when Kind == EventToolCall.
	ToolUseID string
	ToolName  string
	ToolInput json.RawMessage
}

// Stream yields response events in order. Read returns io.EOF after the last
// event; Usage is valid only once Read has returned io.EOF.
type Stream interface {
	Read() (*Event, error)
	Usage() Usage
	Close() error
}

// Client produces one response stream per request.
type Client interface {
	StreamChat(ctx context.Context, req *Request) (Stream, error)
}
