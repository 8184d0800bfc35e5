// Package wire defines the typed client/server message set exchanged over a
// connection, along with parsing, serialization, and conversation id rules.
package wire

// Client message type tags.
const (
	TypeChat            = "chat"
	TypeCancel          = "cancel"
	TypeNewConversation = "new_conversation"
)

// Server message type tags.
const (
	TypeTextDelta  = "text_delta"
	TypeToolStart  = "tool_start"
	TypeToolResult = "tool_result"
	TypeComplete   = "complete"
	TypeError      = "error"
	TypeConnected  = "connected"
)

// ClientMessage is a message sent from a client to the server. Exactly the
// Chat, Cancel, and NewConversation variants implement it.
type ClientMessage interface {
	Type() string
	clientMessage()
}

// ServerMessage is a message sent from the server to a client.
type ServerMessage interface {
	Type() string
	ConversationID() string
	serverMessage()
}

// Chat asks the server to run one response turn on a conversation. Message
// may be an empty string on the wire; the response engine rejects empty
// content as a semantic error.
type Chat struct {
	ConversationID string
	Message        string
}

func (Chat) Type() string   { return TypeChat }
func (Chat) clientMessage() {}

// Cancel requests cooperative cancellation of the conversation's active turn.
type Cancel struct {
	ConversationID string
}

func (Cancel) Type() string   { return TypeCancel }
func (Cancel) clientMessage() {}

// NewConversation asks the server to create a fresh conversation.
type NewConversation struct{}

func (NewConversation) Type() string   { return TypeNewConversation }
func (NewConversation) clientMessage() {}

// TextDelta carries one streamed fragment of assistant text. Text may be
// empty.
type TextDelta struct {
	Conversation string
	Text         string
}

func (TextDelta) Type() string             { return TypeTextDelta }
func (m TextDelta) ConversationID() string { return m.Conversation }
func (TextDelta) serverMessage()           {}

// ToolStart announces that the engine is about to invoke a tool. Input is the
// decoded JSON input value and may be any JSON value including nil (null).
type ToolStart struct {
	Conversation string
	ToolUseID    string
	Name         string
	Input        interface{}
}

func (ToolStart) Type() string             { return TypeToolStart }
func (m ToolStart) ConversationID() string { return m.Conversation }
func (ToolStart) serverMessage()           {}

// ToolResult carries the outcome of a tool invocation, correlated to its
// ToolStart by ToolUseID.
type ToolResult struct {
	Conversation string
	ToolUseID    string
	Output       interface{}
	IsError      bool
}

func (ToolResult) Type() string             { return TypeToolResult }
func (m ToolResult) ConversationID() string { return m.Conversation }
func (ToolResult) serverMessage()           {}

// Usage is the token accounting reported once per turn.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Complete terminates a turn. Emitted exactly once per turn, whether the turn
// completed, failed, or was cancelled.
type Complete struct {
	Conversation string
	Usage        Usage
}

func (Complete) Type() string             { return TypeComplete }
func (m Complete) ConversationID() string { return m.Conversation }
func (Complete) serverMessage()           {}

// Error reports a user-facing failure. Code is optional and omitted from the
// wire when empty.
type Error struct {
	Conversation string
	Message      string
	Code         string
}

func (Error) Type() string             { return TypeError }
func (m Error) ConversationID() string { return m.Conversation }
func (Error) serverMessage()           {}

// Connected acknowledges a freshly created conversation.
type Connected struct {
	Conversation string
}

func (Connected) Type() string             { return TypeConnected }
func (m Connected) ConversationID() string { return m.Conversation }
func (Connected) serverMessage()           {}
