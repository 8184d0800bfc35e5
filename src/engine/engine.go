// Package engine drives streamed response turns: it calls the model
// provider, interleaves tool execution, applies cooperative cancellation, and
// emits ordered server messages for exactly one conversation per turn.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/scribehq/scribe/src/conversation"
	"github.com/scribehq/scribe/src/llm"
	"github.com/scribehq/scribe/src/toolkit"
	"github.com/scribehq/scribe/src/wire"
)

// Emit delivers one server message to the turn's client. Implementations may
// be asynchronous; a failing emit never aborts the turn.
type Emit func(msg wire.ServerMessage) error

// UsageRecorder receives the final token usage of each turn.
type UsageRecorder interface {
	Record(ctx context.Context, conversationID string, usage wire.Usage) error
}

// Error codes attached to engine-level error messages.
const (
	CodeConversationNotFound = "conversation_not_found"
	CodeEmptyMessage         = "empty_message"
	CodeTurnInProgress       = "turn_in_progress"
	CodeProviderError        = "provider_error"
)

const defaultMaxToolRounds = 8

// Config assembles an Engine.
type Config struct {
	Store  *conversation.Store
	Client llm.Client
	// Toolbox is optional; when nil the model is offered no tools.
	Toolbox      *toolkit.Toolbox
	SystemPrompt string
	// MaxToolRounds bounds provider round-trips within one turn; defaults to 8.
	MaxToolRounds int
	// Recorder is optional per-turn usage accounting.
	Recorder UsageRecorder
	Logger   *slog.Logger
	Now      func() time.Time
}

// Engine is the per-conversation response engine.
type Engine struct {
	store         *conversation.Store
	client        llm.Client
	toolbox       *toolkit.Toolbox
	systemPrompt  string
	maxToolRounds int
	recorder      UsageRecorder
	logger        *slog.Logger
	now           func() time.Time
}

// New creates an engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	maxRounds := cfg.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxToolRounds
	}
	return &Engine{
		store:         cfg.Store,
		client:        cfg.Client,
		toolbox:       cfg.Toolbox,
		systemPrompt:  cfg.SystemPrompt,
		maxToolRounds: maxRounds,
		recorder:      cfg.Recorder,
		logger:        logger,
		now:           now,
	}
}

// HandleNewConversation creates a conversation, emits connected, and returns
// the new id. No other conversation is touched.
func (e *Engine) HandleNewConversation(emit Emit) string {
	c := e.store.Create()
	e.send(emit, wire.Connected{Conversation: c.ID})
	return c.ID
}

// HandleCancel requests cooperative cancellation of the conversation's active
// turn. Absent or inactive conversations make this a no-op, never an error.
func (e *Engine) HandleCancel(msg wire.Cancel) {
	c, ok := e.store.Get(msg.ConversationID)
	if !ok {
		return
	}
	if c.CancelActive() {
		e.logger.Info("turn cancellation requested", "conversation", c.ID)
	}
}

// HandleChat runs one response turn. Once the turn has started it always ends
// with exactly one complete message, whether it finished, failed, or was
// cancelled; failures surface as a single sanitized error message first.
func (e *Engine) HandleChat(ctx context.Context, msg wire.Chat, emit Emit) {
	c, ok := e.store.Get(msg.ConversationID)
	if !ok {
		e.send(emit, wire.Error{
			Conversation: msg.ConversationID,
			Message:      "conversation not found",
			Code:         CodeConversationNotFound,
		})
		return
	}
	if strings.TrimSpace(msg.Message) == "" {
		e.send(emit, wire.Error{
			Conversation: c.ID,
			Message:      "message must not be empty",
			Code:         CodeEmptyMessage,
		})
		return
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !c.BeginTurn(cancel) {
		e.send(emit, wire.Error{
			Conversation: c.ID,
			Message:      "a response is already streaming for this conversation",
			Code:         CodeTurnInProgress,
		})
		return
	}

	c.Append(conversation.RoleUser, msg.Message, e.now())

	text, usage, err := e.runTurn(turnCtx, c, emit)
	if err != nil {
		e.logger.Error("turn failed", "conversation", c.ID, "error", err)
		e.send(emit, wire.Error{
			Conversation: c.ID,
			Message:      "the assistant could not complete this response",
			Code:         CodeProviderError,
		})
	}

	c.Append(conversation.RoleAssistant, text, e.now())
	c.TrimHistory(e.store.MaxHistoryLength())
	c.EndTurn()

	turnUsage := wire.Usage{InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens}
	if e.recorder != nil {
		if err := e.recorder.Record(ctx, c.ID, turnUsage); err != nil {
			e.logger.Warn("usage recording failed", "conversation", c.ID, "error", err)
		}
	}
	e.send(emit, wire.Complete{Conversation: c.ID, Usage: turnUsage})
}

// send delivers one message, swallowing emit failures and panics. Emission
// problems are the transport's concern, not the turn's.
func (e *Engine) send(emit Emit, msg wire.ServerMessage) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("emit panicked", "conversation", msg.ConversationID(), "panic", r)
		}
	}()
	if err := emit(msg); err != nil {
		e.logger.Warn("emit failed", "conversation", msg.ConversationID(), "error", err)
	}
}
