package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribehq/scribe/src/conversation"
	"github.com/scribehq/scribe/src/llm"
	"github.com/scribehq/scribe/src/toolkit"
	"github.com/scribehq/scribe/src/wire"
)

// scriptedClient plays back one scripted response stream per provider round.
type scriptedClient struct {
	mu       sync.Mutex
	rounds   []scriptedRound
	requests []*llm.Request
	err      error
}

type scriptedRound struct {
	events []llm.Event
	usage  llm.Usage
	// gate, when set, blocks the read of the event at gateAt until the
	// stream's context is cancelled or the gate is closed.
	gate   chan struct{}
	gateAt int
}

func (c *scriptedClient) StreamChat(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.requests = append(c.requests, req)
	if len(c.rounds) == 0 {
		return &scriptedStream{ctx: ctx}, nil
	}
	round := c.rounds[0]
	c.rounds = c.rounds[1:]
	return &scriptedStream{ctx: ctx, round: round}, nil
}

type scriptedStream struct {
	ctx   context.Context
	round scriptedRound
	pos   int
}

func (s *scriptedStream) Read() (*llm.Event, error) {
	if s.round.gate != nil && s.pos == s.round.gateAt {
		select {
		case <-s.ctx.Done():
			return nil, s.ctx.Err()
		case <-s.round.gate:
		}
	}
	if s.pos >= len(s.round.events) {
		return nil, io.EOF
	}
	ev := s.round.events[s.pos]
	s.pos++
	return &ev, nil
}

func (s *scriptedStream) Usage() llm.Usage { return s.round.usage }
func (s *scriptedStream) Close() error     { return nil }

// recorder collects emitted messages; safe for one turn at a time.
type recorder struct {
	mu       sync.Mutex
	messages []wire.ServerMessage
	notify   chan wire.ServerMessage
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan wire.ServerMessage, 64)}
}

func (r *recorder) emit(msg wire.ServerMessage) error {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
	r.notify <- msg
	return nil
}

func (r *recorder) all() []wire.ServerMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.ServerMessage(nil), r.messages...)
}

func (r *recorder) deltas() string {
	var out string
	for _, m := range r.all() {
		if d, ok := m.(wire.TextDelta); ok {
			out += d.Text
		}
	}
	return out
}

func (r *recorder) completes() []wire.Complete {
	var out []wire.Complete
	for _, m := range r.all() {
		if c, ok := m.(wire.Complete); ok {
			out = append(out, c)
		}
	}
	return out
}

func (r *recorder) errorCodes() []string {
	var out []string
	for _, m := range r.all() {
		if e, ok := m.(wire.Error); ok {
			out = append(out, e.Code)
		}
	}
	return out
}

func textEvents(parts ...string) []llm.Event {
	events := make([]llm.Event, 0, len(parts))
	for _, p := range parts {
		events = append(events, llm.Event{Kind: llm.EventText, Text: p})
	}
	return events
}

func newTestEngine(t *testing.T, client llm.Client, toolbox *toolkit.Toolbox) (*Engine, *conversation.Store) {
	t.Helper()
	store := conversation.NewStore(conversation.StoreConfig{MaxHistoryLength: 50})
	eng := New(Config{
		Store:        store,
		Client:       client,
		Toolbox:      toolbox,
		SystemPrompt: "You are a note-taking assistant.",
	})
	return eng, store
}

func TestHandleChatStreamsAndCompletes(t *testing.T) {
	client := &scriptedClient{rounds: []scriptedRound{
		{events: textEvents("Hel", "lo ", "world"), usage: llm.Usage{InputTokens: 10, OutputTokens: 3}},
	}}
	eng, store := newTestEngine(t, client, nil)
	c := store.Create()

	rec := newRecorder()
	eng.HandleChat(context.Background(), wire.Chat{ConversationID: c.ID, Message: "hi"}, rec.emit)

	assert.Equal(t, "Hello world", rec.deltas())
	completes := rec.completes()
	require.Len(t, completes, 1, "exactly one complete per turn")
	assert.Equal(t, wire.Usage{InputTokens: 10, OutputTokens: 3}, completes[0].Usage)
	assert.Empty(t, rec.errorCodes())

	messages := c.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, conversation.RoleUser, messages[0].Role)
	assert.Equal(t, "hi", messages[0].Content)
	assert.Equal(t, conversation.RoleAssistant, messages[1].Role)
	assert.Equal(t, rec.deltas(), messages[1].Content,
		"stored assistant message equals the concatenated deltas")
	assert.False(t, c.Active())

	require.Len(t, client.requests, 1)
	assert.Equal(t, "You are a note-taking assistant.", client.requests[0].SystemPrompt)
}

func TestHandleChatUnknownConversation(t *testing.T) {
	eng, store := newTestEngine(t, &scriptedClient{}, nil)

	rec := newRecorder()
	eng.HandleChat(context.Background(), wire.Chat{ConversationID: "conv-missing", Message: "hi"}, rec.emit)

	assert.Equal(t, []string{CodeConversationNotFound}, rec.errorCodes())
	assert.Empty(t, rec.completes(), "no complete without a started turn")
	assert.Equal(t, 0, store.Len(), "no implicit conversation creation")
}

func TestHandleChatEmptyMessage(t *testing.T) {
	eng, store := newTestEngine(t, &scriptedClient{}, nil)
	c := store.Create()

	for _, message := range []string{"", "   ", "\n\t "} {
		rec := newRecorder()
		eng.HandleChat(context.Background(), wire.Chat{ConversationID: c.ID, Message: message}, rec.emit)
		assert.Equal(t, []string{CodeEmptyMessage}, rec.errorCodes())
		assert.Empty(t, rec.completes())
	}
	assert.Equal(t, 0, c.Len(), "rejected messages leave history untouched")
}

func TestHandleChatToolLoop(t *testing.T) {
	toolbox := toolkit.NewToolbox(nil)
	searched := ""
	tool, err := toolkit.NewFunc("search_notes", "Search the vault",
		func(ctx context.Context, in struct {
			Query string `json:"query" jsonschema:"required"`
		}) (struct {
			Matches []string `json:"matches"`
		}, error) {
			searched = in.Query
			return struct {
				Matches []string `json:"matches"`
			}{Matches: []string{"daily/note.md"}}, nil
		})
	require.NoError(t, err)
	require.NoError(t, toolbox.Register(tool))

	client := &scriptedClient{rounds: []scriptedRound{
		{
			events: []llm.Event{
				{Kind: llm.EventText, Text: "Let me look. "},
				{Kind: llm.EventToolCall, ToolUseID: "tu-1", ToolName: "search_notes", ToolInput: json.RawMessage(`{"query":"standup"}`)},
			},
			usage: llm.Usage{InputTokens: 20, OutputTokens: 5},
		},
		{events: textEvents("Found it."), usage: llm.Usage{InputTokens: 30, OutputTokens: 4}},
	}}
	eng, store := newTestEngine(t, client, toolbox)
	c := store.Create()

	rec := newRecorder()
	eng.HandleChat(context.Background(), wire.Chat{ConversationID: c.ID, Message: "where are my standup notes?"}, rec.emit)

	assert.Equal(t, "standup", searched)
	assert.Equal(t, "Let me look. Found it.", rec.deltas())

	var starts []wire.ToolStart
	var results []wire.ToolResult
	for _, m := range rec.all() {
		switch v := m.(type) {
		case wire.ToolStart:
			starts = append(starts, v)
		case wire.ToolResult:
			results = append(results, v)
		}
	}
	require.Len(t, starts, 1)
	require.Len(t, results, 1)
	assert.Equal(t, starts[0].ToolUseID, results[0].ToolUseID,
		"every tool_start has a matching tool_result")
	assert.Equal(t, "search_notes", starts[0].Name)
	assert.False(t, results[0].IsError)

	completes := rec.completes()
	require.Len(t, completes, 1)
	assert.Equal(t, wire.Usage{InputTokens: 50, OutputTokens: 9}, completes[0].Usage,
		"usage sums across tool-loop rounds")

	require.Len(t, client.requests, 2)
	followUp := client.requests[1].Messages
	require.NotEmpty(t, followUp)
	assert.Equal(t, llm.RoleTool, followUp[len(followUp)-1].Role,
		"tool result is fed back as the next round's input")
	assert.Contains(t, followUp[len(followUp)-1].Content, "daily/note.md")

	messages := c.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "Let me look. Found it.", messages[1].Content)
}

func TestHandleChatUnknownToolName(t *testing.T) {
	toolbox := toolkit.NewToolbox(nil)
	client := &scriptedClient{rounds: []scriptedRound{
		{events: []llm.Event{
			{Kind: llm.EventToolCall, ToolUseID: "tu-9", ToolName: "does_not_exist", ToolInput: json.RawMessage(`{}`)},
		}},
		{events: textEvents("Sorry, no such tool.")},
	}}
	eng, store := newTestEngine(t, client, toolbox)
	c := store.Create()

	rec := newRecorder()
	eng.HandleChat(context.Background(), wire.Chat{ConversationID: c.ID, Message: "use a tool"}, rec.emit)

	var result wire.ToolResult
	found := false
	for _, m := range rec.all() {
		if r, ok := m.(wire.ToolResult); ok {
			result = r
			found = true
		}
	}
	require.True(t, found)
	assert.True(t, result.IsError, "unknown tool surfaces as an error result")
	require.Len(t, rec.completes(), 1, "a bad tool call never aborts the turn")
}

func TestHandleChatProviderFailure(t *testing.T) {
	client := &scriptedClient{err: fmt.Errorf("connect: connection refused at /internal/path/provider.go:42")}
	eng, store := newTestEngine(t, client, nil)
	c := store.Create()

	rec := newRecorder()
	eng.HandleChat(context.Background(), wire.Chat{ConversationID: c.ID, Message: "hi"}, rec.emit)

	var errMsg wire.Error
	foundErr := false
	for _, m := range rec.all() {
		if e, ok := m.(wire.Error); ok {
			errMsg = e
			foundErr = true
		}
	}
	require.True(t, foundErr)
	assert.Equal(t, CodeProviderError, errMsg.Code)
	assert.NotContains(t, errMsg.Message, "provider.go", "raw internal error text never reaches the client")
	assert.NotContains(t, errMsg.Message, "connection refused")

	require.Len(t, rec.completes(), 1, "a failed turn is still terminated by complete")
	assert.False(t, c.Active())

	messages := c.Messages()
	require.Len(t, messages, 2, "failed turns still append the assistant entry")
	assert.Equal(t, "", messages[1].Content)

	// The conversation accepts further chats afterwards.
	client.mu.Lock()
	client.err = nil
	client.rounds = []scriptedRound{{events: textEvents("recovered")}}
	client.mu.Unlock()

	rec = newRecorder()
	eng.HandleChat(context.Background(), wire.Chat{ConversationID: c.ID, Message: "again"}, rec.emit)
	assert.Equal(t, "recovered", rec.deltas())
	require.Len(t, rec.completes(), 1)
}

func TestHandleChatEmitFailuresDoNotAbortTurn(t *testing.T) {
	client := &scriptedClient{rounds: []scriptedRound{{events: textEvents("a", "b")}}}
	eng, store := newTestEngine(t, client, nil)
	c := store.Create()

	calls := 0
	eng.HandleChat(context.Background(), wire.Chat{ConversationID: c.ID, Message: "hi"}, func(wire.ServerMessage) error {
		calls++
		return errors.New("client went away")
	})

	assert.Equal(t, 3, calls, "two deltas and one complete despite emit failures")
	messages := c.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "ab", messages[1].Content)
}

func TestHandleCancelNoActiveTurnIsNoOp(t *testing.T) {
	eng, store := newTestEngine(t, &scriptedClient{}, nil)
	c := store.Create()

	assert.NotPanics(t, func() {
		eng.HandleCancel(wire.Cancel{ConversationID: c.ID})
		eng.HandleCancel(wire.Cancel{ConversationID: "conv-missing"})
	})
}

func TestHandleChatCancellationMidStream(t *testing.T) {
	gate := make(chan struct{})
	client := &scriptedClient{rounds: []scriptedRound{
		{events: textEvents("partial ", "never sent"), gate: gate, gateAt: 1},
	}}
	eng, store := newTestEngine(t, client, nil)
	c := store.Create()

	rec := newRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.HandleChat(context.Background(), wire.Chat{ConversationID: c.ID, Message: "hi"}, rec.emit)
	}()

	// Wait for the first delta, then cancel while the stream is suspended.
	select {
	case <-rec.notify:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first delta")
	}
	eng.HandleCancel(wire.Cancel{ConversationID: c.ID})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled turn did not finish")
	}

	assert.Equal(t, "partial ", rec.deltas(), "output after cancellation is not forwarded")
	require.Len(t, rec.completes(), 1, "a cancelled turn still ends with complete")
	assert.Empty(t, rec.errorCodes(), "cancellation is not an error")

	messages := c.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "partial ", messages[1].Content)
	assert.False(t, c.Active())
}

func TestConcurrentTurnsDoNotInterleaveConversations(t *testing.T) {
	client := &scriptedClient{rounds: []scriptedRound{
		{events: textEvents("one-a", "one-b")},
		{events: textEvents("two-a", "two-b")},
	}}
	eng, store := newTestEngine(t, client, nil)
	c1 := store.Create()
	c2 := store.Create()

	rec1 := newRecorder()
	rec2 := newRecorder()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		eng.HandleChat(context.Background(), wire.Chat{ConversationID: c1.ID, Message: "m1"}, rec1.emit)
	}()
	go func() {
		defer wg.Done()
		eng.HandleChat(context.Background(), wire.Chat{ConversationID: c2.ID, Message: "m2"}, rec2.emit)
	}()
	wg.Wait()

	for _, m := range rec1.all() {
		assert.Equal(t, c1.ID, m.ConversationID())
	}
	for _, m := range rec2.all() {
		assert.Equal(t, c2.ID, m.ConversationID())
	}
	require.Len(t, rec1.completes(), 1)
	require.Len(t, rec2.completes(), 1)
}

func TestSecondChatWhileActiveIsRejected(t *testing.T) {
	gate := make(chan struct{})
	client := &scriptedClient{rounds: []scriptedRound{
		{events: textEvents("slow"), gate: gate, gateAt: 0},
	}}
	eng, store := newTestEngine(t, client, nil)
	c := store.Create()

	rec := newRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.HandleChat(context.Background(), wire.Chat{ConversationID: c.ID, Message: "first"}, rec.emit)
	}()

	require.Eventually(t, c.Active, 5*time.Second, time.Millisecond)

	rec2 := newRecorder()
	eng.HandleChat(context.Background(), wire.Chat{ConversationID: c.ID, Message: "second"}, rec2.emit)
	assert.Equal(t, []string{CodeTurnInProgress}, rec2.errorCodes())
	assert.Empty(t, rec2.completes())

	close(gate)
	<-done
}

func TestHandleNewConversation(t *testing.T) {
	eng, store := newTestEngine(t, &scriptedClient{}, nil)

	rec := newRecorder()
	id := eng.HandleNewConversation(rec.emit)

	require.True(t, wire.IsValidConversationID(id))
	_, ok := store.Get(id)
	assert.True(t, ok)

	all := rec.all()
	require.Len(t, all, 1)
	assert.Equal(t, wire.Connected{Conversation: id}, all[0])
}

type capturedUsage struct {
	id    string
	usage wire.Usage
}

type fakeRecorder struct {
	mu  sync.Mutex
	got []capturedUsage
}

func (f *fakeRecorder) Record(ctx context.Context, conversationID string, usage wire.Usage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, capturedUsage{id: conversationID, usage: usage})
	return nil
}

func TestUsageRecorderReceivesTurnUsage(t *testing.T) {
	client := &scriptedClient{rounds: []scriptedRound{
		{events: textEvents("ok"), usage: llm.Usage{InputTokens: 7, OutputTokens: 2}},
	}}
	store := conversation.NewStore(conversation.StoreConfig{})
	fake := &fakeRecorder{}
	eng := New(Config{Store: store, Client: client, Recorder: fake})
	c := store.Create()

	rec := newRecorder()
	eng.HandleChat(context.Background(), wire.Chat{ConversationID: c.ID, Message: "hi"}, rec.emit)

	require.Len(t, fake.got, 1)
	assert.Equal(t, c.ID, fake.got[0].id)
	assert.Equal(t, wire.Usage{InputTokens: 7, OutputTokens: 2}, fake.got[0].usage)
}
