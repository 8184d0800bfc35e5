package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribehq/scribe/src/conversation"
	"github.com/scribehq/scribe/src/engine"
	"github.com/scribehq/scribe/src/llm"
	"github.com/scribehq/scribe/src/wire"
)

// fixedClient replies to every request with the same scripted text.
type fixedClient struct {
	parts []string
	usage llm.Usage
}

func (f *fixedClient) StreamChat(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	return &fixedStream{parts: f.parts, usage: f.usage}, nil
}

type fixedStream struct {
	parts []string
	usage llm.Usage
	pos   int
}

func (s *fixedStream) Read() (*llm.Event, error) {
	if s.pos >= len(s.parts) {
		return nil, io.EOF
	}
	ev := &llm.Event{Kind: llm.EventText, Text: s.parts[s.pos]}
	s.pos++
	return ev, nil
}

func (s *fixedStream) Usage() llm.Usage { return s.usage }
func (s *fixedStream) Close() error     { return nil }

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	if cfg.Engine == nil {
		store := conversation.NewStore(conversation.StoreConfig{})
		cfg.Engine = engine.New(engine.Config{
			Store:  store,
			Client: &fixedClient{parts: []string{"Hi ", "there"}, usage: llm.Usage{InputTokens: 3, OutputTokens: 2}},
		})
	}
	srv := New(cfg)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msg wire.ClientMessage) {
	t.Helper()
	frame, err := wire.EncodeClient(msg)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func read(t *testing.T, ws *websocket.Conn) wire.ServerMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	msg, err := wire.ParseServer(string(data))
	require.NoError(t, err)
	return msg
}

// readTurn collects server messages until complete.
func readTurn(t *testing.T, ws *websocket.Conn) []wire.ServerMessage {
	t.Helper()
	var out []wire.ServerMessage
	for {
		msg := read(t, ws)
		out = append(out, msg)
		if _, done := msg.(wire.Complete); done {
			return out
		}
	}
}

func TestChatOverWebsocket(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	ws := dial(t, ts, nil)

	send(t, ws, wire.NewConversation{})
	connected, ok := read(t, ws).(wire.Connected)
	require.True(t, ok)
	require.True(t, wire.IsValidConversationID(connected.Conversation))

	send(t, ws, wire.Chat{ConversationID: connected.Conversation, Message: "hello"})
	messages := readTurn(t, ws)

	var text string
	for _, m := range messages {
		assert.Equal(t, connected.Conversation, m.ConversationID())
		if d, ok := m.(wire.TextDelta); ok {
			text += d.Text
		}
	}
	assert.Equal(t, "Hi there", text)

	complete := messages[len(messages)-1].(wire.Complete)
	assert.Equal(t, wire.Usage{InputTokens: 3, OutputTokens: 2}, complete.Usage)
}

func TestProtocolErrorKeepsConnectionOpen(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	ws := dial(t, ts, nil)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{oops`)))
	errMsg, ok := read(t, ws).(wire.Error)
	require.True(t, ok)
	assert.Equal(t, "malformed_json", errMsg.Code)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"shout"}`)))
	errMsg, ok = read(t, ws).(wire.Error)
	require.True(t, ok)
	assert.Equal(t, "schema_violation", errMsg.Code)

	// The connection still works after isolated violations.
	send(t, ws, wire.NewConversation{})
	_, ok = read(t, ws).(wire.Connected)
	assert.True(t, ok)
}

func TestRepeatedProtocolErrorsCloseConnection(t *testing.T) {
	_, ts := newTestServer(t, Config{MaxProtocolErrors: 3})
	ws := dial(t, ts, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	}

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	sawClose := false
	for i := 0; i < 4; i++ {
		if _, _, err := ws.ReadMessage(); err != nil {
			sawClose = true
			break
		}
	}
	assert.True(t, sawClose, "connection must close after repeated violations")
}

func TestSharedSecret(t *testing.T) {
	_, ts := newTestServer(t, Config{Token: "hunter2"})
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err, "missing token must be rejected")
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{"Authorization": []string{"Bearer hunter2"}}
	ws := dial(t, ts, header)
	send(t, ws, wire.NewConversation{})
	_, ok := read(t, ws).(wire.Connected)
	assert.True(t, ok)

	ws2, _, err := websocket.DefaultDialer.Dial(url+"?token=hunter2", nil)
	require.NoError(t, err, "query token must be accepted")
	ws2.Close()
}

func TestClientCount(t *testing.T) {
	srv, ts := newTestServer(t, Config{})
	assert.Equal(t, 0, srv.ClientCount())

	ws1 := dial(t, ts, nil)
	ws2 := dial(t, ts, nil)
	require.Eventually(t, func() bool { return srv.ClientCount() == 2 }, 5*time.Second, 10*time.Millisecond)

	ws1.Close()
	ws2.Close()
	require.Eventually(t, func() bool { return srv.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestConversationsOutliveConnections(t *testing.T) {
	store := conversation.NewStore(conversation.StoreConfig{})
	eng := engine.New(engine.Config{Store: store, Client: &fixedClient{parts: []string{"ok"}}})
	_, ts := newTestServer(t, Config{Engine: eng})

	ws := dial(t, ts, nil)
	send(t, ws, wire.NewConversation{})
	connected := read(t, ws).(wire.Connected)
	ws.Close()

	require.Eventually(t, func() bool {
		_, ok := store.Get(connected.Conversation)
		return ok
	}, time.Second, 10*time.Millisecond, "conversation survives disconnect")

	// A new connection continues the same conversation by id.
	ws2 := dial(t, ts, nil)
	send(t, ws2, wire.Chat{ConversationID: connected.Conversation, Message: "still there?"})
	messages := readTurn(t, ws2)
	assert.Equal(t, connected.Conversation, messages[0].ConversationID())
}

func TestConnectionsAreIsolated(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	wsA := dial(t, ts, nil)
	wsB := dial(t, ts, nil)

	send(t, wsA, wire.NewConversation{})
	connectedA := read(t, wsA).(wire.Connected)
	send(t, wsB, wire.NewConversation{})
	connectedB := read(t, wsB).(wire.Connected)
	require.NotEqual(t, connectedA.Conversation, connectedB.Conversation)

	send(t, wsA, wire.Chat{ConversationID: connectedA.Conversation, Message: "for A"})
	send(t, wsB, wire.Chat{ConversationID: connectedB.Conversation, Message: "for B"})

	for _, m := range readTurn(t, wsA) {
		assert.Equal(t, connectedA.Conversation, m.ConversationID())
	}
	for _, m := range readTurn(t, wsB) {
		assert.Equal(t, connectedB.Conversation, m.ConversationID())
	}
}
