package main

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"github.com/scribehq/scribe/src/connmgr"
	"github.com/scribehq/scribe/src/wire"
)

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	infoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// ChatCmd is the interactive terminal client.
type ChatCmd struct {
	URL          string `help:"Server websocket URL" default:"ws://127.0.0.1:8377"`
	Token        string `help:"Shared connection secret"`
	Conversation string `help:"Resume a conversation by id"`
}

func (c *ChatCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	session := &chatSession{
		url:          c.URL,
		token:        c.Token,
		conversation: c.Conversation,
		turnDone:     make(chan struct{}, 1),
	}
	session.manager = connmgr.New(connmgr.Config{
		BaseInterval: time.Duration(cfg.Reconnect.BaseIntervalMS) * time.Millisecond,
		MaxAttempts:  cfg.Reconnect.MaxAttempts,
		Dial:         session.dial,
		Logger:       logger,
		OnStateChange: func(s connmgr.State) {
			switch s {
			case connmgr.Reconnecting:
				fmt.Println(infoStyle.Render("· connection lost, reconnecting"))
			case connmgr.Open:
				fmt.Println(infoStyle.Render("· connected"))
			}
		},
	})

	session.manager.Connecting()
	session.dial()
	if session.manager.State() != connmgr.Open {
		return fmt.Errorf("could not connect to %s", c.URL)
	}

	if session.conversation == "" {
		if err := session.send(wire.NewConversation{}); err != nil {
			return err
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(promptStyle.Render("you> "))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			session.close()
			return nil
		case line == "/cancel":
			if err := session.send(wire.Cancel{ConversationID: session.conversationID()}); err != nil {
				fmt.Println(errorStyle.Render("! " + err.Error()))
			}
			continue
		}

		if session.conversationID() == "" {
			fmt.Println(errorStyle.Render("! no conversation yet, still connecting"))
			continue
		}
		if err := session.send(wire.Chat{ConversationID: session.conversationID(), Message: line}); err != nil {
			fmt.Println(errorStyle.Render("! " + err.Error()))
			continue
		}
		<-session.turnDone
	}
	session.close()
	return scanner.Err()
}

// chatSession owns the websocket connection and the reconnect manager.
type chatSession struct {
	url   string
	token string

	manager *connmgr.Manager

	mu           sync.Mutex
	ws           *websocket.Conn
	conversation string

	turnDone chan struct{}
}

func (s *chatSession) conversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversation
}

// dial connects and starts the read loop. It is called directly on startup
// and by the reconnect manager after backoff.
func (s *chatSession) dial() {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	ws, _, err := websocket.DefaultDialer.Dial(s.url, header)
	if err != nil {
		fmt.Println(errorStyle.Render("! dial failed: " + err.Error()))
		s.manager.CloseAbnormal()
		return
	}

	s.mu.Lock()
	s.ws = ws
	s.mu.Unlock()
	s.manager.Opened()

	go s.readLoop(ws)
}

func (s *chatSession) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.manager.CloseNormal()
			} else if s.manager.State() != connmgr.ClosedNormal {
				s.manager.CloseAbnormal()
			}
			s.finishTurn()
			return
		}
		msg, err := wire.ParseServer(string(data))
		if err != nil {
			fmt.Println(errorStyle.Render("! bad frame from server: " + err.Error()))
			continue
		}
		s.render(msg)
	}
}

func (s *chatSession) render(msg wire.ServerMessage) {
	switch m := msg.(type) {
	case wire.Connected:
		s.mu.Lock()
		s.conversation = m.Conversation
		s.mu.Unlock()
		fmt.Println(infoStyle.Render("· conversation " + m.Conversation))
	case wire.TextDelta:
		fmt.Print(m.Text)
	case wire.ToolStart:
		fmt.Println(toolStyle.Render(fmt.Sprintf("⚙ %s", m.Name)))
	case wire.ToolResult:
		if m.IsError {
			fmt.Println(toolStyle.Render(fmt.Sprintf("⚙ %s failed", m.ToolUseID)))
		}
	case wire.Complete:
		fmt.Println()
		fmt.Println(toolStyle.Render(fmt.Sprintf("· %d in / %d out tokens", m.Usage.InputTokens, m.Usage.OutputTokens)))
		s.finishTurn()
	case wire.Error:
		fmt.Println(errorStyle.Render("! " + m.Message))
		if m.Code == "turn_in_progress" {
			return
		}
		s.finishTurn()
	}
}

// finishTurn unblocks the input loop. The channel is buffered so signalling
// without a waiting reader never blocks.
func (s *chatSession) finishTurn() {
	select {
	case s.turnDone <- struct{}{}:
	default:
	}
}

func (s *chatSession) send(msg wire.ClientMessage) error {
	frame, err := wire.EncodeClient(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("not connected")
	}
	return ws.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (s *chatSession) close() {
	s.manager.Disconnect()
	s.mu.Lock()
	ws := s.ws
	s.ws = nil
	s.mu.Unlock()
	if ws != nil {
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		ws.Close()
	}
}
