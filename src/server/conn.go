package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/scribehq/scribe/src/wire"
)

// errConnClosed reports an emit attempted after the connection went away.
var errConnClosed = errors.New("connection closed")

// conn is one client connection. Inbound frames are read on the connection's
// read loop; outbound frames flow through a buffered channel drained by a
// single writer goroutine, so a slow client only ever backs up its own queue.
type conn struct {
	ws     *websocket.Conn
	server *Server
	logger *slog.Logger

	send      chan string
	closeOnce sync.Once
	closed    chan struct{}

	// turns tracks in-flight chat turns so run() can wait them out.
	turns sync.WaitGroup
}

func newConn(ws *websocket.Conn, s *Server) *conn {
	return &conn{
		ws:     ws,
		server: s,
		logger: s.logger.With("remote", ws.RemoteAddr().String()),
		send:   make(chan string, s.sendBuffer),
		closed: make(chan struct{}),
	}
}

// run services the connection until it closes, then waits for in-flight
// turns to wind down. Conversations outlive the connection: only
// per-connection state is released here.
func (c *conn) run() {
	// Disconnect cancels this context, which cooperatively cancels any turn
	// still streaming to this connection.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.writePump()
	c.readLoop(ctx)

	c.close()
	cancel()
	c.turns.Wait()
}

func (c *conn) readLoop(ctx context.Context) {
	protocolErrors := 0
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("connection read failed", "error", err)
			}
			return
		}

		msg, err := wire.ParseClient(string(data))
		if err != nil {
			protocolErrors++
			c.emit(protocolError(err))
			if protocolErrors >= c.server.maxProtocolErrors {
				c.logger.Warn("closing connection after repeated protocol errors", "count", protocolErrors)
				return
			}
			continue
		}
		protocolErrors = 0

		c.dispatch(ctx, msg)
	}
}

// dispatch routes one valid client message. Chat turns run on their own
// goroutine so that cancel frames remain deliverable while a turn is
// streaming on this same connection.
func (c *conn) dispatch(ctx context.Context, msg wire.ClientMessage) {
	switch m := msg.(type) {
	case wire.Chat:
		c.turns.Add(1)
		go func() {
			defer c.turns.Done()
			c.server.engine.HandleChat(ctx, m, c.emit)
		}()
	case wire.Cancel:
		c.server.engine.HandleCancel(m)
	case wire.NewConversation:
		c.server.engine.HandleNewConversation(c.emit)
	}
}

// emit queues one server message for this connection only. A full queue
// means the client has stopped consuming; the connection is dropped rather
// than letting its backlog block the emitting turn indefinitely.
func (c *conn) emit(msg wire.ServerMessage) error {
	frame, err := wire.EncodeServer(msg)
	if err != nil {
		return fmt.Errorf("encode server message: %w", err)
	}

	select {
	case <-c.closed:
		return errConnClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.closed:
		return errConnClosed
	default:
		c.logger.Warn("dropping slow consumer", "queued", cap(c.send))
		c.close()
		return errConnClosed
	}
}

func (c *conn) writePump() {
	for {
		select {
		case frame := <-c.send:
			if err := c.ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				c.close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

// protocolError converts a codec failure into the single error frame sent
// back on the offending connection. No conversation is implicated, so the
// conversation id is left empty.
func protocolError(err error) wire.Error {
	code := "schema_violation"
	message := "message does not match the protocol schema"
	if errors.Is(err, wire.ErrMalformedJSON) {
		code = "malformed_json"
		message = "frame is not valid JSON"
	}
	var schemaErr *wire.SchemaError
	if errors.As(err, &schemaErr) {
		message = schemaErr.Reason
	}
	return wire.Error{Message: message, Code: code}
}
