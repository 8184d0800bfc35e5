// Package server multiplexes websocket clients onto the response engine.
// Each connection decodes its own inbound frames, routes them to the engine,
// and receives exactly the server messages produced for its own requests.
package server

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/scribehq/scribe/src/engine"
)

const (
	defaultMaxProtocolErrors = 5
	defaultSendBuffer        = 256
)

// Config assembles a Server.
type Config struct {
	Engine *engine.Engine
	// Token, when set, is the shared secret required to connect, passed as a
	// bearer token or a "token" query parameter.
	Token string
	// MaxProtocolErrors closes a connection after that many consecutive
	// malformed or schema-violating frames. Defaults to 5.
	MaxProtocolErrors int
	// SendBuffer is the per-connection outbound queue size. A connection
	// whose client falls this far behind is dropped rather than allowed to
	// block delivery elsewhere. Defaults to 256.
	SendBuffer int
	Logger     *slog.Logger
}

// Server accepts websocket connections and serves the chat protocol on them.
type Server struct {
	engine            *engine.Engine
	token             string
	maxProtocolErrors int
	sendBuffer        int
	upgrader          websocket.Upgrader
	logger            *slog.Logger
	clients           atomic.Int64
}

// New creates a server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxErrors := cfg.MaxProtocolErrors
	if maxErrors <= 0 {
		maxErrors = defaultMaxProtocolErrors
	}
	sendBuffer := cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Server{
		engine:            cfg.Engine,
		token:             cfg.Token,
		maxProtocolErrors: maxErrors,
		sendBuffer:        sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser-origin policy is the embedding application's concern.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ClientCount returns the number of currently connected clients.
func (s *Server) ClientCount() int {
	return int(s.clients.Load())
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s.clients.Add(1)
	s.logger.Info("client connected", "remote", r.RemoteAddr, "clients", s.ClientCount())

	c := newConn(ws, s)
	c.run()

	s.clients.Add(-1)
	s.logger.Info("client disconnected", "remote", r.RemoteAddr, "clients", s.ClientCount())
}

func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	if r.Header.Get("Authorization") == "Bearer "+s.token {
		return true
	}
	return r.URL.Query().Get("token") == s.token
}
