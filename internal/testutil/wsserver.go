package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// WSServer is an httptest server that upgrades every request to a
// WebSocket and hands the connection to a handler.
type WSServer struct {
	*httptest.Server

	mu        sync.Mutex
	accepted  int
	texts     []string
	protocols []string
}

// NewWSServer starts a server. The handler runs once per connection; the
// connection is closed when it returns. Servers are closed on test cleanup.
func NewWSServer(tb testing.TB, handler func(conn *websocket.Conn)) *WSServer {
	tb.Helper()
	s := &WSServer{}
	upgrader := websocket.Upgrader{
		CheckOrigin:  func(*http.Request) bool { return true },
		Subprotocols: []string{"fmp4"},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		s.mu.Lock()
		s.accepted++
		s.protocols = append(s.protocols, conn.Subprotocol())
		s.mu.Unlock()

		handler(conn)
	}))
	tb.Cleanup(s.Close)
	return s
}

// URL returns the ws:// address of the server with the given path.
func (s *WSServer) URL(path string) string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http") + path
}

// Accepted reports how many connections were upgraded.
func (s *WSServer) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Texts returns the text messages recorded by RecordTexts.
func (s *WSServer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// Protocols returns the negotiated subprotocol of each connection.
func (s *WSServer) Protocols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.protocols...)
}

// RecordTexts reads from conn until it fails, remembering text frames.
func (s *WSServer) RecordTexts(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt == websocket.TextMessage {
			s.mu.Lock()
			s.texts = append(s.texts, string(data))
			s.mu.Unlock()
		}
	}
}

// StreamHandler writes chunks as binary messages and then keeps the
// connection open until the client goes away.
func (s *WSServer) StreamHandler(chunks [][]byte) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		for _, c := range chunks {
			if err := conn.WriteMessage(websocket.BinaryMessage, c); err != nil {
				return
			}
		}
		s.RecordTexts(conn)
	}
}
