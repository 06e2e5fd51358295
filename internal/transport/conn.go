package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmylchreest/wsvideo/internal/version"
)

// WebSocket close codes used by the loader.
const (
	CloseNormal   = websocket.CloseNormalClosure
	CloseAbnormal = websocket.CloseAbnormalClosure
)

const writeTimeout = 5 * time.Second

// Message is one WebSocket message.
type Message struct {
	Binary bool
	Data   []byte
}

// CloseError is returned by Conn.Read when the peer closed the connection
// with a close frame.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("websocket closed: %d %s", e.Code, e.Reason)
}

// Conn is an established WebSocket. Read is called from a single
// goroutine; Write and Close are called from the loop goroutine.
type Conn interface {
	Read() (Message, error)
	WriteText(text string) error
	Close(code int, reason string) error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string, protocols []string) (Conn, error)
}

// WebSocketDialer dials with gorilla/websocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	Header           http.Header
}

// NewWebSocketDialer returns a dialer that identifies itself with the
// wsvideo user agent.
func NewWebSocketDialer(handshakeTimeout time.Duration) *WebSocketDialer {
	h := http.Header{}
	h.Set("User-Agent", version.UserAgent())
	return &WebSocketDialer{HandshakeTimeout: handshakeTimeout, Header: h}
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, url string, protocols []string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
		Subprotocols:     protocols,
	}
	ws, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Read() (Message, error) {
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return Message{}, &CloseError{Code: ce.Code, Reason: ce.Text}
		}
		return Message{}, err
	}
	return Message{Binary: mt == websocket.BinaryMessage, Data: data}, nil
}

func (c *wsConn) WriteText(text string) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, []byte(text))
}

func (c *wsConn) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}
