// Package transport maintains a WebSocket connection to a live stream with
// heartbeat keepalive and bounded automatic reconnection.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jmylchreest/wsvideo/internal/event"
	"github.com/jmylchreest/wsvideo/internal/loop"
	"github.com/jmylchreest/wsvideo/internal/metrics"
	"github.com/jmylchreest/wsvideo/internal/observability"
)

// State mirrors the WebSocket ready state.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// CloseEvent describes a closed connection. WillReconnect is false on the
// terminal close after reconnect attempts are exhausted.
type CloseEvent struct {
	Code          int
	Reason        string
	Manual        bool
	WillReconnect bool
	Attempt       int
}

// Events emitted by Loader.
var (
	EventOpen    = event.NewKey[struct{}]("open")
	EventMessage = event.NewKey[Message]("message")
	EventClose   = event.NewKey[CloseEvent]("close")
	EventError   = event.NewKey[error]("error")
	EventState   = event.NewKey[State]("state")
)

// HeartbeatOptions controls keepalive text messages.
type HeartbeatOptions struct {
	Enabled  bool
	Message  string
	Interval time.Duration
	// Once sends Message a single time after each open.
	Once bool
}

// ReconnectOptions controls automatic reconnection after unexpected closes.
type ReconnectOptions struct {
	Enabled     bool
	MaxAttempts int
	Delay       time.Duration
}

// Options configures a Loader.
type Options struct {
	Protocols        []string
	HandshakeTimeout time.Duration
	Heartbeat        HeartbeatOptions
	Reconnect        ReconnectOptions

	// Dialer defaults to a WebSocketDialer.
	Dialer  Dialer
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// DefaultOptions returns reconnecting options without heartbeat.
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		Heartbeat:        HeartbeatOptions{Message: "ping", Interval: 30 * time.Second},
		Reconnect:        ReconnectOptions{Enabled: true, MaxAttempts: 5, Delay: 3 * time.Second},
	}
}

// Loader owns one WebSocket connection. All methods must be called on the
// loop goroutine; dialing and reading happen on background goroutines that
// post their results to the loop.
type Loader struct {
	url    string
	loop   loop.Loop
	opts   Options
	logger *slog.Logger
	events event.Bus

	conn      Conn
	state     State
	gen       uint64
	manual    bool
	attempts  int
	destroyed bool

	cancelDial context.CancelFunc
	heartbeat  loop.Timer
	retry      loop.Timer
}

// New creates a Loader for url. It does not connect until Open.
func New(lp loop.Loop, url string, opts Options) *Loader {
	if opts.Dialer == nil {
		opts.Dialer = NewWebSocketDialer(opts.HandshakeTimeout)
	}
	return &Loader{
		url:    url,
		loop:   lp,
		opts:   opts,
		logger: observability.WithComponent(observability.OrDefault(opts.Logger), "transport").With(slog.String("url", url)),
		state:  StateClosed,
	}
}

// Events returns the bus carrying the loader events.
func (l *Loader) Events() *event.Bus {
	return &l.events
}

// URL returns the stream address.
func (l *Loader) URL() string {
	return l.url
}

// State returns the current connection state.
func (l *Loader) State() State {
	return l.state
}

// Attempts returns the number of reconnects scheduled since the last open.
func (l *Loader) Attempts() int {
	return l.attempts
}

// Open creates a new connection, replacing any existing one.
func (l *Loader) Open() {
	if l.destroyed {
		return
	}
	l.manual = false
	l.stopRetry()
	l.connect()
}

// Reconnect opens a connection unless one is connecting or open. An
// explicit reconnect starts a fresh attempt budget.
func (l *Loader) Reconnect() {
	if l.destroyed || l.state == StateConnecting || l.state == StateOpen {
		return
	}
	l.attempts = 0
	l.Open()
}

// Close tears the connection down. The resulting close event has Manual set
// and never schedules a reconnect.
func (l *Loader) Close() {
	if l.destroyed {
		return
	}
	l.manual = true
	l.stopRetry()
	if l.state == StateClosed {
		return
	}

	l.setState(StateClosing)
	l.teardown(CloseNormal, "closed by client")
	l.setState(StateClosed)
	event.Emit(&l.events, EventClose, CloseEvent{
		Code:    CloseNormal,
		Reason:  "closed by client",
		Manual:  true,
		Attempt: l.attempts,
	})
}

// SendMessage sends a text message. It logs and drops the message when no
// connection is open.
func (l *Loader) SendMessage(text string) {
	if l.conn == nil || l.state != StateOpen {
		l.logger.Error("cannot send message, socket is not open", slog.String("state", l.state.String()))
		return
	}
	if err := l.conn.WriteText(text); err != nil {
		l.logger.Error("sending message failed", slog.String("error", err.Error()))
	}
}

// Destroy closes the connection silently and releases every listener and
// timer.
func (l *Loader) Destroy() {
	if l.destroyed {
		return
	}
	l.destroyed = true
	l.stopRetry()
	l.teardown(CloseNormal, "destroyed")
	l.state = StateClosed
	l.events.Clear()
}

// connect starts a dial. Results of earlier connections are discarded by
// bumping the generation.
func (l *Loader) connect() {
	l.teardown(CloseNormal, "replaced")

	gen := l.gen
	ctx, cancel := context.WithCancel(context.Background())
	l.cancelDial = cancel
	l.setState(StateConnecting)

	l.logger.Debug("connecting", slog.Int("attempt", l.attempts))
	go func() {
		conn, err := l.opts.Dialer.Dial(ctx, l.url, l.opts.Protocols)
		l.loop.Post(func() { l.onDialed(gen, conn, err) })
	}()
}

func (l *Loader) onDialed(gen uint64, conn Conn, err error) {
	if gen != l.gen || l.destroyed {
		if conn != nil {
			_ = conn.Close(CloseNormal, "stale")
		}
		return
	}
	l.cancelDial = nil
	if err != nil {
		l.onError(err)
		l.onClose(gen, CloseAbnormal, err.Error())
		return
	}

	l.conn = conn
	l.setState(StateOpen)
	l.attempts = 0
	l.startHeartbeat()
	l.logger.Info("connected")
	event.Emit(&l.events, EventOpen, struct{}{})

	go l.readLoop(gen, conn)
}

func (l *Loader) readLoop(gen uint64, conn Conn) {
	for {
		msg, err := conn.Read()
		if err != nil {
			var ce *CloseError
			if errors.As(err, &ce) {
				l.loop.Post(func() { l.onClose(gen, ce.Code, ce.Reason) })
				return
			}
			l.loop.Post(func() {
				if gen == l.gen {
					l.onError(err)
				}
				l.onClose(gen, CloseAbnormal, err.Error())
			})
			return
		}
		l.loop.Post(func() { l.onMessage(gen, msg) })
	}
}

func (l *Loader) onMessage(gen uint64, msg Message) {
	if gen != l.gen {
		return
	}
	l.opts.Metrics.AddBytesReceived(len(msg.Data))
	event.Emit(&l.events, EventMessage, msg)
}

func (l *Loader) onError(err error) {
	l.stopHeartbeat()
	l.logger.Warn("socket error", slog.String("error", err.Error()))
	event.Emit(&l.events, EventError, err)
}

func (l *Loader) onClose(gen uint64, code int, reason string) {
	if gen != l.gen || l.destroyed {
		return
	}
	l.stopHeartbeat()
	if l.conn != nil {
		_ = l.conn.Close(code, reason)
		l.conn = nil
	}
	l.gen++
	l.setState(StateClosed)

	ev := CloseEvent{Code: code, Reason: reason, Manual: l.manual}
	rc := l.opts.Reconnect
	if !l.manual && rc.Enabled && l.attempts < rc.MaxAttempts {
		l.attempts++
		ev.WillReconnect = true
		l.opts.Metrics.IncReconnectAttempts()
		l.logger.Info("connection lost, reconnecting",
			slog.Int("code", code),
			slog.Int("attempt", l.attempts),
			slog.Int("max_attempts", rc.MaxAttempts),
			slog.Duration("delay", rc.Delay))
		l.retry = l.loop.AfterFunc(rc.Delay, func() {
			l.retry = nil
			l.connect()
		})
	} else if !l.manual {
		l.logger.Warn("connection lost", slog.Int("code", code), slog.String("reason", reason), slog.Int("attempts", l.attempts))
	}
	ev.Attempt = l.attempts
	event.Emit(&l.events, EventClose, ev)
}

// teardown drops the current connection or dial without emitting events.
func (l *Loader) teardown(code int, reason string) {
	l.gen++
	l.stopHeartbeat()
	if l.cancelDial != nil {
		l.cancelDial()
		l.cancelDial = nil
	}
	if l.conn != nil {
		_ = l.conn.Close(code, reason)
		l.conn = nil
	}
}

func (l *Loader) setState(s State) {
	if l.state == s {
		return
	}
	l.state = s
	event.Emit(&l.events, EventState, s)
}

func (l *Loader) startHeartbeat() {
	hb := l.opts.Heartbeat
	if !hb.Enabled {
		return
	}
	if hb.Once {
		l.SendMessage(hb.Message)
		return
	}
	if hb.Interval <= 0 {
		return
	}
	l.heartbeat = l.loop.Every(hb.Interval, func() { l.SendMessage(hb.Message) })
}

func (l *Loader) stopHeartbeat() {
	if l.heartbeat != nil {
		l.heartbeat.Stop()
		l.heartbeat = nil
	}
}

func (l *Loader) stopRetry() {
	if l.retry != nil {
		l.retry.Stop()
		l.retry = nil
	}
}
