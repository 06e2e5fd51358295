// Package player shares live stream connections between canvases. Each
// stream URL gets one transport, one renderer and any number of canvas
// drawers, all redrawn from a single frame loop.
package player

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/wsvideo/internal/canvas"
	"github.com/jmylchreest/wsvideo/internal/config"
	"github.com/jmylchreest/wsvideo/internal/event"
	"github.com/jmylchreest/wsvideo/internal/loop"
	"github.com/jmylchreest/wsvideo/internal/metrics"
	"github.com/jmylchreest/wsvideo/internal/mse"
	"github.com/jmylchreest/wsvideo/internal/observability"
	"github.com/jmylchreest/wsvideo/internal/renderer"
	"github.com/jmylchreest/wsvideo/internal/transport"
)

var (
	// ErrCanvasRegistered is returned when a canvas is already attached to
	// any stream.
	ErrCanvasRegistered = errors.New("player: canvas already registered")
	// ErrConnectLimit is returned when a new stream would exceed the
	// connection limit.
	ErrConnectLimit = errors.New("player: connection limit reached")
	// ErrDestroyed is returned by a destroyed manager.
	ErrDestroyed = errors.New("player: manager destroyed")
)

// CapacityExceeded is emitted when AddCanvas is refused by the limit.
type CapacityExceeded struct {
	URL   string
	Limit int
}

// StreamState reports a renderer state change.
type StreamState struct {
	URL   string
	State renderer.State
}

// StreamClose reports a closed stream connection.
type StreamClose struct {
	URL string
	transport.CloseEvent
}

// StreamError reports a transport or media error.
type StreamError struct {
	URL string
	Err error
}

// Events emitted by Manager.
var (
	EventCapacityExceeded = event.NewKey[CapacityExceeded]("capacity-exceeded")
	EventStreamState      = event.NewKey[StreamState]("stream-state")
	EventStreamClose      = event.NewKey[StreamClose]("stream-close")
	EventStreamError      = event.NewKey[StreamError]("stream-error")
)

// DefaultConnectLimit returns the connection limit for this platform.
func DefaultConnectLimit() int {
	return config.DefaultConnectLimit(runtime.GOOS)
}

// Options configures a Manager.
type Options struct {
	// ConnectLimit caps concurrent streams. Zero selects DefaultConnectLimit.
	ConnectLimit int
	// ReparseMimeOnReconnect resets demux state whenever a connection
	// closes so a new connection may carry different codecs.
	ReparseMimeOnReconnect bool
	UseWebGL               bool
	Transport              transport.Options
	// Render is used for streams added without their own options.
	Render renderer.Options

	// Platform defaults to a headless platform on the manager's loop.
	Platform mse.Platform
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// DefaultOptions returns the standard configuration.
func DefaultOptions() Options {
	return Options{
		ReparseMimeOnReconnect: true,
		Transport:              transport.DefaultOptions(),
		Render:                 renderer.DefaultOptions(),
	}
}

type stream struct {
	id       string
	url      string
	logger   *slog.Logger
	loader   *transport.Loader
	renderer *renderer.Renderer
	drawers  map[canvas.Canvas]canvas.Drawer
	order    []canvas.Canvas
}

// Manager is the stream registry. All methods except Call must run on the
// manager's loop goroutine.
type Manager struct {
	loop     loop.Loop
	opts     Options
	platform mse.Platform
	logger   *slog.Logger
	metrics  *metrics.Metrics
	events   event.Bus

	streams map[string]*stream
	urls    []string

	frame        loop.FrameID
	framePending bool
	destroyed    bool
}

// New creates a Manager on lp.
func New(lp loop.Loop, opts Options) *Manager {
	if opts.ConnectLimit <= 0 {
		opts.ConnectLimit = DefaultConnectLimit()
	}
	logger := observability.WithComponent(observability.OrDefault(opts.Logger), "player")
	platform := opts.Platform
	if platform == nil {
		platform = mse.NewHeadless(lp, mse.HeadlessOptions{Logger: opts.Logger})
	}
	return &Manager{
		loop:     lp,
		opts:     opts,
		platform: platform,
		logger:   logger,
		metrics:  opts.Metrics,
		streams:  make(map[string]*stream),
	}
}

// Events returns the bus carrying the manager events.
func (m *Manager) Events() *event.Bus {
	return &m.events
}

// Loop returns the loop the manager runs on.
func (m *Manager) Loop() loop.Loop {
	return m.loop
}

// Call runs fn on the manager's loop and waits for it to finish. On a loop
// without synchronous calls, such as loop.Manual, fn runs directly.
func (m *Manager) Call(ctx context.Context, fn func(*Manager)) error {
	if c, ok := m.loop.(interface {
		Call(context.Context, func()) error
	}); ok {
		return c.Call(ctx, func() { fn(m) })
	}
	fn(m)
	return nil
}

// ConnectLimit returns the maximum number of concurrent streams.
func (m *Manager) ConnectLimit() int {
	return m.opts.ConnectLimit
}

// LinkedURLs returns the URLs with an active stream, oldest first.
func (m *Manager) LinkedURLs() []string {
	return slices.Clone(m.urls)
}

// HasCanvas reports whether c is attached to any stream.
func (m *Manager) HasCanvas(c canvas.Canvas) bool {
	return m.findCanvas(c) != nil
}

// AddCanvas attaches c to the stream at url, connecting on first use. Passing
// nil opts uses the manager's render options for a new stream; opts are
// ignored when the stream already exists.
func (m *Manager) AddCanvas(c canvas.Canvas, url string, opts *renderer.Options) error {
	if m.destroyed {
		return ErrDestroyed
	}
	if m.HasCanvas(c) {
		return ErrCanvasRegistered
	}

	s, ok := m.streams[url]
	if !ok {
		if len(m.streams) >= m.opts.ConnectLimit {
			m.metrics.IncCapacityRejections()
			m.logger.Warn("connection limit reached, canvas not added",
				slog.String("url", url), slog.Int("limit", m.opts.ConnectLimit))
			event.Emit(&m.events, EventCapacityExceeded, CapacityExceeded{URL: url, Limit: m.opts.ConnectLimit})
			return ErrConnectLimit
		}
		s = m.openStream(url, opts)
	}

	s.drawers[c] = canvas.New(c, m.opts.UseWebGL)
	s.order = append(s.order, c)
	m.updateGauges()
	m.startFrameLoop()
	return nil
}

// RemoveCanvas detaches c. Removing the last canvas of a stream closes it.
// It reports whether c was attached.
func (m *Manager) RemoveCanvas(c canvas.Canvas) bool {
	s := m.findCanvas(c)
	if s == nil {
		return false
	}
	s.drawers[c].Destroy()
	delete(s.drawers, c)
	s.order = slices.DeleteFunc(s.order, func(x canvas.Canvas) bool { return x == c })

	if len(s.drawers) == 0 {
		m.closeStream(s)
	}
	m.updateGauges()
	return true
}

// SetAllMuted mutes or unmutes every stream.
func (m *Manager) SetAllMuted(muted bool) {
	for _, s := range m.ordered() {
		s.renderer.SetMuted(muted)
	}
}

// SetMuted sets the mute state of one stream and reports whether it exists.
func (m *Manager) SetMuted(url string, muted bool) bool {
	s, ok := m.streams[url]
	if ok {
		s.renderer.SetMuted(muted)
	}
	return ok
}

// PlayOneAudio unmutes url and mutes every other stream.
func (m *Manager) PlayOneAudio(url string) {
	for _, s := range m.ordered() {
		s.renderer.SetMuted(s.url != url)
	}
}

// SetPaused pauses or resumes one stream and reports whether it exists.
func (m *Manager) SetPaused(url string, paused bool) bool {
	s, ok := m.streams[url]
	if ok {
		s.renderer.SetPaused(paused)
	}
	return ok
}

// SetAllPaused pauses or resumes every stream.
func (m *Manager) SetAllPaused(paused bool) {
	for _, s := range m.ordered() {
		s.renderer.SetPaused(paused)
	}
}

// PlayOneVideo resumes url and pauses every other stream.
func (m *Manager) PlayOneVideo(url string) {
	for _, s := range m.ordered() {
		s.renderer.SetPaused(s.url != url)
	}
}

// Refresh seeks the given streams, or all streams, to the live edge and
// reconnects those that are not connected.
func (m *Manager) Refresh(urls ...string) {
	targets := m.ordered()
	if len(urls) > 0 {
		targets = targets[:0]
		for _, u := range urls {
			if s, ok := m.streams[u]; ok {
				targets = append(targets, s)
			}
		}
	}
	for _, s := range targets {
		s.renderer.SeekToLive()
		s.loader.Reconnect()
	}
}

// Destroy closes every stream and releases the frame loop and listeners.
func (m *Manager) Destroy() {
	if m.destroyed {
		return
	}
	for _, s := range m.ordered() {
		for _, d := range s.drawers {
			d.Destroy()
		}
		m.closeStream(s)
	}
	m.cancelFrameLoop()
	m.updateGauges()
	m.events.Clear()
	m.destroyed = true
}

func (m *Manager) openStream(url string, ro *renderer.Options) *stream {
	id := uuid.NewString()
	logger := observability.WithStream(observability.OrDefault(m.opts.Logger), id, url)

	rOpts := m.opts.Render
	if ro != nil {
		rOpts = *ro
	}
	rOpts.Logger = logger
	rOpts.Metrics = m.metrics

	tOpts := m.opts.Transport
	tOpts.Logger = logger
	tOpts.Metrics = m.metrics

	s := &stream{
		id:       id,
		url:      url,
		logger:   observability.WithComponent(logger, "player"),
		loader:   transport.New(m.loop, url, tOpts),
		renderer: renderer.New(m.loop, m.platform, rOpts),
		drawers:  make(map[canvas.Canvas]canvas.Drawer),
	}

	event.On(s.loader.Events(), transport.EventMessage, func(msg transport.Message) {
		if !msg.Binary {
			s.logger.Debug("ignoring text message", slog.Int("bytes", len(msg.Data)))
			return
		}
		if err := s.renderer.AppendBuffer(msg.Data); err != nil {
			s.logger.Warn("feeding stream data failed", slog.String("error", err.Error()))
		}
	})
	event.On(s.loader.Events(), transport.EventClose, func(ev transport.CloseEvent) {
		if !ev.Manual && m.opts.ReparseMimeOnReconnect {
			s.renderer.ResetMimeType()
		}
		event.Emit(&m.events, EventStreamClose, StreamClose{URL: url, CloseEvent: ev})
	})
	event.On(s.loader.Events(), transport.EventError, func(err error) {
		event.Emit(&m.events, EventStreamError, StreamError{URL: url, Err: err})
	})
	event.On(s.renderer.Events(), renderer.EventState, func(st renderer.State) {
		event.Emit(&m.events, EventStreamState, StreamState{URL: url, State: st})
	})
	event.On(s.renderer.Events(), renderer.EventError, func(err error) {
		event.Emit(&m.events, EventStreamError, StreamError{URL: url, Err: err})
	})

	m.streams[url] = s
	m.urls = append(m.urls, url)
	s.logger.Info("stream opened")
	s.loader.Open()
	return s
}

func (m *Manager) closeStream(s *stream) {
	s.loader.Close()
	s.loader.Destroy()
	s.renderer.Destroy()
	s.drawers = nil
	s.order = nil

	delete(m.streams, s.url)
	m.urls = slices.DeleteFunc(m.urls, func(u string) bool { return u == s.url })
	s.logger.Info("stream closed")

	if len(m.streams) == 0 {
		m.cancelFrameLoop()
	}
}

func (m *Manager) findCanvas(c canvas.Canvas) *stream {
	for _, s := range m.ordered() {
		if _, ok := s.drawers[c]; ok {
			return s
		}
	}
	return nil
}

func (m *Manager) ordered() []*stream {
	out := make([]*stream, 0, len(m.urls))
	for _, u := range m.urls {
		out = append(out, m.streams[u])
	}
	return out
}

func (m *Manager) startFrameLoop() {
	if m.framePending || len(m.streams) == 0 {
		return
	}
	m.framePending = true
	m.frame = m.loop.RequestFrame(m.tick)
}

func (m *Manager) cancelFrameLoop() {
	if m.framePending {
		m.loop.CancelFrame(m.frame)
		m.framePending = false
	}
}

// tick draws every canvas of every playing stream, then schedules itself.
func (m *Manager) tick(time.Time) {
	m.framePending = false
	for _, s := range m.ordered() {
		if s.renderer.Paused() || len(s.order) == 0 {
			continue
		}
		video := s.renderer.Video()
		for _, c := range s.order {
			if s.drawers[c].Draw(video) {
				m.metrics.IncFramesDrawn()
			}
		}
	}
	m.startFrameLoop()
}

func (m *Manager) updateGauges() {
	canvases := 0
	for _, s := range m.streams {
		canvases += len(s.drawers)
	}
	m.metrics.SetActiveStreams(len(m.streams))
	m.metrics.SetActiveCanvases(canvases)
}
