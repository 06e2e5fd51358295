package player

import (
	"context"
	"errors"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/wsvideo/internal/canvas"
	"github.com/jmylchreest/wsvideo/internal/event"
	"github.com/jmylchreest/wsvideo/internal/loop"
	"github.com/jmylchreest/wsvideo/internal/metrics"
	"github.com/jmylchreest/wsvideo/internal/observability"
	"github.com/jmylchreest/wsvideo/internal/renderer"
	"github.com/jmylchreest/wsvideo/internal/testutil"
	"github.com/jmylchreest/wsvideo/internal/transport"
)

const wait = 2 * time.Second

var videoOnly = testutil.StreamOptions{Video: true, Fragments: 10, SamplesPerFragment: 3}

type fakeConn struct {
	in   chan transport.Message
	done chan error
	once sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan transport.Message, 64), done: make(chan error, 1)}
}

func (c *fakeConn) Read() (transport.Message, error) {
	select {
	case m := <-c.in:
		return m, nil
	case err := <-c.done:
		return transport.Message{}, err
	}
}

func (c *fakeConn) WriteText(string) error { return nil }

func (c *fakeConn) Close(int, string) error {
	c.once.Do(func() { c.done <- errors.New("use of closed connection") })
	return nil
}

func (c *fakeConn) send(chunks [][]byte) {
	for _, b := range chunks {
		c.in <- transport.Message{Binary: true, Data: b}
	}
}

func (c *fakeConn) drop() {
	c.once.Do(func() { c.done <- &transport.CloseError{Code: transport.CloseAbnormal, Reason: "gone"} })
}

// fakeDialer hands out a fresh connection per dial and remembers them by URL.
type fakeDialer struct {
	mu    sync.Mutex
	conns map[string][]*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, url string, _ []string) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conns == nil {
		d.conns = make(map[string][]*fakeConn)
	}
	c := newFakeConn()
	d.conns[url] = append(d.conns[url], c)
	return c, nil
}

func (d *fakeDialer) conn(url string, i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns[url]) {
		return nil
	}
	return d.conns[url][i]
}

func (d *fakeDialer) dials(url string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns[url])
}

func newTestManager(t *testing.T, limit int) (*Manager, *loop.Manual, *fakeDialer) {
	t.Helper()
	m := loop.NewManual(time.Time{})
	d := &fakeDialer{}
	opts := DefaultOptions()
	opts.ConnectLimit = limit
	opts.Logger = observability.Discard()
	opts.Metrics = metrics.New()
	opts.Transport.Dialer = d
	mgr := New(m, opts)
	t.Cleanup(mgr.Destroy)
	return mgr, m, d
}

func TestManager_ConnectLimit(t *testing.T) {
	mgr, _, _ := newTestManager(t, 1)
	var rejected []CapacityExceeded
	event.On(mgr.Events(), EventCapacityExceeded, func(ev CapacityExceeded) { rejected = append(rejected, ev) })

	a, b, c := canvas.NewSurface(8, 8), canvas.NewSurface(8, 8), canvas.NewSurface(8, 8)
	require.NoError(t, mgr.AddCanvas(a, "ws://x/live", nil))

	err := mgr.AddCanvas(b, "ws://y/live", nil)
	assert.ErrorIs(t, err, ErrConnectLimit)
	assert.False(t, mgr.HasCanvas(b))
	assert.Equal(t, []CapacityExceeded{{URL: "ws://y/live", Limit: 1}}, rejected)
	assert.Equal(t, []string{"ws://x/live"}, mgr.LinkedURLs())

	require.NoError(t, mgr.AddCanvas(c, "ws://x/live", nil), "sharing a stream does not count against the limit")
	assert.Equal(t, 1, mgr.ConnectLimit())
}

func TestManager_CanvasRegisteredOnce(t *testing.T) {
	mgr, _, _ := newTestManager(t, 4)
	a := canvas.NewSurface(8, 8)
	require.NoError(t, mgr.AddCanvas(a, "ws://x/live", nil))
	assert.ErrorIs(t, mgr.AddCanvas(a, "ws://x/live", nil), ErrCanvasRegistered)
	assert.ErrorIs(t, mgr.AddCanvas(a, "ws://y/live", nil), ErrCanvasRegistered)
	assert.Len(t, mgr.LinkedURLs(), 1)
}

func TestManager_SharedStreamClosesWithLastCanvas(t *testing.T) {
	mgr, m, d := newTestManager(t, 4)
	a, b := canvas.NewSurface(8, 8), canvas.NewSurface(8, 8)
	const url = "ws://x/live"

	require.NoError(t, mgr.AddCanvas(a, url, nil))
	require.NoError(t, mgr.AddCanvas(b, url, nil))
	require.True(t, m.Await(wait, func() bool { return d.dials(url) == 1 }))
	assert.Equal(t, 1, m.PendingFrames())

	stats := mgr.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].Canvases)
	assert.NotEmpty(t, stats[0].ID)

	assert.True(t, mgr.RemoveCanvas(a))
	assert.Equal(t, []string{url}, mgr.LinkedURLs())

	var closes []StreamClose
	event.On(mgr.Events(), EventStreamClose, func(ev StreamClose) { closes = append(closes, ev) })
	assert.True(t, mgr.RemoveCanvas(b))
	assert.False(t, mgr.RemoveCanvas(b))
	assert.Empty(t, mgr.LinkedURLs())
	assert.Zero(t, m.PendingFrames())
	require.Len(t, closes, 1)
	assert.True(t, closes[0].Manual)
}

func TestManager_PlayOneAudio(t *testing.T) {
	mgr, _, _ := newTestManager(t, 4)
	urls := []string{"ws://a/live", "ws://b/live", "ws://c/live"}
	for _, u := range urls {
		require.NoError(t, mgr.AddCanvas(canvas.NewSurface(8, 8), u, nil))
	}

	for _, s := range mgr.Stats() {
		assert.True(t, s.Render.Muted, "%s starts muted", s.URL)
	}

	mgr.PlayOneAudio(urls[1])
	muted := map[string]bool{}
	for _, s := range mgr.Stats() {
		muted[s.URL] = s.Render.Muted
	}
	assert.Equal(t, map[string]bool{urls[0]: true, urls[1]: false, urls[2]: true}, muted)

	mgr.SetAllMuted(false)
	for _, s := range mgr.Stats() {
		assert.False(t, s.Render.Muted)
	}
	assert.True(t, mgr.SetMuted(urls[2], true))
	assert.False(t, mgr.SetMuted("ws://missing/live", true))
}

func TestManager_PlayOneVideo(t *testing.T) {
	mgr, _, _ := newTestManager(t, 4)
	urls := []string{"ws://a/live", "ws://b/live"}
	for _, u := range urls {
		require.NoError(t, mgr.AddCanvas(canvas.NewSurface(8, 8), u, nil))
	}

	mgr.PlayOneVideo(urls[0])
	stats := mgr.Stats()
	assert.False(t, stats[0].Render.Paused)
	assert.True(t, stats[1].Render.Paused)

	mgr.SetAllPaused(false)
	for _, s := range mgr.Stats() {
		assert.False(t, s.Render.Paused)
	}
	assert.True(t, mgr.SetPaused(urls[1], true))
	assert.True(t, mgr.Stats()[1].Render.Paused)
}

func TestManager_DrawsStreamFrames(t *testing.T) {
	mgr, m, d := newTestManager(t, 4)
	surface := canvas.NewSurface(16, 9)
	const url = "ws://x/live"
	var states []renderer.State
	event.On(mgr.Events(), EventStreamState, func(ev StreamState) { states = append(states, ev.State) })

	require.NoError(t, mgr.AddCanvas(surface, url, nil))
	require.True(t, m.Await(wait, func() bool { return d.conn(url, 0) != nil }))
	d.conn(url, 0).send(testutil.Chunks(testutil.Stream(videoOnly), 700))

	require.True(t, m.Await(wait, func() bool {
		m.Frame()
		return surface.Pixels().RGBAAt(8, 4) == color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff}
	}))
	assert.Contains(t, states, renderer.StatePlaying)
}

func TestManager_PausedStreamIsNotDrawn(t *testing.T) {
	mgr, m, d := newTestManager(t, 4)
	surface := canvas.NewSurface(16, 9)
	const url = "ws://x/live"

	require.NoError(t, mgr.AddCanvas(surface, url, nil))
	mgr.SetPaused(url, true)
	require.True(t, m.Await(wait, func() bool { return d.conn(url, 0) != nil }))
	d.conn(url, 0).send(testutil.Chunks(testutil.Stream(videoOnly), 700))
	require.True(t, m.Await(wait, func() bool {
		return mgr.Stats()[0].Render.State == renderer.StatePlaying.String() ||
			mgr.Stats()[0].Render.State == renderer.StatePaused.String()
	}))
	m.Flush()
	m.Frame()
	m.Frame()

	assert.Equal(t, color.RGBA{}, surface.Pixels().RGBAAt(8, 4))
}

func TestManager_ReparseOnReconnect(t *testing.T) {
	mgr, m, d := newTestManager(t, 4)
	const url = "ws://x/live"
	var closes []StreamClose
	event.On(mgr.Events(), EventStreamClose, func(ev StreamClose) { closes = append(closes, ev) })

	require.NoError(t, mgr.AddCanvas(canvas.NewSurface(8, 8), url, nil))
	require.True(t, m.Await(wait, func() bool { return d.conn(url, 0) != nil }))
	d.conn(url, 0).send([][]byte{testutil.InitSegment(true, false)})
	require.True(t, m.Await(wait, func() bool {
		return mgr.Stats()[0].Render.State == renderer.StatePlaying.String()
	}))

	d.conn(url, 0).drop()
	require.True(t, m.Await(wait, func() bool { return len(closes) == 1 }))
	assert.False(t, closes[0].Manual)
	assert.True(t, closes[0].WillReconnect)
	assert.Equal(t, renderer.StateAwaitingMetadata.String(), mgr.Stats()[0].Render.State)
}

func TestManager_Refresh(t *testing.T) {
	mgr, m, d := newTestManager(t, 4)
	const url = "ws://x/live"
	require.NoError(t, mgr.AddCanvas(canvas.NewSurface(8, 8), url, nil))
	require.True(t, m.Await(wait, func() bool { return d.conn(url, 0) != nil }))
	require.True(t, m.Await(wait, func() bool { return mgr.Stats()[0].Transport == "open" }))

	mgr.Refresh()
	m.Flush()
	assert.Equal(t, 1, d.dials(url), "refresh leaves an open connection alone")

	mgr.Refresh("ws://missing/live")
	assert.Equal(t, 1, d.dials(url))
}

func TestManager_Destroy(t *testing.T) {
	mgr, m, d := newTestManager(t, 4)
	for _, u := range []string{"ws://a/live", "ws://b/live"} {
		require.NoError(t, mgr.AddCanvas(canvas.NewSurface(8, 8), u, nil))
	}
	require.True(t, m.Await(wait, func() bool { return d.dials("ws://a/live") == 1 && d.dials("ws://b/live") == 1 }))

	mgr.Destroy()
	m.Flush()
	assert.Empty(t, mgr.LinkedURLs())
	assert.Empty(t, mgr.Stats())
	assert.Zero(t, m.PendingFrames())
	assert.Zero(t, m.PendingTimers())
	assert.Zero(t, mgr.Events().Len())
	assert.ErrorIs(t, mgr.AddCanvas(canvas.NewSurface(8, 8), "ws://a/live", nil), ErrDestroyed)

	mgr.Destroy()
}

func TestManager_RealWebSocket(t *testing.T) {
	chunks := testutil.Chunks(testutil.Stream(videoOnly), 1024)
	var srv *testutil.WSServer
	srv = testutil.NewWSServer(t, func(conn *websocket.Conn) { srv.StreamHandler(chunks)(conn) })

	lp := loop.New(loop.WithFrameInterval(5 * time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = lp.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-lp.Done()
	})

	opts := DefaultOptions()
	opts.Logger = observability.Discard()
	opts.Transport.Protocols = []string{"fmp4"}
	mgr := New(lp, opts)
	surface := canvas.NewSurface(32, 18)
	var addErr error
	require.NoError(t, mgr.Call(ctx, func(m *Manager) {
		addErr = m.AddCanvas(surface, srv.URL("/live"), nil)
	}))
	require.NoError(t, addErr)

	require.Eventually(t, func() bool {
		return surface.Snapshot().RGBAAt(16, 9) == color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff}
	}, 5*time.Second, 10*time.Millisecond)

	var stats []StreamStats
	require.NoError(t, mgr.Call(ctx, func(m *Manager) { stats = m.Stats() }))
	require.Len(t, stats, 1)
	assert.Equal(t, testutil.VideoWidth, stats[0].Render.Width)
	assert.Equal(t, []string{"fmp4"}, srv.Protocols())

	require.NoError(t, mgr.Call(ctx, func(m *Manager) { m.Destroy() }))
}

func TestDefaultConnectLimit(t *testing.T) {
	assert.Positive(t, DefaultConnectLimit())
}
