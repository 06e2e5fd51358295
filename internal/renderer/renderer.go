// Package renderer plays one demuxed live stream through a media source,
// keeping playback within a bounded distance of the live edge and the
// buffered media within a bounded duration.
package renderer

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/wsvideo/internal/demux"
	"github.com/jmylchreest/wsvideo/internal/event"
	"github.com/jmylchreest/wsvideo/internal/loop"
	"github.com/jmylchreest/wsvideo/internal/metrics"
	"github.com/jmylchreest/wsvideo/internal/mse"
	"github.com/jmylchreest/wsvideo/internal/observability"
)

// SeekEpsilon is how far behind the buffered end a live seek lands.
const SeekEpsilon = 0.1

var (
	// ErrUnsupportedType is reported when the platform cannot play a track.
	ErrUnsupportedType = errors.New("renderer: media type not supported")
	// ErrDestroyed is returned by operations on a destroyed renderer.
	ErrDestroyed = errors.New("renderer: destroyed")
)

// State is the renderer lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateAwaitingMetadata
	StateSourceOpen
	StatePlaying
	StatePaused
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateAwaitingMetadata:
		return "awaiting_metadata"
	case StateSourceOpen:
		return "source_open"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateDestroyed:
		return "destroyed"
	default:
		return "uninitialized"
	}
}

// Events emitted by Renderer.
var (
	EventState = event.NewKey[State]("state")
	EventError = event.NewKey[error]("error")
)

// Options tunes latency and cache control.
type Options struct {
	// LiveMaxLatency is the largest allowed gap between the buffered end and
	// the current time before playback jumps forward.
	LiveMaxLatency time.Duration
	// MaxCacheBufByte bounds each track queue while appends are deferred.
	MaxCacheBufByte int64
	// MaxCache is the buffered duration behind the current time that
	// triggers eviction.
	MaxCache       time.Duration
	SegmentSamples int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// DefaultOptions returns the standard live tuning.
func DefaultOptions() Options {
	return Options{
		LiveMaxLatency:  300 * time.Millisecond,
		MaxCacheBufByte: 200 * 1024,
		MaxCache:        10 * time.Second,
		SegmentSamples:  1,
	}
}

func (o *Options) applyDefaults() {
	def := DefaultOptions()
	if o.LiveMaxLatency <= 0 {
		o.LiveMaxLatency = def.LiveMaxLatency
	}
	if o.MaxCacheBufByte <= 0 {
		o.MaxCacheBufByte = def.MaxCacheBufByte
	}
	if o.MaxCache <= 0 {
		o.MaxCache = def.MaxCache
	}
	if o.SegmentSamples < 1 {
		o.SegmentSamples = def.SegmentSamples
	}
}

type track struct {
	id   int
	kind demux.TrackKind
	mime string
	sb   mse.SourceBuffer
	offs []func()
}

// Renderer owns a video element, its media source and the extractor feeding
// it. All methods must be called on the loop goroutine.
type Renderer struct {
	loop     loop.Loop
	platform mse.Platform
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Metrics
	events   event.Bus

	video     mse.VideoElement
	extractor *demux.Extractor
	ms        mse.MediaSource
	objectURL string
	msOffs    []func()
	tracks    []*track

	state  State
	paused bool
	fatal  bool

	frame        loop.FrameID
	framePending bool
}

// New creates a renderer waiting for stream metadata. The video element
// starts muted.
func New(lp loop.Loop, platform mse.Platform, opts Options) *Renderer {
	opts.applyDefaults()
	r := &Renderer{
		loop:     lp,
		platform: platform,
		opts:     opts,
		logger:   observability.WithComponent(observability.OrDefault(opts.Logger), "renderer"),
		metrics:  opts.Metrics,
		video:    platform.NewVideoElement(),
	}
	r.video.SetMuted(true)
	event.On(r.video.Events(), mse.EventVideoError, r.onVideoError)

	r.extractor = demux.NewExtractor(demux.ExtractorOptions{
		SegmentSamples: opts.SegmentSamples,
		MaxQueueBytes:  opts.MaxCacheBufByte,
		Logger:         opts.Logger,
		Metrics:        opts.Metrics,
	})
	r.subscribeExtractor()
	r.setState(StateAwaitingMetadata)
	return r
}

func (r *Renderer) subscribeExtractor() {
	bus := r.extractor.Events()
	event.On(bus, demux.EventReady, r.onReady)
	event.On(bus, demux.EventSegment, func(demux.Segment) { r.drain() })
	event.On(bus, demux.EventError, r.onExtractorError)
}

// Events returns the bus carrying EventState and EventError.
func (r *Renderer) Events() *event.Bus {
	return &r.events
}

// Video returns the element frames are drawn from.
func (r *Renderer) Video() mse.VideoElement {
	return r.video
}

// State returns the lifecycle state.
func (r *Renderer) State() State {
	return r.state
}

// AppendBuffer feeds a chunk of the fMP4 byte stream.
func (r *Renderer) AppendBuffer(chunk []byte) error {
	if r.state == StateDestroyed {
		return ErrDestroyed
	}
	if r.fatal {
		return nil
	}
	return r.extractor.AppendBuffer(chunk)
}

// Paused reports whether queue consumption is gated.
func (r *Renderer) Paused() bool {
	return r.paused
}

// SetPaused pauses or resumes the video element. While paused no media is
// appended and the extractor bounds the queues.
func (r *Renderer) SetPaused(paused bool) {
	if r.state == StateDestroyed || r.paused == paused {
		return
	}
	r.paused = paused
	if paused {
		r.video.Pause()
		r.cancelFrame()
		if r.state == StatePlaying {
			r.setState(StatePaused)
		}
		return
	}

	if r.state == StatePaused {
		r.play()
	}
	r.drain()
}

// Muted reports the video element mute state.
func (r *Renderer) Muted() bool {
	return r.video.Muted()
}

// SetMuted sets the video element mute state.
func (r *Renderer) SetMuted(muted bool) {
	r.video.SetMuted(muted)
}

// SeekToLive jumps to just behind the buffered end of the video track, or
// the first track when there is no video.
func (r *Renderer) SeekToLive() {
	t := r.primaryTrack()
	if t == nil || t.sb == nil {
		return
	}
	buffered := t.sb.Buffered()
	if buffered.Len() == 0 {
		return
	}
	end := buffered.End(buffered.Len() - 1)
	target := max(end-SeekEpsilon, buffered.Start(buffered.Len()-1))
	r.video.SetCurrentTime(target)
	r.metrics.IncLiveSeeks()
	r.logger.Debug("seeked to live edge", slog.Float64("time", target))
}

// ResetMimeType discards demux state and the media pipeline so the next
// stream start rebuilds both, possibly with different codecs.
func (r *Renderer) ResetMimeType() {
	if r.state == StateDestroyed {
		return
	}
	r.cancelFrame()
	r.teardownMedia()
	r.extractor.ResetMimeType()
	r.fatal = false
	r.setState(StateAwaitingMetadata)
}

// Destroy stops playback and releases the media pipeline, the extractor and
// every listener.
func (r *Renderer) Destroy() {
	if r.state == StateDestroyed {
		return
	}
	r.cancelFrame()
	r.video.Pause()
	r.teardownMedia()
	r.extractor.Destroy()
	r.setState(StateDestroyed)
	r.events.Clear()
	r.video.Events().Clear()
}

func (r *Renderer) onReady(info demux.Info) {
	if r.state != StateAwaitingMetadata {
		return
	}
	tracks := info.Tracks()
	if len(tracks) == 0 {
		r.fail(fmt.Errorf("%w: stream has no playable tracks", ErrUnsupportedType))
		return
	}

	r.tracks = r.tracks[:0]
	for _, ti := range tracks {
		mime := ti.MIME()
		if !r.platform.IsTypeSupported(mime) {
			r.fail(fmt.Errorf("%w: %s", ErrUnsupportedType, mime))
			return
		}
		r.tracks = append(r.tracks, &track{id: ti.ID, kind: ti.Kind, mime: mime})
	}

	if err := r.extractor.InitializeSegmentation(); err != nil {
		r.fail(fmt.Errorf("initializing segmentation: %w", err))
		return
	}

	r.ms = r.platform.NewMediaSource()
	r.msOffs = append(r.msOffs, event.Once(r.ms.Events(), mse.EventSourceOpen, func(struct{}) { r.onSourceOpen() }))
	r.objectURL = r.platform.CreateObjectURL(r.ms)
	r.video.SetSrc(r.objectURL)
	r.setState(StateSourceOpen)

	r.logger.Info("stream metadata received", slog.String("mime", info.MIME), slog.Int("tracks", len(tracks)))
}

func (r *Renderer) onSourceOpen() {
	if r.state != StateSourceOpen {
		return
	}
	for _, t := range r.tracks {
		sb, err := r.ms.AddSourceBuffer(t.mime)
		if err != nil {
			r.fail(fmt.Errorf("adding source buffer for %s: %w", t.mime, err))
			return
		}
		if err := sb.SetMode(mse.ModeSequence); err != nil {
			r.logger.Warn("setting sequence mode failed", slog.String("error", err.Error()))
		}
		t.sb = sb
		t.offs = append(t.offs,
			event.On(sb.Events(), mse.EventUpdateEnd, func(struct{}) { r.onUpdateEnd(t) }),
			event.On(sb.Events(), mse.EventAppendError, func(err error) {
				r.metrics.IncAppendErrors()
				r.logger.Warn("source buffer error", slog.Int("track_id", t.id), slog.String("error", err.Error()))
			}),
		)
	}

	r.extractor.Start()
	if r.paused {
		r.setState(StatePaused)
	} else {
		r.play()
	}
	r.drain()
}

func (r *Renderer) play() {
	if err := r.video.Play(); err != nil {
		r.logger.Warn("starting playback failed", slog.String("error", err.Error()))
	}
	r.setState(StatePlaying)
}

// onUpdateEnd keeps playback near the live edge and bounds the buffered
// duration, then appends whatever queued up meanwhile.
func (r *Renderer) onUpdateEnd(t *track) {
	if r.state == StateDestroyed || t.sb == nil {
		return
	}
	sb := t.sb
	buffered := sb.Buffered()
	n := buffered.Len()
	if n == 0 {
		r.drain()
		return
	}
	ct := r.video.CurrentTime()

	lastStart := buffered.Start(n - 1)
	if n > 1 {
		if ct < lastStart {
			r.video.SetCurrentTime(lastStart)
			ct = lastStart
			r.metrics.IncLiveSeeks()
		}
		if !sb.Updating() {
			if err := sb.Remove(0, lastStart); err != nil {
				r.logger.Debug("removing stale ranges failed", slog.String("error", err.Error()))
			} else {
				r.logger.Debug("removed stale ranges", slog.Int("track_id", t.id), slog.String("buffered", buffered.String()))
			}
		}
	}

	if t.kind == demux.KindVideo {
		end := buffered.End(n - 1)
		if ct == 0 {
			r.video.SetCurrentTime(lastStart)
			ct = lastStart
		}
		latency := end - ct
		r.metrics.ObserveLatency(latency)
		if latency > r.opts.LiveMaxLatency.Seconds() {
			ct = end - SeekEpsilon
			r.video.SetCurrentTime(ct)
			r.metrics.IncLiveSeeks()
		}
	}

	maxCache := r.opts.MaxCache.Seconds()
	if ct-buffered.Start(0) > maxCache && !sb.Updating() {
		if err := sb.Remove(0, ct-maxCache/2); err != nil {
			r.logger.Debug("evicting cache failed", slog.String("error", err.Error()))
		} else {
			r.metrics.IncCacheRemovals()
		}
	}

	r.drain()
}

// drain appends every non-empty queue whose source buffer is idle and
// schedules a retry on the next frame for the rest.
func (r *Renderer) drain() {
	if r.paused || r.state == StateDestroyed || r.fatal {
		return
	}
	retry := false
	for _, t := range r.tracks {
		q := r.extractor.Queue(t.id)
		if q == nil || q.Len() == 0 {
			continue
		}
		if t.sb == nil || t.sb.Updating() {
			retry = true
			continue
		}
		data := q.Drain()
		if err := t.sb.AppendBuffer(data); err != nil {
			r.metrics.IncAppendErrors()
			r.logger.Warn("append failed", slog.Int("track_id", t.id), slog.Int("bytes", len(data)), slog.String("error", err.Error()))
			continue
		}
		r.metrics.IncSegmentsAppended(string(t.kind))
	}
	if retry {
		r.requestFrame()
	}
}

func (r *Renderer) requestFrame() {
	if r.framePending {
		return
	}
	r.framePending = true
	r.frame = r.loop.RequestFrame(func(time.Time) {
		r.framePending = false
		r.drain()
	})
}

func (r *Renderer) cancelFrame() {
	if r.framePending {
		r.loop.CancelFrame(r.frame)
		r.framePending = false
	}
}

// teardownMedia revokes the object URL, aborts and removes every source
// buffer, ends the media source and detaches the video element.
func (r *Renderer) teardownMedia() {
	if r.objectURL != "" {
		r.platform.RevokeObjectURL(r.objectURL)
		r.objectURL = ""
	}
	for _, t := range r.tracks {
		for _, off := range t.offs {
			off()
		}
		if t.sb != nil && r.ms != nil {
			_ = t.sb.Abort()
			if err := r.ms.RemoveSourceBuffer(t.sb); err != nil {
				r.logger.Debug("removing source buffer failed", slog.String("error", err.Error()))
			}
		}
		t.sb = nil
	}
	r.tracks = nil
	if r.ms != nil && r.ms.ReadyState() == mse.SourceOpen {
		if err := r.ms.EndOfStream(); err != nil {
			r.logger.Debug("ending media source failed", slog.String("error", err.Error()))
		}
	}
	for _, off := range r.msOffs {
		off()
	}
	r.msOffs = nil
	r.ms = nil
	if r.video.Src() != "" {
		r.video.SetSrc("")
	}
}

func (r *Renderer) onExtractorError(err error) {
	if errors.Is(err, demux.ErrNotFragmented) {
		r.fatal = true
	}
	event.Emit(&r.events, EventError, err)
}

// onVideoError only logs: recovery is left to an explicit refresh.
func (r *Renderer) onVideoError(err error) {
	r.logger.Error("video element error", slog.String("error", err.Error()))
	event.Emit(&r.events, EventError, err)
}

func (r *Renderer) fail(err error) {
	r.fatal = true
	r.extractor.Halt()
	r.logger.Error("stream cannot be played", slog.String("error", err.Error()))
	event.Emit(&r.events, EventError, err)
}

func (r *Renderer) primaryTrack() *track {
	for _, t := range r.tracks {
		if t.kind == demux.KindVideo {
			return t
		}
	}
	if len(r.tracks) > 0 {
		return r.tracks[0]
	}
	return nil
}

func (r *Renderer) setState(s State) {
	if r.state == s {
		return
	}
	r.state = s
	event.Emit(&r.events, EventState, s)
}
