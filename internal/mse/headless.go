package mse

import (
	"fmt"
	"image"
	"log/slog"
	"mime"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/jmylchreest/wsvideo/internal/event"
	"github.com/jmylchreest/wsvideo/internal/loop"
	"github.com/jmylchreest/wsvideo/internal/observability"
)

// objectURLPrefix is the scheme of URLs handed out by CreateObjectURL.
const objectURLPrefix = "blob:wsvideo/"

// supportedCodecs lists codecs parameter prefixes Headless accepts.
var supportedCodecs = []string{"avc1", "avc3", "hvc1", "hev1", "av01", "vp09", "mp4a", "opus", "ac-3", "ec-3", "flac"}

// FrameFunc renders the picture shown at media time t.
type FrameFunc func(width, height int, t float64) image.Image

// HeadlessOptions configures Headless.
type HeadlessOptions struct {
	Logger *slog.Logger
	// FrameFunc supplies video frames. When nil a solid placeholder sized to
	// the video is returned.
	FrameFunc FrameFunc
}

// Headless is a Platform that runs without a browser. Media is parsed only
// for its timing; nothing is decoded. All methods must be called on the loop
// goroutine.
type Headless struct {
	loop   loop.Loop
	opts   HeadlessOptions
	logger *slog.Logger
	urls   map[string]*HeadlessMediaSource
}

var _ Platform = (*Headless)(nil)

// NewHeadless creates a headless platform on lp.
func NewHeadless(lp loop.Loop, opts HeadlessOptions) *Headless {
	return &Headless{
		loop:   lp,
		opts:   opts,
		logger: observability.WithComponent(observability.OrDefault(opts.Logger), "mse"),
		urls:   make(map[string]*HeadlessMediaSource),
	}
}

// NewVideoElement implements Platform.
func (h *Headless) NewVideoElement() VideoElement {
	return &HeadlessVideo{platform: h, paused: true}
}

// NewMediaSource implements Platform.
func (h *Headless) NewMediaSource() MediaSource {
	return &HeadlessMediaSource{platform: h, state: SourceClosed}
}

// CreateObjectURL implements Platform. ms must come from this platform.
func (h *Headless) CreateObjectURL(ms MediaSource) string {
	hms, ok := ms.(*HeadlessMediaSource)
	if !ok {
		return ""
	}
	url := objectURLPrefix + uuid.NewString()
	h.urls[url] = hms
	return url
}

// RevokeObjectURL implements Platform.
func (h *Headless) RevokeObjectURL(url string) {
	delete(h.urls, url)
}

// ObjectURLs returns the number of unrevoked object URLs.
func (h *Headless) ObjectURLs() int {
	return len(h.urls)
}

// IsTypeSupported implements Platform. It accepts MP4 audio and video types
// whose codecs are all known.
func (h *Headless) IsTypeSupported(mimeType string) bool {
	return IsTypeSupported(mimeType)
}

// IsTypeSupported reports whether a `video/mp4; codecs="..."` style type
// names only codecs Headless accepts.
func IsTypeSupported(mimeType string) bool {
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return false
	}
	if mediaType != "video/mp4" && mediaType != "audio/mp4" {
		return false
	}
	codecs, ok := params["codecs"]
	if !ok {
		return true
	}
	for _, c := range strings.Split(codecs, ",") {
		c = strings.TrimSpace(c)
		prefix, _, _ := strings.Cut(c, ".")
		if !slices.Contains(supportedCodecs, prefix) {
			return false
		}
	}
	return true
}

// HeadlessMediaSource implements MediaSource.
type HeadlessMediaSource struct {
	platform *Headless
	events   event.Bus
	state    SourceState
	buffers  []*HeadlessSourceBuffer
	video    *HeadlessVideo
}

var _ MediaSource = (*HeadlessMediaSource)(nil)

// ReadyState implements MediaSource.
func (ms *HeadlessMediaSource) ReadyState() SourceState {
	return ms.state
}

// Events implements MediaSource.
func (ms *HeadlessMediaSource) Events() *event.Bus {
	return &ms.events
}

// AddSourceBuffer implements MediaSource.
func (ms *HeadlessMediaSource) AddSourceBuffer(mimeType string) (SourceBuffer, error) {
	if !IsTypeSupported(mimeType) {
		return nil, fmt.Errorf("%w: %s", ErrNotSupported, mimeType)
	}
	if ms.state != SourceOpen {
		return nil, fmt.Errorf("%w: media source is %s", ErrInvalidState, ms.state)
	}
	sb := &HeadlessSourceBuffer{
		source:     ms,
		mime:       mimeType,
		mode:       ModeSegments,
		timeScales: make(map[int]uint32),
		logger:     ms.platform.logger,
	}
	ms.buffers = append(ms.buffers, sb)
	return sb, nil
}

// RemoveSourceBuffer implements MediaSource.
func (ms *HeadlessMediaSource) RemoveSourceBuffer(sb SourceBuffer) error {
	for i, b := range ms.buffers {
		if SourceBuffer(b) != sb {
			continue
		}
		if b.updating {
			_ = b.Abort()
		}
		b.removed = true
		ms.buffers = slices.Delete(ms.buffers, i, i+1)
		if ms.video != nil {
			ms.video.rebase()
		}
		return nil
	}
	return ErrNotFound
}

// SourceBuffers implements MediaSource.
func (ms *HeadlessMediaSource) SourceBuffers() []SourceBuffer {
	out := make([]SourceBuffer, len(ms.buffers))
	for i, b := range ms.buffers {
		out[i] = b
	}
	return out
}

// EndOfStream implements MediaSource.
func (ms *HeadlessMediaSource) EndOfStream() error {
	if ms.state != SourceOpen {
		return fmt.Errorf("%w: media source is %s", ErrInvalidState, ms.state)
	}
	for _, b := range ms.buffers {
		if b.updating {
			return fmt.Errorf("%w: source buffer is updating", ErrInvalidState)
		}
	}
	ms.state = SourceEnded
	ms.platform.loop.Post(func() { event.Emit(&ms.events, EventSourceEnded, struct{}{}) })
	return nil
}

// buffered is the intersection of every source buffer's ranges.
func (ms *HeadlessMediaSource) buffered() TimeRanges {
	if len(ms.buffers) == 0 {
		return nil
	}
	out := ms.buffers[0].buffered
	for _, b := range ms.buffers[1:] {
		out = out.Intersect(b.buffered)
	}
	return out
}

func (ms *HeadlessMediaSource) attach(v *HeadlessVideo) {
	ms.video = v
	ms.platform.loop.Post(func() {
		if ms.video != v || ms.state != SourceClosed {
			return
		}
		ms.state = SourceOpen
		event.Emit(&ms.events, EventSourceOpen, struct{}{})
	})
}

func (ms *HeadlessMediaSource) detach() {
	ms.video = nil
	for _, b := range ms.buffers {
		b.removed = true
	}
	ms.buffers = nil
	if ms.state == SourceClosed {
		return
	}
	ms.state = SourceClosed
	ms.platform.loop.Post(func() { event.Emit(&ms.events, EventSourceClose, struct{}{}) })
}
