package mse

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"github.com/jmylchreest/wsvideo/internal/event"
)

// enoughDataAhead is how much buffered media past the current time counts
// as HaveEnoughData.
const enoughDataAhead = 0.5

var placeholderColor = color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff}

// HeadlessVideo implements VideoElement. The playback clock advances with
// loop time while playing and stalls at the end of the buffered range that
// holds the current time.
type HeadlessVideo struct {
	platform *Headless
	events   event.Bus

	src    string
	source *HeadlessMediaSource
	muted  bool
	paused bool
	err    error

	metadata bool
	width    int
	height   int

	// The current time is anchorMedia plus the loop time elapsed since
	// anchorWall while playing.
	anchorMedia float64
	anchorWall  time.Time

	placeholder *image.RGBA
}

var _ VideoElement = (*HeadlessVideo)(nil)

// Events implements VideoElement.
func (v *HeadlessVideo) Events() *event.Bus {
	return &v.events
}

// SetSrc implements VideoElement. An object URL attaches its media source;
// an empty string detaches.
func (v *HeadlessVideo) SetSrc(url string) {
	if v.source != nil {
		v.source.detach()
		v.source = nil
	}
	v.src = url
	v.err = nil
	v.metadata = false
	v.width, v.height = 0, 0
	v.anchorMedia = 0
	v.anchorWall = v.platform.loop.Now()
	if url == "" {
		return
	}

	ms, ok := v.platform.urls[url]
	if !ok {
		v.err = fmt.Errorf("%w: %s", ErrSrcNotSupported, url)
		err := v.err
		v.platform.loop.Post(func() {
			if v.src == url {
				event.Emit(&v.events, EventVideoError, err)
			}
		})
		return
	}
	v.source = ms
	ms.attach(v)
}

// Src implements VideoElement.
func (v *HeadlessVideo) Src() string {
	return v.src
}

// Muted implements VideoElement.
func (v *HeadlessVideo) Muted() bool {
	return v.muted
}

// SetMuted implements VideoElement.
func (v *HeadlessVideo) SetMuted(muted bool) {
	v.muted = muted
}

// Paused implements VideoElement.
func (v *HeadlessVideo) Paused() bool {
	return v.paused
}

// Play implements VideoElement.
func (v *HeadlessVideo) Play() error {
	if !v.paused {
		return nil
	}
	v.rebase()
	v.paused = false
	v.platform.loop.Post(func() {
		if !v.paused {
			event.Emit(&v.events, EventPlaying, struct{}{})
		}
	})
	return nil
}

// Pause implements VideoElement.
func (v *HeadlessVideo) Pause() {
	if v.paused {
		return
	}
	v.rebase()
	v.paused = true
	v.platform.loop.Post(func() {
		if v.paused {
			event.Emit(&v.events, EventPause, struct{}{})
		}
	})
}

// CurrentTime implements VideoElement.
func (v *HeadlessVideo) CurrentTime() float64 {
	if v.paused {
		return v.anchorMedia
	}
	r, ok := v.Buffered().Find(v.anchorMedia)
	if !ok {
		return v.anchorMedia
	}
	t := v.anchorMedia + v.platform.loop.Now().Sub(v.anchorWall).Seconds()
	return min(max(t, v.anchorMedia), r.End)
}

// SetCurrentTime implements VideoElement.
func (v *HeadlessVideo) SetCurrentTime(t float64) {
	v.anchorMedia = max(t, 0)
	v.anchorWall = v.platform.loop.Now()
}

// Buffered implements VideoElement.
func (v *HeadlessVideo) Buffered() TimeRanges {
	if v.source == nil {
		return nil
	}
	return v.source.buffered()
}

// ReadyState implements VideoElement.
func (v *HeadlessVideo) ReadyState() ReadyState {
	if v.source == nil || !v.metadata {
		return HaveNothing
	}
	ct := v.CurrentTime()
	r, ok := v.Buffered().Find(ct)
	if !ok {
		return HaveMetadata
	}
	switch ahead := r.End - ct; {
	case ahead >= enoughDataAhead:
		return HaveEnoughData
	case ahead > rangeTolerance:
		return HaveFutureData
	default:
		return HaveCurrentData
	}
}

// VideoWidth implements VideoElement.
func (v *HeadlessVideo) VideoWidth() int {
	return v.width
}

// VideoHeight implements VideoElement.
func (v *HeadlessVideo) VideoHeight() int {
	return v.height
}

// Frame implements VideoElement.
func (v *HeadlessVideo) Frame() image.Image {
	if v.ReadyState() < HaveCurrentData || v.width <= 0 || v.height <= 0 {
		return nil
	}
	if fn := v.platform.opts.FrameFunc; fn != nil {
		return fn(v.width, v.height, v.CurrentTime())
	}
	if v.placeholder == nil || v.placeholder.Bounds().Dx() != v.width || v.placeholder.Bounds().Dy() != v.height {
		v.placeholder = image.NewRGBA(image.Rect(0, 0, v.width, v.height))
		draw.Draw(v.placeholder, v.placeholder.Bounds(), image.NewUniform(placeholderColor), image.Point{}, draw.Src)
	}
	return v.placeholder
}

// Error implements VideoElement.
func (v *HeadlessVideo) Error() error {
	return v.err
}

func (v *HeadlessVideo) String() string {
	return fmt.Sprintf("video src=%q paused=%t t=%.3f ready=%s", v.src, v.paused, v.CurrentTime(), v.ReadyState())
}

// rebase folds elapsed playback into the anchor. It is called before the
// buffered ranges change so the stall point is computed against the old
// ranges.
func (v *HeadlessVideo) rebase() {
	v.anchorMedia = v.CurrentTime()
	v.anchorWall = v.platform.loop.Now()
}

func (v *HeadlessVideo) setMetadata(width, height int) {
	if width > 0 && height > 0 {
		v.width, v.height = width, height
	}
	if v.metadata {
		return
	}
	v.metadata = true
	event.Emit(&v.events, EventLoadedMetadata, struct{}{})
}
