package renderer

import (
	"image"

	"github.com/jmylchreest/wsvideo/internal/event"
	"github.com/jmylchreest/wsvideo/internal/mse"
)

// calls records platform calls across fakes in order.
type calls []string

func (c *calls) add(s string) { *c = append(*c, s) }

type fakeSourceBuffer struct {
	log      *calls
	events   event.Bus
	mode     mse.AppendMode
	updating bool
	buffered mse.TimeRanges
	appends  [][]byte
	removes  [][2]float64
}

func (sb *fakeSourceBuffer) Mode() mse.AppendMode { return sb.mode }
func (sb *fakeSourceBuffer) SetMode(m mse.AppendMode) error {
	sb.mode = m
	return nil
}
func (sb *fakeSourceBuffer) Updating() bool           { return sb.updating }
func (sb *fakeSourceBuffer) Buffered() mse.TimeRanges { return sb.buffered }
func (sb *fakeSourceBuffer) Events() *event.Bus       { return &sb.events }

func (sb *fakeSourceBuffer) AppendBuffer(data []byte) error {
	if sb.updating {
		return mse.ErrInvalidState
	}
	sb.updating = true
	sb.appends = append(sb.appends, data)
	return nil
}

func (sb *fakeSourceBuffer) Remove(start, end float64) error {
	if sb.updating {
		return mse.ErrInvalidState
	}
	sb.updating = true
	sb.removes = append(sb.removes, [2]float64{start, end})
	return nil
}

func (sb *fakeSourceBuffer) Abort() error {
	sb.log.add("abort")
	sb.updating = false
	return nil
}

// finish completes the pending update with the given buffered ranges.
func (sb *fakeSourceBuffer) finish(buffered ...mse.TimeRange) {
	sb.updating = false
	if buffered != nil {
		sb.buffered = buffered
	}
	event.Emit(&sb.events, mse.EventUpdateEnd, struct{}{})
}

type fakeMediaSource struct {
	log     *calls
	events  event.Bus
	state   mse.SourceState
	buffers []*fakeSourceBuffer
}

func (ms *fakeMediaSource) ReadyState() mse.SourceState { return ms.state }
func (ms *fakeMediaSource) Events() *event.Bus          { return &ms.events }

func (ms *fakeMediaSource) AddSourceBuffer(mime string) (mse.SourceBuffer, error) {
	sb := &fakeSourceBuffer{log: ms.log, mode: mse.ModeSegments}
	ms.buffers = append(ms.buffers, sb)
	return sb, nil
}

func (ms *fakeMediaSource) RemoveSourceBuffer(sb mse.SourceBuffer) error {
	ms.log.add("remove_source_buffer")
	return nil
}

func (ms *fakeMediaSource) SourceBuffers() []mse.SourceBuffer {
	out := make([]mse.SourceBuffer, len(ms.buffers))
	for i, b := range ms.buffers {
		out[i] = b
	}
	return out
}

func (ms *fakeMediaSource) EndOfStream() error {
	ms.log.add("end_of_stream")
	ms.state = mse.SourceEnded
	return nil
}

// open fires sourceopen.
func (ms *fakeMediaSource) open() {
	ms.state = mse.SourceOpen
	event.Emit(&ms.events, mse.EventSourceOpen, struct{}{})
}

type fakeVideo struct {
	log    *calls
	events event.Bus
	src    string
	muted  bool
	paused bool
	ct     float64
	seeks  []float64
}

func (v *fakeVideo) SetSrc(url string) {
	v.log.add("set_src:" + url)
	v.src = url
}
func (v *fakeVideo) Src() string          { return v.src }
func (v *fakeVideo) Muted() bool          { return v.muted }
func (v *fakeVideo) SetMuted(m bool)      { v.muted = m }
func (v *fakeVideo) Paused() bool         { return v.paused }
func (v *fakeVideo) CurrentTime() float64 { return v.ct }
func (v *fakeVideo) SetCurrentTime(t float64) {
	v.ct = t
	v.seeks = append(v.seeks, t)
}
func (v *fakeVideo) Buffered() mse.TimeRanges   { return nil }
func (v *fakeVideo) ReadyState() mse.ReadyState { return mse.HaveEnoughData }
func (v *fakeVideo) VideoWidth() int            { return 1280 }
func (v *fakeVideo) VideoHeight() int           { return 720 }
func (v *fakeVideo) Frame() image.Image         { return nil }
func (v *fakeVideo) Error() error               { return nil }
func (v *fakeVideo) Events() *event.Bus         { return &v.events }

func (v *fakeVideo) Play() error {
	v.paused = false
	return nil
}

func (v *fakeVideo) Pause() {
	v.log.add("pause")
	v.paused = true
}

type fakePlatform struct {
	log         calls
	video       *fakeVideo
	sources     []*fakeMediaSource
	unsupported bool
}

func newFakePlatform() *fakePlatform {
	p := &fakePlatform{}
	p.video = &fakeVideo{log: &p.log, paused: true}
	return p
}

func (p *fakePlatform) NewVideoElement() mse.VideoElement { return p.video }

func (p *fakePlatform) NewMediaSource() mse.MediaSource {
	ms := &fakeMediaSource{log: &p.log, state: mse.SourceClosed}
	p.sources = append(p.sources, ms)
	return ms
}

func (p *fakePlatform) CreateObjectURL(mse.MediaSource) string { return "blob:test" }
func (p *fakePlatform) RevokeObjectURL(url string)             { p.log.add("revoke:" + url) }
func (p *fakePlatform) IsTypeSupported(string) bool            { return !p.unsupported }
