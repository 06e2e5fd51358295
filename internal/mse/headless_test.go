package mse

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/wsvideo/internal/event"
	"github.com/jmylchreest/wsvideo/internal/loop"
	"github.com/jmylchreest/wsvideo/internal/observability"
	"github.com/jmylchreest/wsvideo/internal/testutil"
)

const videoMIME = `video/mp4; codecs="avc1.64001F"`

var videoOnly = testutil.StreamOptions{Video: true, Fragments: 10, SamplesPerFragment: 3}

type fixture struct {
	loop  *loop.Manual
	p     *Headless
	video VideoElement
	ms    MediaSource
	url   string
}

func newFixture(t *testing.T, opts HeadlessOptions) *fixture {
	t.Helper()
	m := loop.NewManual(time.Time{})
	opts.Logger = observability.Discard()
	p := NewHeadless(m, opts)
	f := &fixture{loop: m, p: p, video: p.NewVideoElement(), ms: p.NewMediaSource()}
	f.url = p.CreateObjectURL(f.ms)
	return f
}

// open attaches the media source and returns a sequence-mode video buffer.
func (f *fixture) open(t *testing.T) SourceBuffer {
	t.Helper()
	opened := 0
	event.On(f.ms.Events(), EventSourceOpen, func(struct{}) { opened++ })
	f.video.SetSrc(f.url)
	assert.Equal(t, SourceClosed, f.ms.ReadyState())
	f.loop.Flush()
	require.Equal(t, 1, opened)

	sb, err := f.ms.AddSourceBuffer(videoMIME)
	require.NoError(t, err)
	require.NoError(t, sb.SetMode(ModeSequence))
	return sb
}

func (f *fixture) append(t *testing.T, sb SourceBuffer, data []byte) {
	t.Helper()
	ends := 0
	off := event.On(sb.Events(), EventUpdateEnd, func(struct{}) { ends++ })
	defer off()
	require.NoError(t, sb.AppendBuffer(data))
	assert.True(t, sb.Updating())
	f.loop.Flush()
	require.Equal(t, 1, ends)
	assert.False(t, sb.Updating())
}

func TestIsTypeSupported(t *testing.T) {
	assert.True(t, IsTypeSupported(`video/mp4; codecs="avc1.64001F,mp4a.40.2"`))
	assert.True(t, IsTypeSupported(`audio/mp4; codecs="opus"`))
	assert.True(t, IsTypeSupported("video/mp4"))
	assert.False(t, IsTypeSupported(`video/webm; codecs="vp8"`))
	assert.False(t, IsTypeSupported(`video/mp4; codecs="mp4v.20.9"`))
	assert.False(t, IsTypeSupported("not a type;;"))
}

func TestHeadless_ObjectURLs(t *testing.T) {
	f := newFixture(t, HeadlessOptions{})
	assert.Contains(t, f.url, objectURLPrefix)
	assert.Equal(t, 1, f.p.ObjectURLs())
	f.p.RevokeObjectURL(f.url)
	assert.Zero(t, f.p.ObjectURLs())
}

func TestHeadless_AddSourceBufferRequiresOpen(t *testing.T) {
	f := newFixture(t, HeadlessOptions{})
	_, err := f.ms.AddSourceBuffer(videoMIME)
	assert.ErrorIs(t, err, ErrInvalidState)

	f.video.SetSrc(f.url)
	f.loop.Flush()
	_, err = f.ms.AddSourceBuffer(`video/webm; codecs="vp8"`)
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestHeadless_AppendBuildsBufferedRanges(t *testing.T) {
	f := newFixture(t, HeadlessOptions{})
	sb := f.open(t)

	loaded := 0
	event.On(f.video.Events(), EventLoadedMetadata, func(struct{}) { loaded++ })
	assert.Equal(t, HaveNothing, f.video.ReadyState())

	f.append(t, sb, testutil.InitSegment(true, false))
	assert.Equal(t, 1, loaded)
	assert.Equal(t, testutil.VideoWidth, f.video.VideoWidth())
	assert.Equal(t, testutil.VideoHeight, f.video.VideoHeight())
	assert.Equal(t, HaveMetadata, f.video.ReadyState())

	f.append(t, sb, append(testutil.Fragment(videoOnly, 0), testutil.Fragment(videoOnly, 1)...))
	require.Equal(t, 1, sb.Buffered().Len())
	assert.InDelta(t, 0.0, sb.Buffered().Start(0), 1e-9)
	assert.InDelta(t, 0.2, sb.Buffered().End(0), 1e-9)
	assert.Equal(t, sb.Buffered(), f.video.Buffered())
	assert.Equal(t, HaveFutureData, f.video.ReadyState())
}

func TestHeadless_SequenceModeIgnoresTimestamps(t *testing.T) {
	f := newFixture(t, HeadlessOptions{})
	sb := f.open(t)
	f.append(t, sb, testutil.InitSegment(true, false))
	f.append(t, sb, testutil.Fragment(videoOnly, 7))

	require.Equal(t, 1, sb.Buffered().Len())
	assert.InDelta(t, 0.0, sb.Buffered().Start(0), 1e-9)
	assert.InDelta(t, 0.1, sb.Buffered().End(0), 1e-9)
}

func TestHeadless_SegmentsModeUsesTimestamps(t *testing.T) {
	f := newFixture(t, HeadlessOptions{})
	sb := f.open(t)
	require.NoError(t, sb.SetMode(ModeSegments))
	f.append(t, sb, testutil.InitSegment(true, false))
	f.append(t, sb, testutil.Fragment(videoOnly, 0))
	f.append(t, sb, testutil.Fragment(videoOnly, 5))

	require.Equal(t, 2, sb.Buffered().Len())
	assert.InDelta(t, 0.5, sb.Buffered().Start(1), 1e-9)
}

func TestHeadless_AppendWhileUpdating(t *testing.T) {
	f := newFixture(t, HeadlessOptions{})
	sb := f.open(t)

	require.NoError(t, sb.AppendBuffer(testutil.InitSegment(true, false)))
	assert.ErrorIs(t, sb.AppendBuffer([]byte{0}), ErrInvalidState)
	assert.ErrorIs(t, sb.Remove(0, 1), ErrInvalidState)
	assert.ErrorIs(t, sb.SetMode(ModeSegments), ErrInvalidState)
}

func TestHeadless_MediaBeforeInitFails(t *testing.T) {
	f := newFixture(t, HeadlessOptions{})
	sb := f.open(t)

	var errs []error
	event.On(sb.Events(), EventAppendError, func(err error) { errs = append(errs, err) })
	f.append(t, sb, testutil.Fragment(videoOnly, 0))
	require.Len(t, errs, 1)
	assert.Zero(t, sb.Buffered().Len())
}

func TestHeadless_SplitAppendKeepsPartialBox(t *testing.T) {
	f := newFixture(t, HeadlessOptions{})
	sb := f.open(t)
	f.append(t, sb, testutil.InitSegment(true, false))

	frag := testutil.Fragment(videoOnly, 0)
	f.append(t, sb, frag[:20])
	assert.Zero(t, sb.Buffered().Len())
	f.append(t, sb, frag[20:])
	assert.Equal(t, 1, sb.Buffered().Len())
}

func TestHeadless_Remove(t *testing.T) {
	f := newFixture(t, HeadlessOptions{})
	sb := f.open(t)
	f.append(t, sb, testutil.Stream(videoOnly))

	assert.ErrorIs(t, sb.Remove(1, 1), ErrInvalidArgument)

	ends := 0
	event.On(sb.Events(), EventUpdateEnd, func(struct{}) { ends++ })
	require.NoError(t, sb.Remove(0, 0.5))
	f.loop.Flush()
	assert.Equal(t, 1, ends)
	require.Equal(t, 1, sb.Buffered().Len())
	assert.InDelta(t, 0.5, sb.Buffered().Start(0), 1e-9)
	assert.InDelta(t, 1.0, sb.Buffered().End(0), 1e-9)
}

func TestHeadless_AbortDropsPendingAppend(t *testing.T) {
	f := newFixture(t, HeadlessOptions{})
	sb := f.open(t)

	var seen []string
	event.On(sb.Events(), EventAbort, func(struct{}) { seen = append(seen, "abort") })
	event.On(sb.Events(), EventUpdateEnd, func(struct{}) { seen = append(seen, "updateend") })
	event.On(sb.Events(), EventUpdate, func(struct{}) { seen = append(seen, "update") })

	require.NoError(t, sb.AppendBuffer(testutil.Stream(videoOnly)))
	require.NoError(t, sb.Abort())
	f.loop.Flush()

	assert.Equal(t, []string{"abort", "updateend"}, seen)
	assert.False(t, sb.Updating())
	assert.Zero(t, sb.Buffered().Len())
}

func TestHeadless_ClockAdvancesAndStalls(t *testing.T) {
	f := newFixture(t, HeadlessOptions{})
	sb := f.open(t)
	f.append(t, sb, testutil.Stream(videoOnly))

	f.loop.Advance(300 * time.Millisecond)
	assert.Zero(t, f.video.CurrentTime(), "paused video does not advance")

	require.NoError(t, f.video.Play())
	f.loop.Advance(400 * time.Millisecond)
	assert.InDelta(t, 0.4, f.video.CurrentTime(), 1e-6)

	f.loop.Advance(2 * time.Second)
	assert.InDelta(t, 1.0, f.video.CurrentTime(), 1e-6, "stalls at the buffered end")
	assert.Equal(t, HaveCurrentData, f.video.ReadyState())

	f.video.Pause()
	f.video.SetCurrentTime(0.25)
	f.loop.Advance(time.Second)
	assert.InDelta(t, 0.25, f.video.CurrentTime(), 1e-9)
	assert.True(t, f.video.Paused())
}

func TestHeadless_ClockResumesAfterStall(t *testing.T) {
	f := newFixture(t, HeadlessOptions{})
	sb := f.open(t)
	f.append(t, sb, testutil.InitSegment(true, false))
	f.append(t, sb, testutil.Fragment(videoOnly, 0))

	require.NoError(t, f.video.Play())
	f.loop.Advance(time.Second)
	assert.InDelta(t, 0.1, f.video.CurrentTime(), 1e-6)

	f.append(t, sb, testutil.Fragment(videoOnly, 1))
	f.loop.Advance(50 * time.Millisecond)
	assert.InDelta(t, 0.15, f.video.CurrentTime(), 1e-6)
}

func TestHeadless_Frame(t *testing.T) {
	f := newFixture(t, HeadlessOptions{})
	assert.Nil(t, f.video.Frame())

	sb := f.open(t)
	f.append(t, sb, testutil.Stream(videoOnly))
	frame := f.video.Frame()
	require.NotNil(t, frame)
	assert.Equal(t, image.Rect(0, 0, testutil.VideoWidth, testutil.VideoHeight), frame.Bounds())
	assert.Equal(t, placeholderColor, color.RGBAModel.Convert(frame.At(10, 10)))
}

func TestHeadless_FrameFunc(t *testing.T) {
	var gotT float64
	f := newFixture(t, HeadlessOptions{FrameFunc: func(w, h int, t float64) image.Image {
		gotT = t
		return image.NewRGBA(image.Rect(0, 0, w/10, h/10))
	}})
	sb := f.open(t)
	f.append(t, sb, testutil.Stream(videoOnly))
	f.video.SetCurrentTime(0.5)

	frame := f.video.Frame()
	require.NotNil(t, frame)
	assert.Equal(t, 128, frame.Bounds().Dx())
	assert.InDelta(t, 0.5, gotT, 1e-9)
}

func TestHeadless_UnknownSrcReportsError(t *testing.T) {
	f := newFixture(t, HeadlessOptions{})
	var errs []error
	event.On(f.video.Events(), EventVideoError, func(err error) { errs = append(errs, err) })

	f.video.SetSrc("blob:wsvideo/missing")
	f.loop.Flush()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, f.video.Error(), ErrSrcNotSupported)
}

func TestHeadless_EndOfStreamAndDetach(t *testing.T) {
	f := newFixture(t, HeadlessOptions{})
	sb := f.open(t)

	require.NoError(t, f.ms.EndOfStream())
	assert.Equal(t, SourceEnded, f.ms.ReadyState())
	assert.ErrorIs(t, f.ms.EndOfStream(), ErrInvalidState)

	require.NoError(t, f.ms.RemoveSourceBuffer(sb))
	assert.ErrorIs(t, f.ms.RemoveSourceBuffer(sb), ErrNotFound)
	assert.ErrorIs(t, sb.AppendBuffer([]byte{0}), ErrInvalidState)

	closed := 0
	event.On(f.ms.Events(), EventSourceClose, func(struct{}) { closed++ })
	f.video.SetSrc("")
	f.loop.Flush()
	assert.Equal(t, 1, closed)
	assert.Equal(t, SourceClosed, f.ms.ReadyState())
}
