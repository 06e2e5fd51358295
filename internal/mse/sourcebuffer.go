package mse

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	gomp4 "github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"

	"github.com/jmylchreest/wsvideo/internal/demux"
	"github.com/jmylchreest/wsvideo/internal/event"
)

// errNoInit is reported for media appended before any initialization
// segment.
var errNoInit = errors.New("mse: media segment before initialization segment")

// HeadlessSourceBuffer implements SourceBuffer. Appended bytes are split into
// boxes; a moov records track timescales and picture size, and each
// moof+mdat extends the buffered ranges by its sample durations.
type HeadlessSourceBuffer struct {
	source *HeadlessMediaSource
	events event.Bus
	logger *slog.Logger

	mime     string
	mode     AppendMode
	updating bool
	removed  bool
	op       uint64

	pending    []byte
	timeScales map[int]uint32
	groupEnd   float64
	buffered   TimeRanges
}

var _ SourceBuffer = (*HeadlessSourceBuffer)(nil)

// Events implements SourceBuffer.
func (sb *HeadlessSourceBuffer) Events() *event.Bus {
	return &sb.events
}

// Mode implements SourceBuffer.
func (sb *HeadlessSourceBuffer) Mode() AppendMode {
	return sb.mode
}

// SetMode implements SourceBuffer.
func (sb *HeadlessSourceBuffer) SetMode(mode AppendMode) error {
	if sb.removed || sb.updating {
		return ErrInvalidState
	}
	if mode != ModeSegments && mode != ModeSequence {
		return fmt.Errorf("%w: mode %q", ErrInvalidArgument, mode)
	}
	sb.mode = mode
	return nil
}

// Updating implements SourceBuffer.
func (sb *HeadlessSourceBuffer) Updating() bool {
	return sb.updating
}

// Buffered implements SourceBuffer.
func (sb *HeadlessSourceBuffer) Buffered() TimeRanges {
	return append(TimeRanges(nil), sb.buffered...)
}

// AppendBuffer implements SourceBuffer.
func (sb *HeadlessSourceBuffer) AppendBuffer(data []byte) error {
	if err := sb.begin(); err != nil {
		return err
	}
	data = bytes.Clone(data)
	sb.run(func() error { return sb.parse(data) })
	return nil
}

// Remove implements SourceBuffer.
func (sb *HeadlessSourceBuffer) Remove(start, end float64) error {
	if start < 0 || end <= start {
		return fmt.Errorf("%w: remove [%g, %g)", ErrInvalidArgument, start, end)
	}
	if err := sb.begin(); err != nil {
		return err
	}
	sb.run(func() error {
		sb.buffered = sb.buffered.Subtract(start, end)
		return nil
	})
	return nil
}

// Abort implements SourceBuffer. A pending append is discarded.
func (sb *HeadlessSourceBuffer) Abort() error {
	if sb.removed {
		return ErrInvalidState
	}
	sb.pending = nil
	if !sb.updating {
		return nil
	}
	sb.op++
	sb.updating = false
	event.Emit(&sb.events, EventAbort, struct{}{})
	event.Emit(&sb.events, EventUpdateEnd, struct{}{})
	return nil
}

func (sb *HeadlessSourceBuffer) begin() error {
	if sb.removed {
		return fmt.Errorf("%w: source buffer removed", ErrInvalidState)
	}
	if sb.updating {
		return fmt.Errorf("%w: update in progress", ErrInvalidState)
	}
	switch sb.source.state {
	case SourceClosed:
		return fmt.Errorf("%w: media source closed", ErrInvalidState)
	case SourceEnded:
		sb.source.state = SourceOpen
	}
	sb.updating = true
	event.Emit(&sb.events, EventUpdateStart, struct{}{})
	return nil
}

// run completes an update on a later loop turn unless it was aborted.
func (sb *HeadlessSourceBuffer) run(apply func() error) {
	sb.op++
	op := sb.op
	sb.source.platform.loop.Post(func() {
		if op != sb.op || sb.removed {
			return
		}
		video := sb.source.video
		if video != nil {
			video.rebase()
		}
		err := apply()
		sb.updating = false
		if err != nil {
			sb.logger.Warn("append failed", slog.String("mime", sb.mime), slog.String("error", err.Error()))
			event.Emit(&sb.events, EventAppendError, err)
		} else {
			event.Emit(&sb.events, EventUpdate, struct{}{})
		}
		event.Emit(&sb.events, EventUpdateEnd, struct{}{})
	})
}

// parse consumes complete top level boxes, keeping a trailing partial box
// for the next append.
func (sb *HeadlessSourceBuffer) parse(data []byte) error {
	buf := append(sb.pending, data...)
	sb.pending = nil

	for len(buf) >= 8 {
		bi, err := gomp4.ReadBoxInfo(bytes.NewReader(buf))
		if err != nil {
			return fmt.Errorf("reading box header: %w", err)
		}
		if bi.ExtendToEOF || bi.Size < bi.HeaderSize {
			return fmt.Errorf("invalid %s box size %d", bi.Type, bi.Size)
		}
		size := int(bi.Size)
		if len(buf) < size {
			break
		}

		switch bi.Type {
		case gomp4.BoxTypeMoov():
			if err := sb.parseInit(buf[:size]); err != nil {
				return err
			}
			buf = buf[size:]

		case gomp4.BoxTypeMoof():
			if len(buf) < size+8 {
				sb.pending = buf
				return nil
			}
			mdat, err := gomp4.ReadBoxInfo(bytes.NewReader(buf[size:]))
			if err != nil || mdat.Type != gomp4.BoxTypeMdat() {
				return fmt.Errorf("moof not followed by mdat")
			}
			total := size + int(mdat.Size)
			if len(buf) < total {
				sb.pending = buf
				return nil
			}
			if err := sb.parseMedia(buf[:total]); err != nil {
				return err
			}
			buf = buf[total:]

		default:
			buf = buf[size:]
		}
	}
	if len(buf) > 0 {
		sb.pending = bytes.Clone(buf)
	}
	return nil
}

func (sb *HeadlessSourceBuffer) parseInit(moov []byte) error {
	var init fmp4.Init
	if err := init.Unmarshal(bytes.NewReader(moov)); err != nil {
		return fmt.Errorf("parsing initialization segment: %w", err)
	}
	for _, t := range init.Tracks {
		sb.timeScales[t.ID] = t.TimeScale
		if sb.source.video != nil && t.Codec.IsVideo() {
			w, h := demux.VideoSize(t.Codec)
			sb.source.video.setMetadata(w, h)
		} else if sb.source.video != nil {
			sb.source.video.setMetadata(0, 0)
		}
	}
	return nil
}

func (sb *HeadlessSourceBuffer) parseMedia(fragment []byte) error {
	if len(sb.timeScales) == 0 {
		return errNoInit
	}
	var parts fmp4.Parts
	if err := parts.Unmarshal(fragment); err != nil {
		return fmt.Errorf("parsing media segment: %w", err)
	}

	for _, part := range parts {
		for _, pt := range part.Tracks {
			ts, ok := sb.timeScales[pt.ID]
			if !ok || ts == 0 {
				continue
			}
			var dur uint64
			for _, s := range pt.Samples {
				dur += uint64(s.Duration)
			}
			if dur == 0 {
				continue
			}

			start := float64(pt.BaseTime) / float64(ts)
			if sb.mode == ModeSequence {
				start = sb.groupEnd
			}
			end := start + float64(dur)/float64(ts)
			sb.buffered = sb.buffered.Add(start, end)
			sb.groupEnd = end
		}
	}
	return nil
}
