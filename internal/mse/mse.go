// Package mse defines the media source interfaces the renderer drives: a
// video element fed by a media source holding one source buffer per track.
// Headless is an in-process implementation that tracks buffered time ranges
// and a playback clock without decoding.
package mse

import (
	"errors"
	"image"

	"github.com/jmylchreest/wsvideo/internal/event"
)

var (
	// ErrInvalidState is returned for operations not allowed in the current
	// state, such as appending while an update is in progress.
	ErrInvalidState = errors.New("mse: invalid state")
	// ErrNotSupported is returned for unsupported media types.
	ErrNotSupported = errors.New("mse: type not supported")
	// ErrNotFound is returned when removing a buffer the source does not own.
	ErrNotFound = errors.New("mse: source buffer not found")
	// ErrInvalidArgument is returned for malformed ranges.
	ErrInvalidArgument = errors.New("mse: invalid argument")
	// ErrSrcNotSupported is reported by a video element whose source cannot
	// be resolved.
	ErrSrcNotSupported = errors.New("mse: media source not supported")
)

// ReadyState is the video element ready state.
type ReadyState int

const (
	HaveNothing ReadyState = iota
	HaveMetadata
	HaveCurrentData
	HaveFutureData
	HaveEnoughData
)

func (s ReadyState) String() string {
	switch s {
	case HaveMetadata:
		return "have_metadata"
	case HaveCurrentData:
		return "have_current_data"
	case HaveFutureData:
		return "have_future_data"
	case HaveEnoughData:
		return "have_enough_data"
	default:
		return "have_nothing"
	}
}

// SourceState is the media source ready state.
type SourceState string

const (
	SourceClosed SourceState = "closed"
	SourceOpen   SourceState = "open"
	SourceEnded  SourceState = "ended"
)

// AppendMode selects how appended media is placed on the timeline.
type AppendMode string

const (
	// ModeSegments uses the timestamps carried by the media.
	ModeSegments AppendMode = "segments"
	// ModeSequence places each appended group right after the previous one.
	ModeSequence AppendMode = "sequence"
)

// Media source events.
var (
	EventSourceOpen  = event.NewKey[struct{}]("sourceopen")
	EventSourceEnded = event.NewKey[struct{}]("sourceended")
	EventSourceClose = event.NewKey[struct{}]("sourceclose")
)

// Source buffer events.
var (
	EventUpdateStart = event.NewKey[struct{}]("updatestart")
	EventUpdate      = event.NewKey[struct{}]("update")
	EventUpdateEnd   = event.NewKey[struct{}]("updateend")
	EventAbort       = event.NewKey[struct{}]("abort")
	EventAppendError = event.NewKey[error]("error")
)

// Video element events.
var (
	EventLoadedMetadata = event.NewKey[struct{}]("loadedmetadata")
	EventPlaying        = event.NewKey[struct{}]("playing")
	EventPause          = event.NewKey[struct{}]("pause")
	EventVideoError     = event.NewKey[error]("error")
)

// Platform creates media objects.
type Platform interface {
	NewVideoElement() VideoElement
	NewMediaSource() MediaSource
	CreateObjectURL(ms MediaSource) string
	RevokeObjectURL(url string)
	IsTypeSupported(mime string) bool
}

// MediaSource feeds a video element.
type MediaSource interface {
	ReadyState() SourceState
	AddSourceBuffer(mime string) (SourceBuffer, error)
	RemoveSourceBuffer(sb SourceBuffer) error
	SourceBuffers() []SourceBuffer
	EndOfStream() error
	Events() *event.Bus
}

// SourceBuffer accepts initialization and media segments for one track.
// Appends and removals complete asynchronously with EventUpdateEnd.
type SourceBuffer interface {
	Mode() AppendMode
	SetMode(mode AppendMode) error
	Updating() bool
	Buffered() TimeRanges
	AppendBuffer(data []byte) error
	Remove(start, end float64) error
	Abort() error
	Events() *event.Bus
}

// VideoElement plays a media source. Times are in seconds.
type VideoElement interface {
	SetSrc(url string)
	Src() string
	Muted() bool
	SetMuted(muted bool)
	Paused() bool
	Play() error
	Pause()
	CurrentTime() float64
	SetCurrentTime(t float64)
	Buffered() TimeRanges
	ReadyState() ReadyState
	VideoWidth() int
	VideoHeight() int
	// Frame returns the picture at the current time, or nil when none is
	// available.
	Frame() image.Image
	Error() error
	Events() *event.Bus
}
