package demux

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFragmented is reported when the container has no movie extends
	// box. Such a stream can never be played incrementally.
	ErrNotFragmented = errors.New("demux: container is not fragmented")
	// ErrUnsupportedCodec is returned for codecs with no media source mapping.
	ErrUnsupportedCodec = errors.New("demux: unsupported codec")
	// ErrOffsetMismatch is returned when a chunk does not start where the
	// previous one ended.
	ErrOffsetMismatch = errors.New("demux: chunk offset mismatch")
	// ErrBoxTooLarge guards against corrupt size fields.
	ErrBoxTooLarge = errors.New("demux: box exceeds size limit")
)

// Info describes a parsed initialization segment.
type Info struct {
	IsFragmented bool        `json:"is_fragmented" yaml:"is_fragmented"`
	MIME         string      `json:"mime" yaml:"mime"`
	VideoTracks  []TrackInfo `json:"video_tracks" yaml:"video_tracks"`
	AudioTracks  []TrackInfo `json:"audio_tracks" yaml:"audio_tracks"`
}

// TrackInfo describes one track of the stream.
type TrackInfo struct {
	ID        int        `json:"id" yaml:"id"`
	Kind      TrackKind  `json:"kind" yaml:"kind"`
	Codec     string     `json:"codec" yaml:"codec"`
	TimeScale uint32     `json:"timescale" yaml:"timescale"`
	Video     *VideoInfo `json:"video,omitempty" yaml:"video,omitempty"`
	Audio     *AudioInfo `json:"audio,omitempty" yaml:"audio,omitempty"`
}

// VideoInfo holds picture dimensions.
type VideoInfo struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// AudioInfo holds audio format parameters.
type AudioInfo struct {
	SampleRate   int `json:"sample_rate" yaml:"sample_rate"`
	ChannelCount int `json:"channel_count" yaml:"channel_count"`
}

// MIME returns the media source type for this track alone.
func (t TrackInfo) MIME() string {
	return MIMEType(t.Kind, t.Codec)
}

// Tracks returns video tracks followed by audio tracks.
func (i Info) Tracks() []TrackInfo {
	out := make([]TrackInfo, 0, len(i.VideoTracks)+len(i.AudioTracks))
	out = append(out, i.VideoTracks...)
	return append(out, i.AudioTracks...)
}

// Track looks up a track by ID.
func (i Info) Track(id int) (TrackInfo, bool) {
	for _, t := range i.Tracks() {
		if t.ID == id {
			return t, true
		}
	}
	return TrackInfo{}, false
}

func (i Info) String() string {
	return fmt.Sprintf("fragmented=%t mime=%q video=%d audio=%d",
		i.IsFragmented, i.MIME, len(i.VideoTracks), len(i.AudioTracks))
}
