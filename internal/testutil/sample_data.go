// Package testutil provides test utilities including sample fragmented MP4
// streams and a WebSocket server that plays them.
package testutil

import (
	"encoding/binary"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

// Track IDs and timing used by the sample streams.
const (
	VideoTrackID        = 1
	AudioTrackID        = 2
	VideoTimeScale      = 90000
	AudioTimeScale      = 48000
	VideoSampleDuration = 3000 // 30 fps
	AudioSampleDuration = 1024
)

// H264SPS is a 1280x720 High profile level 3.1 sequence parameter set.
var H264SPS = []byte{
	0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
	0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
	0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
	0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
}

// H264PPS pairs with H264SPS.
var H264PPS = []byte{0x68, 0xeb, 0xe3, 0xcb, 0x22, 0xc0}

// Expected descriptions of the sample tracks.
const (
	VideoCodecString = "avc1.64001F"
	AudioCodecString = "mp4a.40.2"
	VideoWidth       = 1280
	VideoHeight      = 720
)

var (
	idrSample   = []byte{0x00, 0x00, 0x00, 0x05, 0x65, 0x88, 0x84, 0x00, 0x33}
	interSample = []byte{0x00, 0x00, 0x00, 0x04, 0x41, 0x9a, 0x02, 0x04}
	aacSample   = []byte{0x21, 0x10, 0x04, 0x60, 0x8c, 0x1c}
)

// VideoCodec returns the sample H.264 codec description.
func VideoCodec() *mp4.CodecH264 {
	return &mp4.CodecH264{SPS: H264SPS, PPS: H264PPS}
}

// AudioCodec returns the sample AAC-LC stereo 48kHz codec description.
func AudioCodec() *mp4.CodecMPEG4Audio {
	return &mp4.CodecMPEG4Audio{Config: mpeg4audio.AudioSpecificConfig{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   AudioTimeScale,
		ChannelCount: 2,
	}}
}

// StreamOptions shapes a generated stream.
type StreamOptions struct {
	Video bool
	Audio bool
	// Fragments is the number of moof+mdat pairs after the init segment.
	Fragments int
	// SamplesPerFragment applies to every track.
	SamplesPerFragment int
}

// DefaultStream is one second of 30fps video with AAC audio.
var DefaultStream = StreamOptions{Video: true, Audio: true, Fragments: 10, SamplesPerFragment: 3}

func (o StreamOptions) normalized() StreamOptions {
	if !o.Video && !o.Audio {
		o.Video = true
	}
	if o.SamplesPerFragment < 1 {
		o.SamplesPerFragment = 1
	}
	return o
}

// InitSegment builds ftyp+moov for the requested tracks.
func InitSegment(video, audio bool) []byte {
	var init fmp4.Init
	if video {
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID: VideoTrackID, TimeScale: VideoTimeScale, Codec: VideoCodec(),
		})
	}
	if audio {
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID: AudioTrackID, TimeScale: AudioTimeScale, Codec: AudioCodec(),
		})
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		panic(fmt.Sprintf("testutil: marshaling init: %v", err))
	}
	return buf.Bytes()
}

// Fragment builds the index-th moof+mdat of a stream.
func Fragment(o StreamOptions, index int) []byte {
	o = o.normalized()
	n := o.SamplesPerFragment
	part := fmp4.Part{SequenceNumber: uint32(index + 1)}

	if o.Video {
		samples := make([]*fmp4.Sample, n)
		for i := range samples {
			payload, nonSync := interSample, true
			if index == 0 && i == 0 {
				payload, nonSync = idrSample, false
			}
			samples[i] = &fmp4.Sample{
				Duration:        VideoSampleDuration,
				IsNonSyncSample: nonSync,
				Payload:         payload,
			}
		}
		part.Tracks = append(part.Tracks, &fmp4.PartTrack{
			ID:       VideoTrackID,
			BaseTime: uint64(index*n) * VideoSampleDuration,
			Samples:  samples,
		})
	}

	if o.Audio {
		samples := make([]*fmp4.Sample, n)
		for i := range samples {
			samples[i] = &fmp4.Sample{Duration: AudioSampleDuration, Payload: aacSample}
		}
		part.Tracks = append(part.Tracks, &fmp4.PartTrack{
			ID:       AudioTrackID,
			BaseTime: uint64(index*n) * AudioSampleDuration,
			Samples:  samples,
		})
	}

	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		panic(fmt.Sprintf("testutil: marshaling fragment: %v", err))
	}
	return buf.Bytes()
}

// Stream returns the init segment followed by every fragment.
func Stream(o StreamOptions) []byte {
	o = o.normalized()
	out := InitSegment(o.Video, o.Audio)
	for i := 0; i < o.Fragments; i++ {
		out = append(out, Fragment(o, i)...)
	}
	return out
}

// VideoSeconds is the media duration of the video track of a stream.
func VideoSeconds(o StreamOptions) float64 {
	o = o.normalized()
	return float64(o.Fragments*o.SamplesPerFragment*VideoSampleDuration) / VideoTimeScale
}

// Chunks splits data into pieces of at most size bytes, the way a socket
// delivers a stream without regard for box boundaries.
func Chunks(data []byte, size int) [][]byte {
	if size < 1 {
		size = 1
	}
	var out [][]byte
	for len(data) > 0 {
		n := min(size, len(data))
		out = append(out, data[:n:n])
		data = data[n:]
	}
	return out
}

// ProgressiveMP4 returns the head of a regular, non-fragmented MP4: an ftyp
// and a moov holding only a movie header, with no movie extends box.
func ProgressiveMP4() []byte {
	ftyp := box("ftyp", append([]byte("isom\x00\x00\x02\x00"), []byte("isomiso2mp41")...))

	mvhd := make([]byte, 100)
	binary.BigEndian.PutUint32(mvhd[12:], 1000)       // timescale
	binary.BigEndian.PutUint32(mvhd[20:], 0x00010000) // rate 1.0
	binary.BigEndian.PutUint16(mvhd[24:], 0x0100)     // volume 1.0
	binary.BigEndian.PutUint32(mvhd[36:], 0x00010000) // matrix a
	binary.BigEndian.PutUint32(mvhd[52:], 0x00010000) // matrix d
	binary.BigEndian.PutUint32(mvhd[68:], 0x40000000) // matrix w
	binary.BigEndian.PutUint32(mvhd[96:], 2)          // next track id

	moov := box("moov", box("mvhd", mvhd))
	return append(ftyp, moov...)
}

func box(typ string, payload []byte) []byte {
	out := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint32(out, uint32(8+len(payload)))
	copy(out[4:], typ)
	return append(out, payload...)
}
