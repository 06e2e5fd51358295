package demux

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"strings"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/av1"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

// TrackKind distinguishes audio and video tracks.
type TrackKind string

const (
	KindVideo TrackKind = "video"
	KindAudio TrackKind = "audio"
)

// vp9DefaultLevel is used because the VP9 codec description carries no
// level; 4.1 covers 1080p60.
const vp9DefaultLevel = 41

// CodecString returns the RFC 6381 codecs parameter for c, or an error for
// codecs that cannot be played through a media source.
func CodecString(c mp4.Codec) (string, error) {
	switch c := c.(type) {
	case *mp4.CodecH264:
		if len(c.SPS) < 4 {
			return "", fmt.Errorf("h264: SPS too short (%d bytes)", len(c.SPS))
		}
		return fmt.Sprintf("avc1.%02X%02X%02X", c.SPS[1], c.SPS[2], c.SPS[3]), nil

	case *mp4.CodecH265:
		return hevcCodecString(c.SPS)

	case *mp4.CodecAV1:
		var sh av1.SequenceHeader
		if err := sh.Unmarshal(c.SequenceHeader); err != nil {
			return "", fmt.Errorf("av1: sequence header: %w", err)
		}
		level, tier := uint8(0), "M"
		if len(sh.SeqLevelIdx) > 0 {
			level = sh.SeqLevelIdx[0]
		}
		if len(sh.SeqTier) > 0 && sh.SeqTier[0] {
			tier = "H"
		}
		depth := sh.ColorConfig.BitDepth
		if depth == 0 {
			depth = 8
		}
		return fmt.Sprintf("av01.%d.%02d%s.%02d", sh.SeqProfile, level, tier, depth), nil

	case *mp4.CodecVP9:
		depth := int(c.BitDepth)
		if depth == 0 {
			depth = 8
		}
		return fmt.Sprintf("vp09.%02d.%02d.%02d", c.Profile, vp9DefaultLevel, depth), nil

	case *mp4.CodecMPEG4Audio:
		return fmt.Sprintf("mp4a.40.%d", int(c.Config.Type)), nil

	case *mp4.CodecOpus:
		return "opus", nil

	case *mp4.CodecAC3:
		return "ac-3", nil

	case *mp4.CodecEAC3:
		return "ec-3", nil

	case *mp4.CodecMPEG1Audio:
		return "mp4a.6B", nil
	}
	return "", fmt.Errorf("%w: %T", ErrUnsupportedCodec, c)
}

// hevcCodecString builds "hvc1.<space><profile>.<compat>.<tier><level>.<constraints>"
// from the profile_tier_level fields at the start of the SPS.
func hevcCodecString(sps []byte) (string, error) {
	nalu := h264.EmulationPreventionRemove(sps)
	// 2 bytes NAL header, 1 byte vps id / sub layers, 12 bytes general PTL.
	if len(nalu) < 15 {
		return "", fmt.Errorf("h265: SPS too short (%d bytes)", len(sps))
	}
	ptl := nalu[3:15]

	space := []string{"", "A", "B", "C"}[ptl[0]>>6]
	tier := "L"
	if ptl[0]&0x20 != 0 {
		tier = "H"
	}
	profile := ptl[0] & 0x1f
	compat := bits.Reverse32(binary.BigEndian.Uint32(ptl[1:5]))

	constraints := ptl[5:11]
	last := len(constraints)
	for last > 0 && constraints[last-1] == 0 {
		last--
	}

	var b strings.Builder
	fmt.Fprintf(&b, "hvc1.%s%d.%X.%s%d", space, profile, compat, tier, ptl[11])
	for _, c := range constraints[:last] {
		fmt.Fprintf(&b, ".%X", c)
	}
	return b.String(), nil
}

func kindOf(c mp4.Codec) TrackKind {
	if c.IsVideo() {
		return KindVideo
	}
	return KindAudio
}

// VideoSize extracts the coded picture size from the codec parameters.
func VideoSize(c mp4.Codec) (int, int) {
	switch c := c.(type) {
	case *mp4.CodecH264:
		var sps h264.SPS
		if err := sps.Unmarshal(c.SPS); err == nil {
			return sps.Width(), sps.Height()
		}
	case *mp4.CodecH265:
		var sps h265.SPS
		if err := sps.Unmarshal(c.SPS); err == nil {
			return sps.Width(), sps.Height()
		}
	case *mp4.CodecAV1:
		var sh av1.SequenceHeader
		if err := sh.Unmarshal(c.SequenceHeader); err == nil {
			return sh.Width(), sh.Height()
		}
	case *mp4.CodecVP9:
		return c.Width, c.Height
	}
	return 0, 0
}

// audioParams returns sample rate and channel count, falling back to the
// track timescale when the codec description has no rate.
func audioParams(c mp4.Codec, timeScale uint32) (int, int) {
	switch c := c.(type) {
	case *mp4.CodecMPEG4Audio:
		return c.Config.SampleRate, c.Config.ChannelCount
	case *mp4.CodecOpus:
		return 48000, c.ChannelCount
	case *mp4.CodecAC3:
		return c.SampleRate, c.ChannelCount
	}
	return int(timeScale), 0
}

// MIMEType builds a media source type string such as
// `video/mp4; codecs="avc1.64001F,mp4a.40.2"`.
func MIMEType(kind TrackKind, codecs ...string) string {
	base := "video/mp4"
	if kind == KindAudio {
		base = "audio/mp4"
	}
	if len(codecs) == 0 {
		return base
	}
	return fmt.Sprintf(`%s; codecs="%s"`, base, strings.Join(codecs, ","))
}
