package testutil

import (
	"bytes"
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitSegment_RoundTrip(t *testing.T) {
	data := InitSegment(true, true)
	assert.Equal(t, "ftyp", string(data[4:8]))

	var init fmp4.Init
	require.NoError(t, init.Unmarshal(bytes.NewReader(data)))
	require.Len(t, init.Tracks, 2)

	assert.Equal(t, VideoTrackID, init.Tracks[0].ID)
	assert.Equal(t, uint32(VideoTimeScale), init.Tracks[0].TimeScale)
	_, isH264 := init.Tracks[0].Codec.(*mp4.CodecH264)
	assert.True(t, isH264)

	assert.Equal(t, AudioTrackID, init.Tracks[1].ID)
	_, isAAC := init.Tracks[1].Codec.(*mp4.CodecMPEG4Audio)
	assert.True(t, isAAC)
}

func TestFragment_Timing(t *testing.T) {
	opts := StreamOptions{Video: true, Audio: true, Fragments: 2, SamplesPerFragment: 3}
	var parts fmp4.Parts
	require.NoError(t, parts.Unmarshal(Fragment(opts, 1)))
	require.Len(t, parts, 1)
	require.Len(t, parts[0].Tracks, 2)

	video := parts[0].Tracks[0]
	assert.Equal(t, uint64(3*VideoSampleDuration), video.BaseTime)
	assert.Len(t, video.Samples, 3)
	assert.True(t, video.Samples[0].IsNonSyncSample)

	var first fmp4.Parts
	require.NoError(t, first.Unmarshal(Fragment(opts, 0)))
	assert.False(t, first[0].Tracks[0].Samples[0].IsNonSyncSample)
}

func TestStreamAndChunks(t *testing.T) {
	data := Stream(DefaultStream)
	chunks := Chunks(data, 100)

	var joined []byte
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 100)
		joined = append(joined, c...)
	}
	assert.Equal(t, data, joined)
	assert.InDelta(t, 1.0, VideoSeconds(DefaultStream), 1e-9)
}

func TestProgressiveMP4(t *testing.T) {
	data := ProgressiveMP4()
	assert.Equal(t, "ftyp", string(data[4:8]))
	assert.Contains(t, string(data), "moov")
	assert.NotContains(t, string(data), "mvex")
}

func TestWSServer_StreamsChunks(t *testing.T) {
	chunks := [][]byte{{1, 2, 3}, {4, 5}}
	var srv *WSServer
	srv = NewWSServer(t, func(conn *websocket.Conn) { srv.StreamHandler(chunks)(conn) })

	conn, _, err := websocket.DefaultDialer.Dial(srv.URL("/live"), nil)
	require.NoError(t, err)
	defer conn.Close()

	for _, want := range chunks {
		mt, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.BinaryMessage, mt)
		assert.Equal(t, want, data)
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	require.Eventually(t, func() bool { return len(srv.Texts()) == 1 }, 2e9, 1e7)
	assert.Equal(t, 1, srv.Accepted())
}
