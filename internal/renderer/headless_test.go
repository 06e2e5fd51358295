package renderer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/wsvideo/internal/loop"
	"github.com/jmylchreest/wsvideo/internal/metrics"
	"github.com/jmylchreest/wsvideo/internal/mse"
	"github.com/jmylchreest/wsvideo/internal/observability"
	"github.com/jmylchreest/wsvideo/internal/testutil"
)

func TestRenderer_HeadlessPipeline(t *testing.T) {
	m := loop.NewManual(time.Time{})
	platform := mse.NewHeadless(m, mse.HeadlessOptions{Logger: observability.Discard()})
	opts := DefaultOptions()
	opts.Logger = observability.Discard()
	opts.Metrics = metrics.New()
	r := New(m, platform, opts)

	for _, c := range testutil.Chunks(testutil.Stream(testutil.DefaultStream), 500) {
		require.NoError(t, r.AppendBuffer(c))
	}
	m.Flush()
	m.Frame()

	assert.Equal(t, StatePlaying, r.State())
	stats := r.Stats()
	assert.Equal(t, `video/mp4; codecs="avc1.64001F,mp4a.40.2"`, stats.MIME)
	assert.Equal(t, testutil.VideoWidth, stats.Width)
	assert.Equal(t, testutil.VideoHeight, stats.Height)
	assert.InDelta(t, testutil.VideoSeconds(testutil.DefaultStream), stats.BufferedEnd, 1e-6)
	assert.InDelta(t, stats.BufferedEnd-SeekEpsilon, stats.CurrentTime, 1e-6)
	assert.InDelta(t, SeekEpsilon, stats.Latency, 1e-6)
	assert.Zero(t, stats.QueuedBytes)

	r.Destroy()
	assert.Zero(t, m.PendingFrames())
	assert.Zero(t, m.PendingTimers())
	assert.Zero(t, platform.ObjectURLs())
	assert.Equal(t, "destroyed", r.Stats().State)
}
