package cmd

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/wsvideo/internal/config"
	"github.com/jmylchreest/wsvideo/internal/demux"
	"github.com/jmylchreest/wsvideo/internal/observability"
	"github.com/jmylchreest/wsvideo/internal/probe"
	"github.com/jmylchreest/wsvideo/internal/version"
)

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.Decode(v)
	require.NoError(t, err)
	return cfg
}

func TestTransportOptions(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.WebSocket.Protocols = []string{"fmp4"}
	cfg.WebSocket.Heartbeat.Enabled = true
	cfg.WebSocket.Reconnect.MaxAttempts = 7

	opts := transportOptions(cfg.WebSocket)
	assert.Equal(t, []string{"fmp4"}, opts.Protocols)
	assert.True(t, opts.Heartbeat.Enabled)
	assert.Equal(t, "ping", opts.Heartbeat.Message)
	assert.Equal(t, 30*time.Second, opts.Heartbeat.Interval)
	assert.True(t, opts.Reconnect.Enabled)
	assert.Equal(t, 7, opts.Reconnect.MaxAttempts)
	assert.Equal(t, 3*time.Second, opts.Reconnect.Delay)
	assert.Equal(t, 10*time.Second, opts.HandshakeTimeout)
}

func TestRenderOptions(t *testing.T) {
	cfg := defaultConfig(t)
	opts := renderOptions(cfg.Render)
	assert.Equal(t, 300*time.Millisecond, opts.LiveMaxLatency)
	assert.Equal(t, 10*time.Second, opts.MaxCache)
	assert.Equal(t, int64(200*1024), opts.MaxCacheBufByte)
	assert.Equal(t, 1, opts.SegmentSamples)
}

func TestPlayerOptions(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Player.ConnectLimit = 2
	logger := observability.Discard()

	opts := playerOptions(cfg, nil, logger)
	assert.Equal(t, 2, opts.ConnectLimit)
	assert.True(t, opts.ReparseMimeOnReconnect)
	assert.False(t, opts.UseWebGL)
	assert.Same(t, logger, opts.Logger)
}

func TestWriteConfig(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeConfig(&buf, defaultConfig(t)))

	var out map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "10s", out["render"]["max_cache"])
	assert.Equal(t, "info", out["logging"]["level"])
	assert.Contains(t, out, "websocket")
	assert.Contains(t, buf.String(), "WSVIDEO_")
}

func TestWriteResult(t *testing.T) {
	res := &probe.Result{
		URL: "ws://example.test/live",
		Info: demux.Info{
			IsFragmented: true,
			MIME:         `video/mp4; codecs="avc1.64001F"`,
		},
	}

	var js bytes.Buffer
	require.NoError(t, writeOutput(&js, "json", res))
	assert.Contains(t, js.String(), `"is_fragmented": true`)

	var ym bytes.Buffer
	require.NoError(t, writeOutput(&ym, "yaml", res))
	assert.Contains(t, ym.String(), "is_fragmented: true")

	assert.Error(t, writeOutput(&ym, "xml", res))
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	t.Cleanup(func() {
		versionCmd.SetOut(nil)
		_ = versionCmd.Flags().Set("output", "text")
	})

	require.NoError(t, versionCmd.RunE(versionCmd, nil))
	assert.Contains(t, buf.String(), "wsvideo version")

	buf.Reset()
	require.NoError(t, versionCmd.Flags().Set("output", "json"))
	require.NoError(t, versionCmd.RunE(versionCmd, nil))
	var info version.Info
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	assert.Equal(t, version.Version, info.Version)

	require.NoError(t, versionCmd.Flags().Set("output", "xml"))
	assert.Error(t, versionCmd.RunE(versionCmd, nil))
}
