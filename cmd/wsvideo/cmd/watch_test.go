package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/wsvideo/internal/config"
	"github.com/jmylchreest/wsvideo/internal/metrics"
	"github.com/jmylchreest/wsvideo/internal/testutil"
)

func setWatchFlags(t *testing.T, values map[string]string) {
	t.Helper()
	for name, value := range values {
		flag := watchCmd.Flags().Lookup(name)
		require.NotNil(t, flag, name)
		def := flag.DefValue
		require.NoError(t, watchCmd.Flags().Set(name, value))
		t.Cleanup(func() {
			_ = watchCmd.Flags().Set(name, def)
			flag.Changed = false
		})
	}
}

func TestRunWatch_StopsAfterDuration(t *testing.T) {
	config.SetDefaults(viper.GetViper())

	disconnected := make(chan struct{})
	var srv *testutil.WSServer
	srv = testutil.NewWSServer(t, func(conn *websocket.Conn) {
		defer close(disconnected)
		srv.StreamHandler(testutil.Chunks(testutil.Stream(testutil.DefaultStream), 4096))(conn)
	})

	setWatchFlags(t, map[string]string{
		"duration":       "300ms",
		"stats-interval": "20ms",
		"canvases":       "2",
		"metrics":        "true",
		"metrics-listen": "127.0.0.1:0",
	})

	watchCmd.SetContext(context.Background())
	start := time.Now()
	require.NoError(t, runWatch(watchCmd, []string{srv.URL("/live")}))
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)

	// Both canvases share one connection, which is closed on shutdown.
	assert.Equal(t, 1, srv.Accepted())
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("stream connection still open after watch returned")
	}
}

func TestRunWatch_RejectsInvalidInput(t *testing.T) {
	config.SetDefaults(viper.GetViper())
	watchCmd.SetContext(context.Background())

	assert.Error(t, runWatch(watchCmd, []string{"http://example.com/live"}))

	setWatchFlags(t, map[string]string{"canvases": "0"})
	assert.Error(t, runWatch(watchCmd, []string{"ws://example.com/live"}))
}

func TestMetricsRouter(t *testing.T) {
	m := metrics.New()
	m.IncFramesDrawn()
	srv := httptest.NewServer(metricsRouter(m))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
