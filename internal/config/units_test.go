package config

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_UnmarshalText(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"300ms", 300 * time.Millisecond},
		{"0.3", 300 * time.Millisecond},
		{"10", 10 * time.Second},
		{"2 minutes", 2 * time.Minute},
	}
	for _, tt := range tests {
		var d Duration
		require.NoError(t, d.UnmarshalText([]byte(tt.in)), tt.in)
		assert.Equal(t, tt.want, d.Duration(), tt.in)
	}

	var d Duration
	assert.Error(t, d.UnmarshalText([]byte("later")))
}

func TestDuration_JSON(t *testing.T) {
	var cfg struct {
		Text    Duration `json:"text"`
		Seconds Duration `json:"seconds"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"text":"1m30s","seconds":0.25}`), &cfg))
	assert.Equal(t, 90*time.Second, cfg.Text.Duration())
	assert.Equal(t, 250*time.Millisecond, cfg.Seconds.Duration())

	out, err := json.Marshal(Duration(10 * time.Minute))
	require.NoError(t, err)
	assert.JSONEq(t, `"10m"`, string(out))
}

func TestDuration_Seconds(t *testing.T) {
	assert.InDelta(t, 0.1, Duration(100*time.Millisecond).Seconds(), 1e-12)
}

func TestSecondsHookFunc(t *testing.T) {
	hook := secondsHookFunc()
	target := reflect.TypeOf(Duration(0))

	out, err := hook(reflect.TypeOf(0.5), target, 0.5)
	require.NoError(t, err)
	assert.Equal(t, Duration(500*time.Millisecond), out)

	out, err = hook(reflect.TypeOf(3), target, 3)
	require.NoError(t, err)
	assert.Equal(t, Duration(3*time.Second), out)

	out, err = hook(reflect.TypeOf(""), target, "5s")
	require.NoError(t, err)
	assert.Equal(t, "5s", out)

	out, err = hook(reflect.TypeOf(0.5), reflect.TypeOf(0.0), 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.5, out)
}

func TestByteSize_UnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("200KB")))
	assert.Equal(t, int64(200*1024), b.Bytes())

	assert.Error(t, b.UnmarshalText([]byte("two hundred")))
}

func TestByteSize_JSON(t *testing.T) {
	var cfg struct {
		Quoted ByteSize `json:"quoted"`
		Raw    ByteSize `json:"raw"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"quoted":"1MB","raw":4096}`), &cfg))
	assert.Equal(t, ByteSize(1<<20), cfg.Quoted)
	assert.Equal(t, ByteSize(4096), cfg.Raw)

	out, err := json.Marshal(cfg.Quoted)
	require.NoError(t, err)
	assert.JSONEq(t, `"1MB"`, string(out))
}

func TestByteSize_String(t *testing.T) {
	assert.Equal(t, "200KB", ByteSize(200*1024).String())
	text, err := ByteSize(512).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "512B", string(text))
}
