// Package config provides configuration management for wsvideo using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. WSVIDEO_PLAYER_CONNECT_LIMIT.
const EnvPrefix = "WSVIDEO"

// Default configuration values.
const (
	defaultConnectLimit       = 32
	defaultMobileConnectLimit = 10
	defaultFrameRate          = 60
	defaultHandshakeTimeout   = 10 * time.Second
	defaultHeartbeatInterval  = 30 * time.Second
	defaultHeartbeatMessage   = "ping"
	defaultReconnectAttempts  = 5
	defaultReconnectDelay     = 3 * time.Second
	defaultLiveMaxLatency     = "300ms"
	defaultMaxCacheBufByte    = "200KB"
	defaultMaxCache           = "10s"
	defaultSegmentSamples     = 1
	defaultMetricsListen      = ":9464"
)

// Config holds all configuration for the application.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Player    PlayerConfig    `mapstructure:"player"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Render    RenderConfig    `mapstructure:"render"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
	// Redact masks token-like values (query tokens, authorization) in log output.
	Redact bool `mapstructure:"redact"`
}

// PlayerConfig configures the stream manager.
type PlayerConfig struct {
	// ConnectLimit caps concurrent stream connections. Zero selects the
	// platform default.
	ConnectLimit           int  `mapstructure:"connect_limit"`
	ReparseMimeOnReconnect bool `mapstructure:"reparse_mime_on_reconnect"`
	UseWebGL               bool `mapstructure:"use_webgl"`
	FrameRate              int  `mapstructure:"frame_rate"`
}

// WebSocketConfig configures every stream's transport loader.
type WebSocketConfig struct {
	Protocols        []string        `mapstructure:"protocols"`
	HandshakeTimeout Duration        `mapstructure:"handshake_timeout"`
	Heartbeat        HeartbeatConfig `mapstructure:"heartbeat"`
	Reconnect        ReconnectConfig `mapstructure:"reconnect"`
}

// HeartbeatConfig controls keepalive text messages.
type HeartbeatConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Message  string   `mapstructure:"message"`
	Interval Duration `mapstructure:"interval"`
	Once     bool     `mapstructure:"once"`
}

// ReconnectConfig controls automatic reconnection after unexpected closes.
type ReconnectConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	MaxAttempts int      `mapstructure:"max_attempts"`
	Delay       Duration `mapstructure:"delay"`
}

// RenderConfig holds the latency and cache tuning for each stream renderer.
type RenderConfig struct {
	LiveMaxLatency  Duration `mapstructure:"live_max_latency"`
	MaxCacheBufByte ByteSize `mapstructure:"max_cache_buf_byte"`
	MaxCache        Duration `mapstructure:"max_cache"`
	SegmentSamples  int      `mapstructure:"segment_samples"`
}

// MetricsConfig controls the Prometheus endpoint of the watch command.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Example: WSVIDEO_RENDER_MAX_CACHE=20s.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/wsvideo")
		v.AddConfigPath("$HOME/.wsvideo")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return Decode(v)
}

// Decode unmarshals and validates the configuration held by v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(DecodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DecodeHook returns the mapstructure hooks needed for ByteSize, Duration
// and comma-separated lists.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		secondsHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.redact", true)

	v.SetDefault("player.connect_limit", 0)
	v.SetDefault("player.reparse_mime_on_reconnect", true)
	v.SetDefault("player.use_webgl", false)
	v.SetDefault("player.frame_rate", defaultFrameRate)

	v.SetDefault("websocket.protocols", []string{})
	v.SetDefault("websocket.handshake_timeout", defaultHandshakeTimeout.String())
	v.SetDefault("websocket.heartbeat.enabled", false)
	v.SetDefault("websocket.heartbeat.message", defaultHeartbeatMessage)
	v.SetDefault("websocket.heartbeat.interval", defaultHeartbeatInterval.String())
	v.SetDefault("websocket.heartbeat.once", false)
	v.SetDefault("websocket.reconnect.enabled", true)
	v.SetDefault("websocket.reconnect.max_attempts", defaultReconnectAttempts)
	v.SetDefault("websocket.reconnect.delay", defaultReconnectDelay.String())

	v.SetDefault("render.live_max_latency", defaultLiveMaxLatency)
	v.SetDefault("render.max_cache_buf_byte", defaultMaxCacheBufByte)
	v.SetDefault("render.max_cache", defaultMaxCache)
	v.SetDefault("render.segment_samples", defaultSegmentSamples)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", defaultMetricsListen)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Player.ConnectLimit < 0 {
		return fmt.Errorf("player.connect_limit must not be negative")
	}
	if c.Player.FrameRate < 1 || c.Player.FrameRate > 240 {
		return fmt.Errorf("player.frame_rate must be between 1 and 240")
	}

	if c.WebSocket.HandshakeTimeout < 0 {
		return fmt.Errorf("websocket.handshake_timeout must not be negative")
	}
	if c.WebSocket.Heartbeat.Enabled && !c.WebSocket.Heartbeat.Once && c.WebSocket.Heartbeat.Interval <= 0 {
		return fmt.Errorf("websocket.heartbeat.interval must be positive when heartbeat is enabled")
	}
	if c.WebSocket.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("websocket.reconnect.max_attempts must not be negative")
	}
	if c.WebSocket.Reconnect.Delay < 0 {
		return fmt.Errorf("websocket.reconnect.delay must not be negative")
	}

	if c.Render.LiveMaxLatency <= 0 {
		return fmt.Errorf("render.live_max_latency must be positive")
	}
	if c.Render.MaxCacheBufByte <= 0 {
		return fmt.Errorf("render.max_cache_buf_byte must be positive")
	}
	if c.Render.MaxCache <= 0 {
		return fmt.Errorf("render.max_cache must be positive")
	}
	if c.Render.SegmentSamples < 1 {
		return fmt.Errorf("render.segment_samples must be at least 1")
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics are enabled")
	}

	return nil
}

// EffectiveConnectLimit resolves a zero ConnectLimit to the platform default:
// mobile targets get a tighter cap.
func (c *PlayerConfig) EffectiveConnectLimit() int {
	if c.ConnectLimit > 0 {
		return c.ConnectLimit
	}
	return DefaultConnectLimit(runtime.GOOS)
}

// DefaultConnectLimit returns the connection cap for the given GOOS.
func DefaultConnectLimit(goos string) int {
	switch goos {
	case "android", "ios":
		return defaultMobileConnectLimit
	default:
		return defaultConnectLimit
	}
}

// FrameInterval returns the time between shared frame-loop ticks.
func (c *PlayerConfig) FrameInterval() time.Duration {
	if c.FrameRate <= 0 {
		return time.Second / defaultFrameRate
	}
	return time.Second / time.Duration(c.FrameRate)
}
