package cmd

import (
	"log/slog"

	"github.com/jmylchreest/wsvideo/internal/config"
	"github.com/jmylchreest/wsvideo/internal/metrics"
	"github.com/jmylchreest/wsvideo/internal/player"
	"github.com/jmylchreest/wsvideo/internal/renderer"
	"github.com/jmylchreest/wsvideo/internal/transport"
)

func transportOptions(c config.WebSocketConfig) transport.Options {
	opts := transport.DefaultOptions()
	opts.Protocols = append([]string(nil), c.Protocols...)
	if c.HandshakeTimeout > 0 {
		opts.HandshakeTimeout = c.HandshakeTimeout.Duration()
	}
	opts.Heartbeat = transport.HeartbeatOptions{
		Enabled:  c.Heartbeat.Enabled,
		Message:  c.Heartbeat.Message,
		Interval: c.Heartbeat.Interval.Duration(),
		Once:     c.Heartbeat.Once,
	}
	opts.Reconnect = transport.ReconnectOptions{
		Enabled:     c.Reconnect.Enabled,
		MaxAttempts: c.Reconnect.MaxAttempts,
		Delay:       c.Reconnect.Delay.Duration(),
	}
	return opts
}

func renderOptions(c config.RenderConfig) renderer.Options {
	opts := renderer.DefaultOptions()
	if c.LiveMaxLatency > 0 {
		opts.LiveMaxLatency = c.LiveMaxLatency.Duration()
	}
	if c.MaxCacheBufByte > 0 {
		opts.MaxCacheBufByte = c.MaxCacheBufByte.Bytes()
	}
	if c.MaxCache > 0 {
		opts.MaxCache = c.MaxCache.Duration()
	}
	if c.SegmentSamples > 0 {
		opts.SegmentSamples = c.SegmentSamples
	}
	return opts
}

func playerOptions(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) player.Options {
	return player.Options{
		ConnectLimit:           cfg.Player.EffectiveConnectLimit(),
		ReparseMimeOnReconnect: cfg.Player.ReparseMimeOnReconnect,
		UseWebGL:               cfg.Player.UseWebGL,
		Transport:              transportOptions(cfg.WebSocket),
		Render:                 renderOptions(cfg.Render),
		Logger:                 logger,
		Metrics:                m,
	}
}
