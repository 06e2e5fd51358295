// Package metrics holds the Prometheus instruments for stream playback.
// A nil *Metrics is valid and records nothing, so components can take one
// optionally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wsvideo"

// Metrics holds Prometheus counters and gauges for the player.
type Metrics struct {
	registry *prometheus.Registry

	activeStreams      prometheus.Gauge
	activeCanvases     prometheus.Gauge
	capacityRejections prometheus.Counter
	reconnectAttempts  prometheus.Counter
	bytesReceived      prometheus.Counter
	segmentsAppended   *prometheus.CounterVec
	appendErrors       prometheus.Counter
	queueEvictions     prometheus.Counter
	liveSeeks          prometheus.Counter
	cacheRemovals      prometheus.Counter
	framesDrawn        prometheus.Counter
	latencySeconds     prometheus.Histogram
}

// New creates and registers the player metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Number of open stream connections",
		}),
		activeCanvases: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_canvases",
			Help:      "Number of canvases attached to streams",
		}),
		capacityRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capacity_rejections_total",
			Help:      "Canvas registrations refused because the connection limit was reached",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Automatic reconnection attempts scheduled",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "received_bytes_total",
			Help:      "Binary payload bytes received from stream sockets",
		}),
		segmentsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_appended_total",
			Help:      "Media appends issued to source buffers",
		}, []string{"track"}),
		appendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "append_errors_total",
			Help:      "Source buffer append failures",
		}),
		queueEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_evictions_total",
			Help:      "Queued segments dropped to stay under the per-track byte limit",
		}),
		liveSeeks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_seeks_total",
			Help:      "Playhead jumps back to the live edge",
		}),
		cacheRemovals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_removals_total",
			Help:      "Buffered ranges removed from source buffers",
		}),
		framesDrawn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_drawn_total",
			Help:      "Frames drawn onto canvases",
		}),
		latencySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "live_latency_seconds",
			Help:      "Distance between the playhead and the buffered live edge",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.3, 0.5, 1, 2, 5},
		}),
	}

	registry.MustRegister(
		m.activeStreams,
		m.activeCanvases,
		m.capacityRejections,
		m.reconnectAttempts,
		m.bytesReceived,
		m.segmentsAppended,
		m.appendErrors,
		m.queueEvictions,
		m.liveSeeks,
		m.cacheRemovals,
		m.framesDrawn,
		m.latencySeconds,
	)

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SetActiveStreams(n int) {
	if m == nil {
		return
	}
	m.activeStreams.Set(float64(n))
}

func (m *Metrics) SetActiveCanvases(n int) {
	if m == nil {
		return
	}
	m.activeCanvases.Set(float64(n))
}

func (m *Metrics) IncCapacityRejections() {
	if m == nil {
		return
	}
	m.capacityRejections.Inc()
}

func (m *Metrics) IncReconnectAttempts() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *Metrics) AddBytesReceived(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesReceived.Add(float64(n))
}

// IncSegmentsAppended counts one append for the given track kind ("video"
// or "audio").
func (m *Metrics) IncSegmentsAppended(track string) {
	if m == nil {
		return
	}
	m.segmentsAppended.WithLabelValues(track).Inc()
}

func (m *Metrics) IncAppendErrors() {
	if m == nil {
		return
	}
	m.appendErrors.Inc()
}

func (m *Metrics) AddQueueEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.queueEvictions.Add(float64(n))
}

func (m *Metrics) IncLiveSeeks() {
	if m == nil {
		return
	}
	m.liveSeeks.Inc()
}

func (m *Metrics) IncCacheRemovals() {
	if m == nil {
		return
	}
	m.cacheRemovals.Inc()
}

func (m *Metrics) IncFramesDrawn() {
	if m == nil {
		return
	}
	m.framesDrawn.Inc()
}

// ObserveLatency records the live-edge distance in seconds.
func (m *Metrics) ObserveLatency(seconds float64) {
	if m == nil || seconds < 0 {
		return
	}
	m.latencySeconds.Observe(seconds)
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
