// Package metrics provides Prometheus collectors for kapt.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CaptureMetrics contains Prometheus metrics for the capture pipeline.
// All record methods are safe to call on a nil receiver.
type CaptureMetrics struct {
	registry *prometheus.Registry

	chunksTotal      *prometheus.CounterVec
	spawnErrorsTotal *prometheus.CounterVec
	evictionsTotal   *prometheus.CounterVec
	stopLatency      prometheus.Histogram
	bufferedChunks   prometheus.Gauge
	bufferedSpan     prometheus.Gauge
}

// NewCaptureMetrics creates and registers new capture metrics
func NewCaptureMetrics(registry *prometheus.Registry) (*CaptureMetrics, error) {
	m := &CaptureMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *CaptureMetrics) initMetrics() {
	m.chunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kapt_capture_chunks_total",
			Help: "Total number of finished capture chunks by outcome",
		},
		[]string{"status"}, // buffered, discarded, skipped
	)

	m.spawnErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kapt_capture_spawn_errors_total",
			Help: "Total number of capture processes that failed to start",
		},
		[]string{"stream"}, // video, audio
	)

	m.evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kapt_capture_chunks_evicted_total",
			Help: "Total number of chunks removed from the rolling buffer",
		},
		[]string{"reason"}, // expired, clear
	)

	m.stopLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kapt_capture_stop_latency_seconds",
			Help:    "Time from quit signal until both capture processes exited",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		},
	)

	m.bufferedChunks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kapt_capture_buffered_chunks",
			Help: "Number of chunks currently in the rolling buffer",
		},
	)

	m.bufferedSpan = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kapt_capture_buffered_seconds",
			Help: "Wall-clock span covered by the rolling buffer",
		},
	)
}

// Describe implements the Collector interface
func (m *CaptureMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.chunksTotal.Describe(ch)
	m.spawnErrorsTotal.Describe(ch)
	m.evictionsTotal.Describe(ch)
	m.stopLatency.Describe(ch)
	m.bufferedChunks.Describe(ch)
	m.bufferedSpan.Describe(ch)
}

// Collect implements the Collector interface
func (m *CaptureMetrics) Collect(ch chan<- prometheus.Metric) {
	m.chunksTotal.Collect(ch)
	m.spawnErrorsTotal.Collect(ch)
	m.evictionsTotal.Collect(ch)
	m.stopLatency.Collect(ch)
	m.bufferedChunks.Collect(ch)
	m.bufferedSpan.Collect(ch)
}

// RecordChunk counts a finished chunk by outcome
func (m *CaptureMetrics) RecordChunk(status string) {
	if m == nil {
		return
	}
	m.chunksTotal.WithLabelValues(status).Inc()
}

// RecordSpawnError counts a capture process that failed to start
func (m *CaptureMetrics) RecordSpawnError(stream string) {
	if m == nil {
		return
	}
	m.spawnErrorsTotal.WithLabelValues(stream).Inc()
}

// RecordEviction counts chunks dropped from the buffer
func (m *CaptureMetrics) RecordEviction(reason string, n int) {
	if m == nil {
		return
	}
	m.evictionsTotal.WithLabelValues(reason).Add(float64(n))
}

// ObserveStopLatency records how long a slot took to stop
func (m *CaptureMetrics) ObserveStopLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.stopLatency.Observe(d.Seconds())
}

// SetBuffered publishes the current buffer depth
func (m *CaptureMetrics) SetBuffered(chunks int, span time.Duration) {
	if m == nil {
		return
	}
	m.bufferedChunks.Set(float64(chunks))
	m.bufferedSpan.Set(span.Seconds())
}
