package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// KaptureMetrics contains Prometheus metrics for clip extraction.
// All record methods are safe to call on a nil receiver.
type KaptureMetrics struct {
	registry *prometheus.Registry

	kapturesTotal   *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	segmentsPerClip prometheus.Histogram
	clipLength      prometheus.Histogram
}

// NewKaptureMetrics creates and registers new kapture metrics
func NewKaptureMetrics(registry *prometheus.Registry) (*KaptureMetrics, error) {
	m := &KaptureMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *KaptureMetrics) initMetrics() {
	m.kapturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kapt_kaptures_total",
			Help: "Total number of kapture requests by outcome",
		},
		[]string{"status"}, // success, out_of_range, failed
	)

	m.stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kapt_kapture_step_duration_seconds",
			Help:    "Time spent in each kapture step",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"step"}, // suspend, trim, concat, total
	)

	m.segmentsPerClip = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kapt_kapture_segments",
			Help:    "Number of trimmed segments joined into one clip",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		},
	)

	m.clipLength = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kapt_kapture_clip_seconds",
			Help:    "Length of produced clips",
			Buckets: prometheus.LinearBuckets(5, 5, 24), // 5s to 2m
		},
	)
}

// Describe implements the Collector interface
func (m *KaptureMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.kapturesTotal.Describe(ch)
	m.stepDuration.Describe(ch)
	m.segmentsPerClip.Describe(ch)
	m.clipLength.Describe(ch)
}

// Collect implements the Collector interface
func (m *KaptureMetrics) Collect(ch chan<- prometheus.Metric) {
	m.kapturesTotal.Collect(ch)
	m.stepDuration.Collect(ch)
	m.segmentsPerClip.Collect(ch)
	m.clipLength.Collect(ch)
}

// RecordKapture counts a kapture request by outcome
func (m *KaptureMetrics) RecordKapture(status string) {
	if m == nil {
		return
	}
	m.kapturesTotal.WithLabelValues(status).Inc()
}

// ObserveStep records the duration of one kapture step
func (m *KaptureMetrics) ObserveStep(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// ObserveClip records the shape of a produced clip
func (m *KaptureMetrics) ObserveClip(segments int, length time.Duration) {
	if m == nil {
		return
	}
	m.segmentsPerClip.Observe(float64(segments))
	m.clipLength.Observe(length.Seconds())
}
