// Package observability wires the Prometheus registry and its HTTP handler.
package observability

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/kapt/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Capture  *metrics.CaptureMetrics
	Kapture  *metrics.KaptureMetrics
	HTTP     *metrics.HTTPMetrics
}

// NewMetrics creates a registry with process and Go runtime collectors and
// all kapt collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	captureMetrics, err := metrics.NewCaptureMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture metrics: %w", err)
	}

	kaptureMetrics, err := metrics.NewKaptureMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create kapture metrics: %w", err)
	}

	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Capture:  captureMetrics,
		Kapture:  kaptureMetrics,
		HTTP:     httpMetrics,
	}, nil
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
