// Package metrics defines the Prometheus instruments for the slicing
// pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for RecordingsProcessed.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Metrics contains all Prometheus metrics for the slicer.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RecordingsProcessed *prometheus.CounterVec
	SlicesExported      prometheus.Counter
	ConversionDuration  prometheus.Histogram
	DetectionDuration   prometheus.Histogram
	ListenerFailures    prometheus.Counter
}

// New creates and registers all metrics on a private registry, together with
// the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		RecordingsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autoslicer_recordings_processed_total",
			Help: "Total number of recordings processed, by outcome",
		}, []string{"status"}),
		SlicesExported: factory.NewCounter(prometheus.CounterOpts{
			Name: "autoslicer_slices_exported_total",
			Help: "Total number of slice files exported",
		}),
		ConversionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "autoslicer_conversion_duration_seconds",
			Help:    "Time spent converting source recordings to PCM",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		DetectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "autoslicer_detection_duration_seconds",
			Help:    "Time spent detecting transients in converted PCM",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),
		ListenerFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "autoslicer_listener_failures_total",
			Help: "Total number of slice listener notifications that failed or panicked",
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordingProcessed counts a processed recording with the given outcome.
func (m *Metrics) RecordingProcessed(outcome string) {
	if m == nil {
		return
	}
	m.RecordingsProcessed.WithLabelValues(outcome).Inc()
}

// SliceExported counts n exported slice files.
func (m *Metrics) SliceExported(n int) {
	if m == nil {
		return
	}
	m.SlicesExported.Add(float64(n))
}

// ObserveConversion records a conversion duration.
func (m *Metrics) ObserveConversion(d time.Duration) {
	if m == nil {
		return
	}
	m.ConversionDuration.Observe(d.Seconds())
}

// ObserveDetection records a detection duration.
func (m *Metrics) ObserveDetection(d time.Duration) {
	if m == nil {
		return
	}
	m.DetectionDuration.Observe(d.Seconds())
}

// ListenerFailed counts a failed listener notification.
func (m *Metrics) ListenerFailed() {
	if m == nil {
		return
	}
	m.ListenerFailures.Inc()
}
