package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for hookbin
type PrometheusMetrics struct {
	// Capture metrics
	CapturesTotal   *prometheus.CounterVec
	CaptureDuration prometheus.Histogram

	// Live stream metrics
	ActiveSubscribers  prometheus.Gauge
	StreamEventsTotal  prometheus.Counter
	DroppedSubscribers prometheus.Counter

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		CapturesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookbin_captures_total",
				Help: "Total number of capture requests handled",
			},
			[]string{"status"},
		),

		CaptureDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hookbin_capture_duration_seconds",
				Help:    "Time spent turning an inbound request into a stored entry",
				Buckets: prometheus.DefBuckets,
			},
		),

		ActiveSubscribers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "hookbin_active_subscribers",
				Help: "Number of currently open live stream connections",
			},
		),

		StreamEventsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hookbin_stream_events_total",
				Help: "Total number of entries fanned out to subscribers",
			},
		),

		DroppedSubscribers: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hookbin_dropped_subscribers_total",
				Help: "Total number of subscribers dropped for not keeping up",
			},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookbin_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hookbin_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "hookbin_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hookbin_component_health",
				Help: "Component health status (1 healthy, 0 unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "hookbin_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "hookbin_goroutines",
				Help: "Current number of goroutines",
			},
		),
	}
}

// RecordCapture records the outcome of one capture request
func (m *PrometheusMetrics) RecordCapture(status string, duration time.Duration) {
	m.CapturesTotal.WithLabelValues(status).Inc()
	m.CaptureDuration.Observe(duration.Seconds())
}

// RecordHTTPRequest records one HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateComponentHealth updates a component's health gauge
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage gauge
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count gauge
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}

// UpdateApplicationUptime updates the uptime gauge
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateActiveSubscribers sets the open subscriber gauge
func (m *PrometheusMetrics) UpdateActiveSubscribers(count int) {
	m.ActiveSubscribers.Set(float64(count))
}
