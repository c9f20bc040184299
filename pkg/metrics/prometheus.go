// Package metrics provides Prometheus metrics for the mobsense ingest service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second

	// Upload kind labels.
	KindStream = "stream"
	KindSurvey = "survey"
)

// Manager manages all Prometheus metrics for the mobsense service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Upload Pipeline Metrics - per-point classification outcomes
	pointsAccepted  *prometheus.CounterVec
	pointsDuplicate *prometheus.CounterVec
	pointsRejected  *prometheus.CounterVec
	batchesTotal    *prometheus.CounterVec
	batchesRejected prometheus.Counter
	batchSize       prometheus.Histogram
	uploadDuration  *prometheus.HistogramVec

	// Registry Metrics - definition and preference caches
	definitionsCached   *prometheus.GaugeVec
	preferenceRefreshes prometheus.Counter

	// Storage Metrics - totals reported by the store
	storedPoints    prometheus.Gauge
	storedInvalid   prometheus.Gauge
	storedResponses prometheus.Gauge

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Enhanced Error Metrics - Detailed error tracking
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "mobsense",
		subsystem:        "ingest",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	// Initialize metrics
	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	// Ensure metrics are registered on the configured registry (custom by default)
	auto := promauto.With(m.registry)

	// Upload Pipeline Metrics - classification outcomes drive data quality
	m.pointsAccepted = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "points_accepted_total",
			Help:      "Total number of points accepted and persisted, by upload kind",
		},
		[]string{"kind"},
	)

	m.pointsDuplicate = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "points_duplicate_total",
			Help:      "Total number of duplicate points skipped, by upload kind",
		},
		[]string{"kind"},
	)

	m.pointsRejected = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "points_rejected_total",
			Help:      "Total number of points rejected by validation, by upload kind",
		},
		[]string{"kind"},
	)

	m.batchesTotal = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "batches_total",
			Help:      "Total number of upload batches processed, by upload kind",
		},
		[]string{"kind"},
	)

	m.batchesRejected = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "batches_rejected_total",
		Help:      "Total number of batches rejected outright as malformed",
	})

	m.batchSize = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "batch_size_points",
		Help:      "Number of points per upload batch",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	})

	m.uploadDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "upload_duration_milliseconds",
			Help:      "End-to-end upload processing duration in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"kind"},
	)

	// Registry Metrics
	m.definitionsCached = auto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "definitions_cached",
			Help:      "Number of parsed definitions held in the registry cache",
		},
		[]string{"kind"},
	)

	m.preferenceRefreshes = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "preference_refreshes_total",
		Help:      "Total number of preference cache refreshes",
	})

	// Storage Metrics
	m.storedPoints = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "stored_points",
		Help:      "Total number of persisted stream points",
	})

	m.storedInvalid = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "stored_invalid_points",
		Help:      "Total number of persisted invalid points",
	})

	m.storedResponses = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "stored_survey_responses",
		Help:      "Total number of persisted survey responses",
	})

	// HTTP Performance Metrics - User experience indicators
	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by endpoint and method",
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_request_duration_milliseconds",
			Help:      "HTTP request duration in milliseconds (user experience)",
			Buckets:   m.histogramBuckets,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	// Enhanced Error Metrics - Detailed error tracking
	m.errorRateByComponent = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_by_component_total",
			Help:      "Total number of errors by component",
		},
		[]string{"component", "error_type"},
	)

	m.errorRateByType = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_by_type_total",
			Help:      "Total number of errors by type",
		},
		[]string{"error_type", "severity"},
	)

	m.errorRateByEndpoint = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_by_endpoint_total",
			Help:      "Total number of errors by endpoint",
		},
		[]string{"endpoint", "method", "error_type"},
	)

	m.errorLatency = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "error_latency_milliseconds",
			Help:      "Latency of operations that resulted in errors",
			Buckets:   m.histogramBuckets,
		},
		[]string{"component", "error_type"},
	)

	// System Performance Metrics
	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_memory_usage_bytes",
		Help:      "System memory usage in bytes",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_goroutine_count",
		Help:      "Number of goroutines",
	})

	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_gc_pause_time_milliseconds",
		Help:      "GC pause time in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	})
}

// RecordPointAccepted increments the accepted points counter for a kind.
func RecordPointAccepted(kind string) {
	globalManager.pointsAccepted.WithLabelValues(kind).Inc()
}

// RecordPointDuplicate increments the duplicate points counter for a kind.
func RecordPointDuplicate(kind string) {
	globalManager.pointsDuplicate.WithLabelValues(kind).Inc()
}

// RecordPointRejected increments the rejected points counter for a kind.
func RecordPointRejected(kind string) {
	globalManager.pointsRejected.WithLabelValues(kind).Inc()
}

// RecordBatch records one processed batch and its point count.
func RecordBatch(kind string, size int) {
	globalManager.batchesTotal.WithLabelValues(kind).Inc()
	globalManager.batchSize.Observe(float64(size))
}

// RecordBatchRejected increments the malformed batch counter.
func RecordBatchRejected() {
	globalManager.batchesRejected.Inc()
}

// RecordUploadDuration records end-to-end upload duration in milliseconds.
func RecordUploadDuration(kind string, durationMs float64) {
	globalManager.uploadDuration.WithLabelValues(kind).Observe(durationMs)
}

// UpdateDefinitionsCached sets the registry cache sizes.
func UpdateDefinitionsCached(observers, surveys int) {
	globalManager.definitionsCached.WithLabelValues("observer").Set(float64(observers))
	globalManager.definitionsCached.WithLabelValues("survey").Set(float64(surveys))
}

// RecordPreferenceRefresh increments the preference refresh counter.
func RecordPreferenceRefresh() {
	globalManager.preferenceRefreshes.Inc()
}

// UpdateStoredCounts sets the persisted row count gauges.
func UpdateStoredCounts(points, invalid, responses int) {
	globalManager.storedPoints.Set(float64(points))
	globalManager.storedInvalid.Set(float64(invalid))
	globalManager.storedResponses.Set(float64(responses))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Enhanced Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
