// Package metrics provides Prometheus metrics for the tablewatch pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector exported by the pipeline.
type Manager struct {
	enabled  bool
	registry prometheus.Registerer

	// Detection metrics
	measurements      *prometheus.CounterVec
	confidence        *prometheus.HistogramVec
	detectionDuration *prometheus.HistogramVec
	sanityViolations  *prometheus.CounterVec
	fallbacks         *prometheus.CounterVec
	fallbackStreak    *prometheus.GaugeVec
	framesProcessed   prometheus.Counter
	frameDuration     prometheus.Histogram
	fps               *prometheus.GaugeVec

	// Cache metrics
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	cacheSize      *prometheus.GaugeVec

	// Event batching metrics
	eventsEmitted    *prometheus.CounterVec
	eventsSuppressed prometheus.Counter
	eventsDropped    *prometheus.CounterVec
	batchesDelivered prometheus.Counter
	batchSize        prometheus.Histogram
	batchErrors      prometheus.Counter
	batchRetries     prometheus.Counter
	batchPending     prometheus.Gauge

	// Ingestion queue metrics
	queueSize               *prometheus.GaugeVec
	queueCapacity           *prometheus.GaugeVec
	queueEnqueued           *prometheus.CounterVec
	queueDequeued           *prometheus.CounterVec
	queueEnqueueErrors      *prometheus.CounterVec
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// Persistence metrics
	persistenceSaves    prometheus.Counter
	persistenceErrors   *prometheus.CounterVec
	persistenceDuration prometheus.Histogram
	persistenceLastUnix prometheus.Gauge

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// Every collector is named tablewatch_pipeline_<name>.
const (
	namespace = "tablewatch"
	subsystem = "pipeline"
)

// confidenceBuckets cover [0,1] in tenths.
var confidenceBuckets = prometheus.LinearBuckets(0.1, 0.1, 10) //nolint:gochecknoglobals // fixed bucket layout

// latencyBuckets are in milliseconds.
var latencyBuckets = []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000} //nolint:gochecknoglobals // fixed bucket layout

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		enabled:  true,
		registry: prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)
	b := latencyBuckets

	m.measurements = auto.NewCounterVec(m.counterOpts("measurements_total",
		"Measurements handled by the dispatcher by field and outcome"), []string{"field", "outcome"})
	m.confidence = auto.NewHistogramVec(m.histogramOpts("measurement_confidence",
		"Confidence of incoming measurements", confidenceBuckets), []string{"field"})
	m.detectionDuration = auto.NewHistogramVec(m.histogramOpts("detection_duration_milliseconds",
		"Recognition duration reported by the sensing layer", b), []string{"field"})
	m.sanityViolations = auto.NewCounterVec(m.counterOpts("sanity_violations_total",
		"Sanity violations by field and severity"), []string{"field", "severity"})
	m.fallbacks = auto.NewCounterVec(m.counterOpts("fallbacks_total",
		"Last-known-good substitutions by field and severity"), []string{"field", "severity"})
	m.fallbackStreak = auto.NewGaugeVec(m.gaugeOpts("fallback_streak",
		"Current consecutive failure streak per field"), []string{"field"})
	m.framesProcessed = auto.NewCounter(m.counterOpts("frames_total", "Frames closed by the dispatcher"))
	m.frameDuration = auto.NewHistogram(m.histogramOpts("frame_duration_milliseconds",
		"Time between BeginFrame and EndFrame", b))
	m.fps = auto.NewGaugeVec(m.gaugeOpts("fps", "Average throughput per stream"), []string{"stream"})

	m.cacheHits = auto.NewCounterVec(m.counterOpts("cache_hits_total", "Cache hits"), []string{"cache"})
	m.cacheMisses = auto.NewCounterVec(m.counterOpts("cache_misses_total", "Cache misses including expiries"), []string{"cache"})
	m.cacheEvictions = auto.NewCounterVec(m.counterOpts("cache_evictions_total", "LRU evictions"), []string{"cache"})
	m.cacheSize = auto.NewGaugeVec(m.gaugeOpts("cache_size", "Entries currently cached"), []string{"cache"})

	m.eventsEmitted = auto.NewCounterVec(m.counterOpts("events_emitted_total",
		"Events accepted by the batcher by kind and confidence level"), []string{"kind", "level"})
	m.eventsSuppressed = auto.NewCounter(m.counterOpts("events_suppressed_total",
		"Events suppressed by the dedup window"))
	m.eventsDropped = auto.NewCounterVec(m.counterOpts("events_dropped_total",
		"Events dropped before delivery"), []string{"reason"})
	m.batchesDelivered = auto.NewCounter(m.counterOpts("batches_delivered_total", "Batches handed to the sink"))
	m.batchSize = auto.NewHistogram(m.histogramOpts("batch_size", "Events per delivered batch",
		prometheus.ExponentialBuckets(1, 2, 8)))
	m.batchErrors = auto.NewCounter(m.counterOpts("batch_delivery_errors_total", "Batches dropped after retries"))
	m.batchRetries = auto.NewCounter(m.counterOpts("batch_delivery_retries_total", "Sink delivery retries"))
	m.batchPending = auto.NewGauge(m.gaugeOpts("batch_pending", "Events waiting for the next flush"))

	m.queueSize = auto.NewGaugeVec(m.gaugeOpts("queue_size", "Measurements waiting per field queue"), []string{"field"})
	m.queueCapacity = auto.NewGaugeVec(m.gaugeOpts("queue_capacity", "Capacity per field queue"), []string{"field"})
	m.queueEnqueued = auto.NewCounterVec(m.counterOpts("queue_enqueue_total", "Measurements enqueued"), []string{"field"})
	m.queueDequeued = auto.NewCounterVec(m.counterOpts("queue_dequeue_total", "Measurements dequeued"), []string{"field"})
	m.queueEnqueueErrors = auto.NewCounterVec(m.counterOpts("queue_enqueue_errors_total",
		"Rejected enqueues by reason"), []string{"field", "reason"})
	m.workerProcessingLatency = auto.NewHistogram(m.histogramOpts("worker_processing_latency_milliseconds",
		"Time a worker spends applying one measurement", b))
	m.workerErrors = auto.NewCounter(m.counterOpts("worker_errors_total", "Worker apply errors"))

	m.persistenceSaves = auto.NewCounter(m.counterOpts("persistence_saves_total", "Snapshots durably saved"))
	m.persistenceErrors = auto.NewCounterVec(m.counterOpts("persistence_errors_total",
		"Persistence failures by operation"), []string{"op"})
	m.persistenceDuration = auto.NewHistogram(m.histogramOpts("persistence_save_duration_milliseconds",
		"Snapshot save duration", b))
	m.persistenceLastUnix = auto.NewGauge(m.gaugeOpts("persistence_last_save_unix",
		"Unix time of the last successful save"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"Total number of HTTP requests by endpoint and method"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", b), []string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = auto.NewCounterVec(m.counterOpts("errors_by_component_total",
		"Errors by component and type"), []string{"component", "error_type"})
	m.errorRateByType = auto.NewCounterVec(m.counterOpts("errors_by_type_total",
		"Errors by type and severity"), []string{"error_type", "severity"})
	m.errorRateByEndpoint = auto.NewCounterVec(m.counterOpts("errors_by_endpoint_total",
		"HTTP errors by endpoint"), []string{"endpoint", "method", "error_type"})
	m.errorLatency = auto.NewHistogramVec(m.histogramOpts("error_latency_milliseconds",
		"Latency of operations that failed", b), []string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_bytes", "Heap bytes allocated"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutines", "Goroutine count"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_milliseconds",
		"Average GC pause", b))
}

func on() bool { return globalManager != nil && globalManager.enabled }

// Detection Metrics Functions.

// RecordMeasurement counts a measurement outcome (accepted, below_threshold,
// rejected, failed, cached).
func RecordMeasurement(field, outcome string) {
	if on() {
		globalManager.measurements.WithLabelValues(field, outcome).Inc()
	}
}

// ObserveConfidence records the confidence of a measurement.
func ObserveConfidence(field string, c float64) {
	if on() {
		globalManager.confidence.WithLabelValues(field).Observe(c)
	}
}

// ObserveDetectionDuration records a recognition duration in milliseconds.
func ObserveDetectionDuration(field string, ms float64) {
	if on() {
		globalManager.detectionDuration.WithLabelValues(field).Observe(ms)
	}
}

// RecordSanityViolation counts one violation.
func RecordSanityViolation(field, severity string) {
	if on() {
		globalManager.sanityViolations.WithLabelValues(field, severity).Inc()
	}
}

// RecordFallback counts one last-known-good substitution.
func RecordFallback(field, severity string) {
	if on() {
		globalManager.fallbacks.WithLabelValues(field, severity).Inc()
	}
}

// UpdateFallbackStreak sets the failure streak of a field.
func UpdateFallbackStreak(field string, streak int) {
	if on() {
		globalManager.fallbackStreak.WithLabelValues(field).Set(float64(streak))
	}
}

// RecordFrame counts a closed frame and its duration.
func RecordFrame(durationMs float64) {
	if on() {
		globalManager.framesProcessed.Inc()
		globalManager.frameDuration.Observe(durationMs)
	}
}

// UpdateFPS sets the average FPS of a stream.
func UpdateFPS(stream string, fps float64) {
	if on() {
		globalManager.fps.WithLabelValues(stream).Set(fps)
	}
}

// Cache Metrics Functions.

// RecordCacheHit counts a cache hit.
func RecordCacheHit(cache string) {
	if on() {
		globalManager.cacheHits.WithLabelValues(cache).Inc()
	}
}

// RecordCacheMiss counts a cache miss.
func RecordCacheMiss(cache string) {
	if on() {
		globalManager.cacheMisses.WithLabelValues(cache).Inc()
	}
}

// RecordCacheEviction counts an LRU eviction.
func RecordCacheEviction(cache string) {
	if on() {
		globalManager.cacheEvictions.WithLabelValues(cache).Inc()
	}
}

// UpdateCacheSize sets the number of cached entries.
func UpdateCacheSize(cache string, size int) {
	if on() {
		globalManager.cacheSize.WithLabelValues(cache).Set(float64(size))
	}
}

// Event Batching Metrics Functions.

// RecordEventEmitted counts an event accepted by the batcher.
func RecordEventEmitted(kind, level string) {
	if on() {
		globalManager.eventsEmitted.WithLabelValues(kind, level).Inc()
	}
}

// RecordEventSuppressed counts an event suppressed by dedup.
func RecordEventSuppressed() {
	if on() {
		globalManager.eventsSuppressed.Inc()
	}
}

// RecordEventDropped counts events dropped for reason.
func RecordEventDropped(reason string, n int) {
	if on() {
		globalManager.eventsDropped.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordBatchDelivered counts a delivered batch and its size.
func RecordBatchDelivered(size int) {
	if on() {
		globalManager.batchesDelivered.Inc()
		globalManager.batchSize.Observe(float64(size))
	}
}

// RecordBatchDeliveryError counts a batch dropped after retries.
func RecordBatchDeliveryError() {
	if on() {
		globalManager.batchErrors.Inc()
	}
}

// RecordBatchRetry counts a delivery retry.
func RecordBatchRetry() {
	if on() {
		globalManager.batchRetries.Inc()
	}
}

// UpdateBatchPending sets the number of pending events.
func UpdateBatchPending(n int) {
	if on() {
		globalManager.batchPending.Set(float64(n))
	}
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current size of a field queue.
func UpdateQueueSize(field string, size int) {
	if on() {
		globalManager.queueSize.WithLabelValues(field).Set(float64(size))
	}
}

// UpdateQueueCapacity sets the capacity of a field queue.
func UpdateQueueCapacity(field string, capacity int) {
	if on() {
		globalManager.queueCapacity.WithLabelValues(field).Set(float64(capacity))
	}
}

// RecordQueueEnqueue counts an enqueued measurement.
func RecordQueueEnqueue(field string) {
	if on() {
		globalManager.queueEnqueued.WithLabelValues(field).Inc()
	}
}

// RecordQueueDequeue counts a dequeued measurement.
func RecordQueueDequeue(field string) {
	if on() {
		globalManager.queueDequeued.WithLabelValues(field).Inc()
	}
}

// RecordQueueEnqueueError counts a rejected enqueue.
func RecordQueueEnqueueError(field, reason string) {
	if on() {
		globalManager.queueEnqueueErrors.WithLabelValues(field, reason).Inc()
	}
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if on() {
		globalManager.workerProcessingLatency.Observe(latencyMs)
	}
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	if on() {
		globalManager.workerErrors.Inc()
	}
}

// Persistence Metrics Functions.

// RecordPersistenceSave records a successful save.
func RecordPersistenceSave(durationMs float64, unix int64) {
	if on() {
		globalManager.persistenceSaves.Inc()
		globalManager.persistenceDuration.Observe(durationMs)
		globalManager.persistenceLastUnix.Set(float64(unix))
	}
}

// RecordPersistenceError counts a failed save or load.
func RecordPersistenceError(op string) {
	if on() {
		globalManager.persistenceErrors.WithLabelValues(op).Inc()
	}
}

// HTTP Metrics Functions.

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if on() {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if on() {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// Enhanced Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	if on() {
		globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
	}
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	if on() {
		globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
	}
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if on() {
		globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
	}
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	if on() {
		globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
	}
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if on() {
		globalManager.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if on() {
		globalManager.systemGoroutineCount.Set(float64(count))
	}
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	if on() {
		globalManager.systemGCPauseTime.Observe(pauseMs)
	}
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
