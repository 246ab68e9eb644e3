// Package metrics provides Prometheus metrics for the raidsync ingestion service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the ingestion service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Upload pipeline
	uploads         *prometheus.CounterVec
	uploadLatency   prometheus.Histogram
	pendingActive   prometheus.Gauge
	pendingMerges   prometheus.Counter
	finalized       *prometheus.CounterVec
	finalizeLatency prometheus.Histogram

	// Admission guard
	admissionActive   prometheus.Gauge
	admissionRejected prometheus.Counter
	admissionSwept    prometheus.Counter

	// RPC channel
	rpcCalls      *prometheus.CounterVec
	rpcLatency    *prometheus.HistogramVec
	rpcWaiters    prometheus.Gauge
	rpcReconnects prometheus.Counter
	rpcConnected  prometheus.Gauge

	// Storage and secrets
	storeLatency  *prometheus.HistogramVec
	secretsLookup *prometheus.CounterVec

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Queue Metrics - finalize job backlog
	queueCapacity          prometheus.Gauge
	queueSize              prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker Metrics
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	errorRateByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "raidsync",
		subsystem:        "ingest",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}
}

func (m *Manager) gauge(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogram(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.constLabels, Buckets: m.histogramBuckets,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.uploads = auto.NewCounterVec(m.counter("uploads_total", "Uploads received by outcome"), []string{"outcome"})
	m.uploadLatency = auto.NewHistogram(m.histogram("upload_latency_milliseconds", "End-to-end upload handling latency in milliseconds"))
	m.pendingActive = auto.NewGauge(m.gauge("pending_aggregations", "Pending aggregations waiting for their window to close"))
	m.pendingMerges = auto.NewCounter(m.counter("pending_merges_total", "Uploads merged into an existing pending aggregation"))
	m.finalized = auto.NewCounterVec(m.counter("finalized_total", "Finalized aggregations by resulting status"), []string{"status"})
	m.finalizeLatency = auto.NewHistogram(m.histogram("finalize_latency_milliseconds", "Finalization latency in milliseconds"))

	m.admissionActive = auto.NewGauge(m.gauge("admission_active", "Identities holding an in-flight upload slot"))
	m.admissionRejected = auto.NewCounter(m.counter("admission_rejected_total", "Uploads rejected because the identity already had one in flight"))
	m.admissionSwept = auto.NewCounter(m.counter("admission_swept_total", "Stale admission records removed by the sweep"))

	m.rpcCalls = auto.NewCounterVec(m.counter("rpc_calls_total", "RPC calls by message kind and outcome"), []string{"kind", "outcome"})
	m.rpcLatency = auto.NewHistogramVec(m.histogram("rpc_latency_milliseconds", "RPC round-trip latency in milliseconds"), []string{"kind"})
	m.rpcWaiters = auto.NewGauge(m.gauge("rpc_waiters", "RPC calls waiting for a response"))
	m.rpcReconnects = auto.NewCounter(m.counter("rpc_reconnects_total", "RPC reconnect attempts"))
	m.rpcConnected = auto.NewGauge(m.gauge("rpc_connected", "1 while the RPC channel is connected"))

	m.storeLatency = auto.NewHistogramVec(m.histogram("store_latency_milliseconds", "Store operation latency in milliseconds"), []string{"op"})
	m.secretsLookup = auto.NewCounterVec(m.counter("secrets_lookups_total", "Secret lookups by cache result"), []string{"result"})

	m.httpRequests = auto.NewCounterVec(
		m.counter("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogram("http_request_duration_milliseconds", "HTTP request duration in milliseconds"),
		[]string{"endpoint", "method", "status_code"},
	)

	m.queueCapacity = auto.NewGauge(m.gauge("queue_capacity", "Maximum finalize queue capacity"))
	m.queueSize = auto.NewGauge(m.gauge("queue_size", "Current size of the finalize queue"))
	m.queueUtilization = auto.NewGauge(m.gauge("queue_utilization_ratio", "Queue utilization ratio (current size / capacity)"))
	m.queueEnqueueRate = auto.NewCounter(m.counter("queue_enqueue_total", "Total number of jobs enqueued"))
	m.queueDequeueRate = auto.NewCounter(m.counter("queue_dequeue_total", "Total number of jobs dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counter("queue_enqueue_errors_total", "Total number of enqueue errors"))
	m.queueProcessingLatency = auto.NewHistogram(m.histogram("queue_processing_latency_milliseconds", "Queue processing latency in milliseconds"))

	m.workerCount = auto.NewGauge(m.gauge("worker_count", "Configured number of finalize workers"))
	m.workerActiveCount = auto.NewGauge(m.gauge("worker_active_count", "Number of workers currently finalizing"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogram("worker_processing_latency_milliseconds", "Worker processing latency in milliseconds"))
	m.workerErrorRate = auto.NewCounter(m.counter("worker_errors_total", "Total number of worker errors"))

	m.errorRateByComponent = auto.NewCounterVec(
		m.counter("errors_by_component_total", "Total number of errors by component"),
		[]string{"component", "error_type"},
	)
}

// RecordUpload counts an upload with its outcome label.
func RecordUpload(outcome string) {
	globalManager.uploads.WithLabelValues(outcome).Inc()
}

// RecordUploadLatency records upload handling latency in milliseconds.
func RecordUploadLatency(latencyMs float64) {
	globalManager.uploadLatency.Observe(latencyMs)
}

// UpdatePendingAggregations sets the number of live pending aggregations.
func UpdatePendingAggregations(n int) {
	globalManager.pendingActive.Set(float64(n))
}

// RecordPendingMerge counts an upload merged into an existing aggregation.
func RecordPendingMerge() {
	globalManager.pendingMerges.Inc()
}

// RecordFinalized counts a finalized aggregation.
func RecordFinalized(status string) {
	globalManager.finalized.WithLabelValues(status).Inc()
}

// RecordFinalizeLatency records finalization latency in milliseconds.
func RecordFinalizeLatency(latencyMs float64) {
	globalManager.finalizeLatency.Observe(latencyMs)
}

// UpdateAdmissionActive sets the number of admitted identities.
func UpdateAdmissionActive(n int) {
	globalManager.admissionActive.Set(float64(n))
}

// RecordAdmissionRejected counts a rejected admission.
func RecordAdmissionRejected() {
	globalManager.admissionRejected.Inc()
}

// RecordAdmissionSwept counts stale records removed by a sweep.
func RecordAdmissionSwept(n int) {
	globalManager.admissionSwept.Add(float64(n))
}

// RecordRPCCall counts an RPC call.
func RecordRPCCall(kind, outcome string) {
	globalManager.rpcCalls.WithLabelValues(kind, outcome).Inc()
}

// RecordRPCLatency records an RPC round trip in milliseconds.
func RecordRPCLatency(kind string, latencyMs float64) {
	globalManager.rpcLatency.WithLabelValues(kind).Observe(latencyMs)
}

// UpdateRPCWaiters sets the number of outstanding RPC waiters.
func UpdateRPCWaiters(n int) {
	globalManager.rpcWaiters.Set(float64(n))
}

// RecordRPCReconnect counts a reconnect attempt.
func RecordRPCReconnect() {
	globalManager.rpcReconnects.Inc()
}

// UpdateRPCConnected reports the connection state.
func UpdateRPCConnected(connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	globalManager.rpcConnected.Set(v)
}

// RecordStoreLatency records a store operation latency in milliseconds.
func RecordStoreLatency(op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordSecretsLookup counts a secret lookup by result: hit, miss or error.
func RecordSecretsLookup(result string) {
	globalManager.secretsLookup.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Queue Metrics Functions.

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records queue processing latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Worker Metrics Functions.

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
