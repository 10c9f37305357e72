// Package metrics provides Prometheus metrics for the contributor
// ladder service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Import pipeline
	eventsImported  prometheus.Counter
	eventsDuplicate prometheus.Counter
	eventsInvalid   prometheus.Counter

	// Batch engine
	batchTicks  *prometheus.CounterVec
	jobProgress *prometheus.GaugeVec
	jobTotal    *prometheus.GaugeVec

	// Profile generation
	profilesComputed prometheus.Counter
	journeySteps     prometheus.Histogram

	// Storage
	storeErrors *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "trellis",
		subsystem:        "ladder",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.eventsImported = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_imported_total",
		Help:      "Total number of new events written by the import pipeline",
	})

	m.eventsDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_duplicate_total",
		Help:      "Total number of duplicate event ids skipped",
	})

	m.eventsInvalid = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_invalid_total",
		Help:      "Total number of CSV rows skipped as malformed or incomplete",
	})

	m.batchTicks = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "batch_ticks_total",
		Help:      "Total number of batch engine ticks executed, per job kind",
	}, []string{"kind"})

	m.jobProgress = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "job_processed",
		Help:      "Units processed by the current job, per job kind",
	}, []string{"kind"})

	m.jobTotal = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "job_total",
		Help:      "Units of work sized for the current job, per job kind",
	}, []string{"kind"})

	m.profilesComputed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "profiles_computed_total",
		Help:      "Total number of contributor profiles written",
	})

	m.journeySteps = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "journey_steps",
		Help:      "Histogram of ladder steps per computed journey",
		Buckets:   []float64{0, 1, 2, 3, 4, 5, 6, 8, 10},
	})

	m.storeErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_errors_total",
		Help:      "Total number of storage failures, per component",
	}, []string{"component"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"endpoint", "method", "status"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "Histogram of HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status"})
}

// GetRegistry returns the registry metrics are served from.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Package-level helpers recording against the global manager.

// RecordEventImported counts one newly stored event.
func RecordEventImported() { globalManager.eventsImported.Inc() }

// RecordEventDuplicate counts one skipped duplicate id.
func RecordEventDuplicate() { globalManager.eventsDuplicate.Inc() }

// RecordEventInvalid counts one skipped malformed or incomplete row.
func RecordEventInvalid() { globalManager.eventsInvalid.Inc() }

// RecordBatchTick counts one tick of the given job kind.
func RecordBatchTick(kind string) { globalManager.batchTicks.WithLabelValues(kind).Inc() }

// UpdateJobProgress publishes the current job's processed/total gauges.
func UpdateJobProgress(kind string, processed, total int) {
	globalManager.jobProgress.WithLabelValues(kind).Set(float64(processed))
	globalManager.jobTotal.WithLabelValues(kind).Set(float64(total))
}

// RecordProfileComputed counts one written profile.
func RecordProfileComputed() { globalManager.profilesComputed.Inc() }

// ObserveJourneySteps records the step count of a computed journey.
func ObserveJourneySteps(n int) { globalManager.journeySteps.Observe(float64(n)) }

// RecordStoreError counts one storage failure for a component.
func RecordStoreError(component string) {
	globalManager.storeErrors.WithLabelValues(component).Inc()
}

// RecordHTTPRequest counts one HTTP request.
func RecordHTTPRequest(endpoint, method, status string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, status).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, status string, ms float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, status).Observe(ms)
}
