package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the manager.
type Metrics struct {
	config MetricsConfig

	// Resolution metrics
	resolutionsStarted   *prometheus.CounterVec
	resolutionsCompleted *prometheus.CounterVec
	resolutionDuration   *prometheus.HistogramVec

	// Catalog metrics
	catalogQueries  *prometheus.CounterVec
	catalogDuration *prometheus.HistogramVec

	// Marketplace metrics
	marketplaceCalls    *prometheus.CounterVec
	marketplaceDuration *prometheus.HistogramVec
	marketplaceErrors   *prometheus.CounterVec

	// Upload metrics
	pluginUploads   *prometheus.CounterVec
	uploadConflicts prometheus.Counter
	conflictPolls   prometheus.Counter

	// Error metrics
	errorsByClass *prometheus.CounterVec

	// System metrics
	activeResolutions prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Resolution metrics
		resolutionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_started_total",
				Help:      "Total number of import resolutions started",
			},
			[]string{"kind"},
		),
		resolutionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_completed_total",
				Help:      "Total number of import resolutions completed",
			},
			[]string{"kind", "status"},
		),
		resolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolution_duration_seconds",
				Help:      "Duration of import resolution in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		// Catalog metrics
		catalogQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_queries_total",
				Help:      "Total number of catalog queries",
			},
			[]string{"operation"},
		),
		catalogDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "catalog_query_duration_seconds",
				Help:      "Duration of catalog queries in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),

		// Marketplace metrics
		marketplaceCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "marketplace_calls_total",
				Help:      "Total number of marketplace calls",
			},
			[]string{"operation"},
		),
		marketplaceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "marketplace_call_duration_seconds",
				Help:      "Duration of marketplace calls in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		marketplaceErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "marketplace_errors_total",
				Help:      "Total number of marketplace call failures",
			},
			[]string{"operation"},
		),

		// Upload metrics
		pluginUploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plugin_uploads_total",
				Help:      "Total number of plugin uploads",
			},
			[]string{"status"},
		),
		uploadConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upload_conflicts_total",
				Help:      "Total number of concurrent upload conflicts",
			},
		),
		conflictPolls: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conflict_poll_attempts_total",
				Help:      "Total number of poll attempts waiting for competing uploads",
			},
		),

		// Error metrics
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),

		// System metrics
		activeResolutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_resolutions",
				Help:      "Current number of in-flight import resolutions",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.resolutionsStarted,
		m.resolutionsCompleted,
		m.resolutionDuration,
		m.catalogQueries,
		m.catalogDuration,
		m.marketplaceCalls,
		m.marketplaceDuration,
		m.marketplaceErrors,
		m.pluginUploads,
		m.uploadConflicts,
		m.conflictPolls,
		m.errorsByClass,
		m.activeResolutions,
	)

	return m, nil
}

// Resolution Metrics

// RecordResolutionStarted increments the counter for started resolutions.
func (m *Metrics) RecordResolutionStarted(kind string) {
	if m.resolutionsStarted == nil {
		return
	}
	m.resolutionsStarted.WithLabelValues(kind).Inc()
	m.activeResolutions.Inc()
}

// RecordResolutionCompleted records a completed resolution with its status and duration.
func (m *Metrics) RecordResolutionCompleted(kind, status string, duration time.Duration) {
	if m.resolutionsCompleted == nil {
		return
	}
	m.resolutionsCompleted.WithLabelValues(kind, status).Inc()
	m.resolutionDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.activeResolutions.Dec()
}

// Catalog Metrics

// RecordCatalogQuery records a catalog query with its duration.
func (m *Metrics) RecordCatalogQuery(operation string, duration time.Duration) {
	if m.catalogQueries == nil {
		return
	}
	m.catalogQueries.WithLabelValues(operation).Inc()
	m.catalogDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Marketplace Metrics

// RecordMarketplaceCall records a marketplace call with its duration.
func (m *Metrics) RecordMarketplaceCall(operation string, duration time.Duration) {
	if m.marketplaceCalls == nil {
		return
	}
	m.marketplaceCalls.WithLabelValues(operation).Inc()
	m.marketplaceDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordMarketplaceError records a marketplace call failure.
func (m *Metrics) RecordMarketplaceError(operation string) {
	if m.marketplaceErrors == nil {
		return
	}
	m.marketplaceErrors.WithLabelValues(operation).Inc()
}

// Upload Metrics

// RecordPluginUpload records a plugin upload attempt outcome.
func (m *Metrics) RecordPluginUpload(status string) {
	if m.pluginUploads == nil {
		return
	}
	m.pluginUploads.WithLabelValues(status).Inc()
}

// RecordUploadConflict records a concurrent upload conflict.
func (m *Metrics) RecordUploadConflict() {
	if m.uploadConflicts == nil {
		return
	}
	m.uploadConflicts.Inc()
}

// RecordConflictPoll records one poll attempt while waiting for a competing upload.
func (m *Metrics) RecordConflictPoll() {
	if m.conflictPolls == nil {
		return
	}
	m.conflictPolls.Inc()
}

// Error Metrics

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
