package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for hrguard.
// All methods are safe to call on a nil or disabled *Metrics.
type Metrics struct {
	config MetricsConfig

	// Cache metrics
	cacheLookups *prometheus.CounterVec

	// Case store metrics
	caseMutations *prometheus.CounterVec
	activeCases   *prometheus.GaugeVec

	// Policy metrics
	decisions        *prometheus.CounterVec
	decisionDuration *prometheus.HistogramVec

	// Sweep metrics
	consistencyChecked    prometheus.Gauge
	consistencyMismatches prometheus.Gauge
	retentionDeleted      prometheus.Counter

	// Error metrics
	errorsByClass *prometheus.CounterVec

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

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Process cache lookups by result (hit, miss)",
			},
			[]string{"result"},
		),

		caseMutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "case_mutations_total",
				Help:      "Case store mutations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		activeCases: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_cases",
				Help:      "Current number of ACTIVE, ALIVE cases per site",
			},
			[]string{"site"},
		),

		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Policy decisions by verdict and reason code",
			},
			[]string{"verdict", "reason"},
		),
		decisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "decision_duration_seconds",
				Help:      "Duration of policy evaluation in seconds",
				Buckets:   buckets,
			},
			[]string{"action"},
		),

		consistencyChecked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "consistency_checked",
				Help:      "Keys examined by the last consistency sweep",
			},
		),
		consistencyMismatches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "consistency_mismatches",
				Help:      "Mismatches found by the last consistency sweep (-1 when the sweep failed)",
			},
		),
		retentionDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_deleted_total",
				Help:      "Resolved cases removed by the retention sweep",
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.cacheLookups,
		m.caseMutations,
		m.activeCases,
		m.decisions,
		m.decisionDuration,
		m.consistencyChecked,
		m.consistencyMismatches,
		m.retentionDeleted,
		m.errorsByClass,
	)

	return m, nil
}

// Cache Metrics

// RecordCacheLookup counts a cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil || m.cacheLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// Case Metrics

// RecordCaseMutation counts a store mutation and its outcome.
func (m *Metrics) RecordCaseMutation(operation string, err error) {
	if m == nil || m.caseMutations == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.caseMutations.WithLabelValues(operation, outcome).Inc()
}

// SetActiveCases sets the number of active cases for a site.
func (m *Metrics) SetActiveCases(site string, count int) {
	if m == nil || m.activeCases == nil {
		return
	}
	m.activeCases.WithLabelValues(site).Set(float64(count))
}

// Policy Metrics

// RecordDecision records a policy decision and its evaluation time.
func (m *Metrics) RecordDecision(action, verdict, reason string, duration time.Duration) {
	if m == nil || m.decisions == nil {
		return
	}
	m.decisions.WithLabelValues(verdict, reason).Inc()
	m.decisionDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// Sweep Metrics

// RecordConsistency records the result of a consistency sweep.
func (m *Metrics) RecordConsistency(checked, mismatches int) {
	if m == nil || m.consistencyChecked == nil {
		return
	}
	m.consistencyChecked.Set(float64(checked))
	m.consistencyMismatches.Set(float64(mismatches))
}

// RecordRetention adds to the retention deletion counter.
func (m *Metrics) RecordRetention(deleted int64) {
	if m == nil || m.retentionDeleted == nil {
		return
	}
	m.retentionDeleted.Add(float64(deleted))
}

// Error Metrics

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m == nil || m.errorsByClass == nil || errorClass == "" {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Registry exposes the underlying registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. The returned
// server can be shut down by the caller; it is nil when metrics are disabled.
func (m *Metrics) StartMetricsServer(logger zerolog.Logger) *http.Server {
	if m == nil || !m.config.Enabled {
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
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Log error but don't fail the application
			logger.Error().Err(err).Str("addr", server.Addr).Msg("Metrics server error")
		}
	}()

	return server
}
