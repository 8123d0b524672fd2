package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for computations.
type Metrics struct {
	config MetricsConfig

	// Computation metrics
	computationsStarted   prometheus.Counter
	computationsCompleted *prometheus.CounterVec
	computationDuration   *prometheus.HistogramVec
	activeComputations    prometheus.Gauge
	graphNodes            prometheus.Gauge

	// Node metrics
	nodesEvaluated *prometheus.CounterVec
	nodeDuration   *prometheus.HistogramVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
// A disabled configuration yields a collector whose methods are no-ops.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
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

		computationsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "computations_started_total",
				Help:      "Total number of computations started",
			},
		),
		computationsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "computations_completed_total",
				Help:      "Total number of computations completed",
			},
			[]string{"status"},
		),
		computationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "computation_duration_seconds",
				Help:      "Duration of computations in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		activeComputations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_computations",
				Help:      "Current number of running computations",
			},
		),
		graphNodes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "graph_nodes",
				Help:      "Number of nodes in the most recent dependency graph",
			},
		),

		nodesEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nodes_evaluated_total",
				Help:      "Total number of nodes that reached a terminal status",
			},
			[]string{"kind", "status"},
		),
		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_duration_seconds",
				Help:      "Duration of node evaluation in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.computationsStarted,
		m.computationsCompleted,
		m.computationDuration,
		m.activeComputations,
		m.graphNodes,
		m.nodesEvaluated,
		m.nodeDuration,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// Computation Metrics

// RecordComputationStarted counts a started computation over a graph of the given size.
func (m *Metrics) RecordComputationStarted(nodes int) {
	if m.computationsStarted == nil {
		return
	}
	m.computationsStarted.Inc()
	m.activeComputations.Inc()
	m.graphNodes.Set(float64(nodes))
}

// RecordComputationCompleted records a finished computation with its status and duration.
func (m *Metrics) RecordComputationCompleted(status string, duration time.Duration) {
	if m.computationsCompleted == nil {
		return
	}
	m.computationsCompleted.WithLabelValues(status).Inc()
	m.computationDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeComputations.Dec()
}

// Node Metrics

// RecordNode records a node reaching a terminal status.
func (m *Metrics) RecordNode(kind, status string, duration time.Duration) {
	if m.nodesEvaluated == nil {
		return
	}
	m.nodesEvaluated.WithLabelValues(kind, status).Inc()
	m.nodeDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Registry returns the Prometheus registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
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

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves metrics in the background. The returned server is
// nil when metrics are disabled; callers shut it down when done.
func (m *Metrics) StartMetricsServer(logger *Logger) *http.Server {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	return server
}
