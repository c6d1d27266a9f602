package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for policyforge. All recorders are
// safe to call on a nil or disabled instance.
type Metrics struct {
	config MetricsConfig

	// Evaluation metrics
	evaluations     *prometheus.CounterVec
	checks          *prometheus.CounterVec
	complianceScore *prometheus.GaugeVec

	// Drift metrics
	driftDetections *prometheus.CounterVec
	driftPercentage *prometheus.GaugeVec
	driftAlerts     *prometheus.CounterVec

	// Remediation metrics
	remediations    *prometheus.CounterVec
	rollbacks       *prometheus.CounterVec
	approvalDenials *prometheus.CounterVec

	// Executor metrics
	executorCalls    *prometheus.CounterVec
	executorDuration *prometheus.HistogramVec

	// Error metrics
	errorsByKind *prometheus.CounterVec

	// System metrics
	queueDepth *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
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

		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Total number of compliance evaluations",
			},
			[]string{"compliant"},
		),
		checks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checks_total",
				Help:      "Total number of requirement and framework checks by outcome",
			},
			[]string{"outcome"},
		),
		complianceScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "compliance_score",
				Help:      "Latest compliance score per target (0-100)",
			},
			[]string{"target"},
		),

		driftDetections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_detections_total",
				Help:      "Total number of drift detections",
			},
			[]string{"status"},
		),
		driftPercentage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "drift_percentage",
				Help:      "Latest drift percentage per target",
			},
			[]string{"target"},
		),
		driftAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_alerts_total",
				Help:      "Total number of drift alerts raised",
			},
			[]string{"target"},
		),

		remediations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remediations_total",
				Help:      "Total number of remediation attempts by status",
			},
			[]string{"strategy", "status"},
		),
		rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_total",
				Help:      "Total number of rollbacks by outcome",
			},
			[]string{"outcome"},
		),
		approvalDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "approval_denials_total",
				Help:      "Total number of batches rejected by the approval gate",
			},
			[]string{"operation"},
		),

		executorCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executor_calls_total",
				Help:      "Total number of check executor calls",
			},
			[]string{"executor", "operation", "status"},
		),
		executorDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "executor_call_duration_seconds",
				Help:      "Duration of check executor calls in seconds",
				Buckets:   buckets,
			},
			[]string{"executor", "operation"},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of engine errors by kind and code",
			},
			[]string{"kind", "code"},
		),

		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Hosts waiting for a concurrency slot",
			},
			[]string{"component"},
		),
	}

	registry.MustRegister(
		m.evaluations,
		m.checks,
		m.complianceScore,
		m.driftDetections,
		m.driftPercentage,
		m.driftAlerts,
		m.remediations,
		m.rollbacks,
		m.approvalDenials,
		m.executorCalls,
		m.executorDuration,
		m.errorsByKind,
		m.queueDepth,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Evaluation Metrics

// RecordEvaluation records a completed compliance evaluation for a target.
func (m *Metrics) RecordEvaluation(target string, compliant bool, score float64, passed, failed int) {
	if !m.enabled() {
		return
	}
	label := "false"
	if compliant {
		label = "true"
	}
	m.evaluations.WithLabelValues(label).Inc()
	m.checks.WithLabelValues("passed").Add(float64(passed))
	m.checks.WithLabelValues("failed").Add(float64(failed))
	m.complianceScore.WithLabelValues(target).Set(score)
}

// Drift Metrics

// RecordDriftDetection records a drift detection run.
func (m *Metrics) RecordDriftDetection(target string, detected bool, percentage float64) {
	if !m.enabled() {
		return
	}
	status := "clean"
	if detected {
		status = "drifted"
	}
	m.driftDetections.WithLabelValues(status).Inc()
	m.driftPercentage.WithLabelValues(target).Set(percentage)
}

// RecordDriftAlert records a raised drift alert.
func (m *Metrics) RecordDriftAlert(target string) {
	if !m.enabled() {
		return
	}
	m.driftAlerts.WithLabelValues(target).Inc()
}

// Remediation Metrics

// RecordRemediation records the outcome of one remediation attempt.
func (m *Metrics) RecordRemediation(strategy, status string) {
	if !m.enabled() {
		return
	}
	m.remediations.WithLabelValues(strategy, status).Inc()
}

// RecordRollback records a rollback attempt.
func (m *Metrics) RecordRollback(success bool) {
	if !m.enabled() {
		return
	}
	outcome := "failed"
	if success {
		outcome = "success"
	}
	m.rollbacks.WithLabelValues(outcome).Inc()
}

// RecordApprovalDenied records a batch rejected by the approval gate.
func (m *Metrics) RecordApprovalDenied(operation string) {
	if !m.enabled() {
		return
	}
	m.approvalDenials.WithLabelValues(operation).Inc()
}

// Executor Metrics

// RecordExecutorCall records a check executor call with its duration and outcome.
func (m *Metrics) RecordExecutorCall(executor, operation string, duration time.Duration, err error) {
	if !m.enabled() {
		return
	}
	status := "ok"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = "timeout"
	case err != nil:
		status = "error"
	}
	m.executorCalls.WithLabelValues(executor, operation, status).Inc()
	m.executorDuration.WithLabelValues(executor, operation).Observe(duration.Seconds())
}

// Error Metrics

// RecordError records an engine error by kind and code.
func (m *Metrics) RecordError(kind, code string) {
	if !m.enabled() {
		return
	}
	m.errorsByKind.WithLabelValues(kind, code).Inc()
}

// System Metrics

// AddQueueDepth adjusts the number of hosts waiting for a slot.
func (m *Metrics) AddQueueDepth(component string, delta float64) {
	if !m.enabled() {
		return
	}
	m.queueDepth.WithLabelValues(component).Add(delta)
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the registry until ctx is done.
func (m *Metrics) StartMetricsServer(ctx context.Context) error {
	if !m.enabled() {
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
			log.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("Metrics server error")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return nil
}
