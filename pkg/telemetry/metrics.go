package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for harnessctl.
type Metrics struct {
	config MetricsConfig

	// API client metrics
	apiRequests *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec
	apiRetries  *prometheus.CounterVec
	apiAttempts *prometheus.HistogramVec

	// Provisioning metrics
	resourceResults *prometheus.CounterVec
	runsCompleted   *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	activeRuns      prometheus.Gauge

	// Webhook metrics
	webhookEvents   *prometheus.CounterVec
	jenkinsTriggers *prometheus.CounterVec

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

		apiRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of Harness API attempts by method and status class",
			},
			[]string{"method", "status"},
		),
		apiDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "Duration of Harness API calls including retries",
				Buckets:   buckets,
			},
			[]string{"method"},
		),
		apiRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_retries_total",
				Help:      "Total number of Harness API retries",
			},
			[]string{"method"},
		),
		apiAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_attempts",
				Help:      "Attempts needed per Harness API call",
				Buckets:   []float64{1, 2, 3, 4, 5, 8},
			},
			[]string{"method"},
		),
		resourceResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_results_total",
				Help:      "Provisioning results by resource type and status",
			},
			[]string{"resource_type", "status"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of provisioning runs by final status",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of provisioning runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active provisioning runs",
			},
		),
		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Inbound webhook deliveries by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		jenkinsTriggers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jenkins_triggers_total",
				Help:      "Jenkins job triggers by outcome",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.apiRequests,
		m.apiDuration,
		m.apiRetries,
		m.apiAttempts,
		m.resourceResults,
		m.runsCompleted,
		m.runDuration,
		m.activeRuns,
		m.webhookEvents,
		m.jenkinsTriggers,
	)

	return m, nil
}

// API client metrics

// RecordAPIAttempt counts one HTTP attempt. status is a class such as
// "2xx", "5xx" or "error".
func (m *Metrics) RecordAPIAttempt(method, status string) {
	if m == nil || m.apiRequests == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, status).Inc()
}

// RecordAPIRetry counts one retry.
func (m *Metrics) RecordAPIRetry(method string) {
	if m == nil || m.apiRetries == nil {
		return
	}
	m.apiRetries.WithLabelValues(method).Inc()
}

// RecordAPICall records a finished API call with the attempts it took.
func (m *Metrics) RecordAPICall(method string, attempts int, duration time.Duration) {
	if m == nil || m.apiDuration == nil {
		return
	}
	m.apiDuration.WithLabelValues(method).Observe(duration.Seconds())
	m.apiAttempts.WithLabelValues(method).Observe(float64(attempts))
}

// Provisioning metrics

// RecordResourceResult counts a builder outcome.
func (m *Metrics) RecordResourceResult(resourceType, status string) {
	if m == nil || m.resourceResults == nil {
		return
	}
	m.resourceResults.WithLabelValues(resourceType, status).Inc()
}

// RecordRunStarted marks a run as active.
func (m *Metrics) RecordRunStarted() {
	if m == nil || m.activeRuns == nil {
		return
	}
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m == nil || m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Webhook metrics

// RecordWebhookEvent counts an inbound webhook delivery.
func (m *Metrics) RecordWebhookEvent(source, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(source, outcome).Inc()
}

// RecordJenkinsTrigger counts a Jenkins trigger attempt.
func (m *Metrics) RecordJenkinsTrigger(outcome string) {
	if m == nil || m.jenkinsTriggers == nil {
		return
	}
	m.jenkinsTriggers.WithLabelValues(outcome).Inc()
}

// Registry returns the underlying registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
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
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint on the configured address
// until ctx is cancelled.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger *Logger) error {
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
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	return nil
}
