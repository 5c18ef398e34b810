package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cassiomorais/payflow/pkg/durable"
)

// Metrics holds all application metrics
type Metrics struct {
	// Workflow run metrics
	RunsStarted  *prometheus.CounterVec
	RunsFinished *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
	ActiveRuns   *prometheus.GaugeVec
	Signals      *prometheus.CounterVec

	// Webhook metrics
	WebhookAttempts        *prometheus.CounterVec
	WebhookAttemptDuration prometheus.Histogram

	// Gateway metrics
	GatewayRequests *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState    *prometheus.GaugeVec
	CircuitBreakerRequests *prometheus.CounterVec

	// Worker metrics
	WorkerMessagesProcessed  *prometheus.CounterVec
	WorkerProcessingDuration *prometheus.HistogramVec
	OutboxPublished          *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := prometheus.WrapRegistererWith(nil, reg)

	m := &Metrics{
		RunsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_runs_started_total",
				Help:      "Total number of workflow runs created by kind",
			},
			[]string{"kind"},
		),
		RunsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_runs_finished_total",
				Help:      "Total number of workflow runs that reached a terminal state",
			},
			[]string{"kind", "state"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_run_duration_seconds",
				Help:      "Wall-clock time from run creation to its terminal state",
				Buckets:   []float64{1, 10, 60, 300, 900, 3600, 7200, 21600, 86400, 172800},
			},
			[]string{"kind"},
		),
		ActiveRuns: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workflow_active_runs",
				Help:      "Number of runs started by this process and not yet finished",
			},
			[]string{"kind"},
		),
		Signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_signals_total",
				Help:      "Total number of signals received by kind, name and whether they were applied",
			},
			[]string{"kind", "signal", "applied"},
		),
		WebhookAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_attempts_total",
				Help:      "Total number of webhook delivery attempts by resulting status",
			},
			[]string{"result"},
		),
		WebhookAttemptDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "webhook_attempt_duration_seconds",
				Help:      "Webhook delivery attempt duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		GatewayRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_requests_total",
				Help:      "Total number of payment gateway calls by processor and outcome status",
			},
			[]string{"processor", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		CircuitBreakerRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_requests_total",
				Help:      "Total number of circuit breaker requests",
			},
			[]string{"name", "result"},
		),
		WorkerMessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_messages_processed_total",
				Help:      "Total number of worker messages processed",
			},
			[]string{"stream", "status"},
		),
		WorkerProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "worker_processing_duration_seconds",
				Help:      "Worker message processing duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stream"},
		),
		OutboxPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_entries_total",
				Help:      "Total number of outbox entries processed by result",
			},
			[]string{"result"},
		),
	}

	// Register all collectors
	factory.MustRegister(
		m.RunsStarted,
		m.RunsFinished,
		m.RunDuration,
		m.ActiveRuns,
		m.Signals,
		m.WebhookAttempts,
		m.WebhookAttemptDuration,
		m.GatewayRequests,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CircuitBreakerState,
		m.CircuitBreakerRequests,
		m.WorkerMessagesProcessed,
		m.WorkerProcessingDuration,
		m.OutboxPublished,
	)

	return m
}

// RunStarted implements durable.Observer
func (m *Metrics) RunStarted(kind string) {
	m.RunsStarted.WithLabelValues(kind).Inc()
	m.ActiveRuns.WithLabelValues(kind).Inc()
}

// RunFinished implements durable.Observer
func (m *Metrics) RunFinished(kind string, state durable.State, elapsed time.Duration) {
	m.RunsFinished.WithLabelValues(kind, string(state)).Inc()
	m.RunDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	m.ActiveRuns.WithLabelValues(kind).Dec()
}

// SignalReceived implements durable.Observer
func (m *Metrics) SignalReceived(kind, name string, applied bool) {
	m.Signals.WithLabelValues(kind, name, strconv.FormatBool(applied)).Inc()
}

// WebhookAttempt records one delivery attempt
func (m *Metrics) WebhookAttempt(result string, elapsed time.Duration) {
	m.WebhookAttempts.WithLabelValues(result).Inc()
	m.WebhookAttemptDuration.Observe(elapsed.Seconds())
}

// GatewayRequest records one gateway call
func (m *Metrics) GatewayRequest(processor, status string) {
	m.GatewayRequests.WithLabelValues(processor, status).Inc()
}

// BreakerState records a circuit breaker transition
func (m *Metrics) BreakerState(name string, state int) {
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) BreakerRequest(name, result string) {
	m.CircuitBreakerRequests.WithLabelValues(name, result).Inc()
}

// OutboxPublish records one outbox entry relayed to the streams
func (m *Metrics) OutboxPublish(result string) {
	m.OutboxPublished.WithLabelValues(result).Inc()
}

// WorkerMessage records one stream message handled by the worker
func (m *Metrics) WorkerMessage(stream, status string, elapsed time.Duration) {
	m.WorkerMessagesProcessed.WithLabelValues(stream, status).Inc()
	m.WorkerProcessingDuration.WithLabelValues(stream).Observe(elapsed.Seconds())
}
