package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus series on a private registry. A
// disabled Metrics accepts every call and records nothing.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	ordersCreated *prometheus.CounterVec
	transitions   *prometheus.CounterVec

	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	activeExecutions  *prometheus.GaugeVec

	providerCalls    *prometheus.HistogramVec
	providerFailures *prometheus.CounterVec

	errors        *prometheus.CounterVec
	httpRequests  *prometheus.HistogramVec
	policyReviews *prometheus.CounterVec
}

func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	ns := cfg.Namespace

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: name, Help: help, Buckets: buckets}, labels)
	}

	return &Metrics{
		config:   cfg,
		registry: reg,

		ordersCreated: counter("orders_created_total", "Orders accepted.", "kind"),
		transitions:   counter("status_transitions_total", "Committed status transitions.", "kind", "event", "to"),

		executions:        counter("executions_total", "Execute requests by outcome.", "kind", "outcome"),
		executionDuration: histogram("execution_duration_seconds", "Wall time of execute requests.", "kind", "outcome"),
		activeExecutions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "active_executions",
			Help:      "Executions in flight.",
		}, []string{"kind"}),

		providerCalls:    histogram("provider_call_duration_seconds", "External tool invocations.", "provider", "operation"),
		providerFailures: counter("provider_failures_total", "External tool invocations that failed.", "provider", "operation"),

		errors:        counter("errors_total", "Classified service errors.", "class", "code"),
		httpRequests:  histogram("http_request_duration_seconds", "Served HTTP requests.", "method", "route", "status"),
		policyReviews: counter("policy_reviews_total", "Advisory policy reviews.", "allowed"),
	}, nil
}

func (m *Metrics) enabled() bool { return m != nil && m.registry != nil }

func (m *Metrics) RecordOrderCreated(kind string) {
	if m.enabled() {
		m.ordersCreated.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) RecordTransition(kind, event, to string) {
	if m.enabled() {
		m.transitions.WithLabelValues(kind, event, to).Inc()
	}
}

// ExecutionStarted marks an execution as in flight until ExecutionFinished.
func (m *Metrics) ExecutionStarted(kind string) {
	if m.enabled() {
		m.activeExecutions.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ExecutionFinished(kind, outcome string, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.activeExecutions.WithLabelValues(kind).Dec()
	m.executions.WithLabelValues(kind, outcome).Inc()
	m.executionDuration.WithLabelValues(kind, outcome).Observe(d.Seconds())
}

func (m *Metrics) RecordProviderCall(provider, operation string, d time.Duration) {
	if m.enabled() {
		m.providerCalls.WithLabelValues(provider, operation).Observe(d.Seconds())
	}
}

func (m *Metrics) RecordProviderError(provider, operation string) {
	if m.enabled() {
		m.providerFailures.WithLabelValues(provider, operation).Inc()
	}
}

// RecordError counts an error; code may be empty.
func (m *Metrics) RecordError(class, code string) {
	if m.enabled() {
		m.errors.WithLabelValues(class, code).Inc()
	}
}

// RecordHTTPRequest records one served request. route is the matched
// pattern, never the raw path, to keep cardinality bounded.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if m.enabled() {
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
	}
}

func (m *Metrics) RecordPolicyReview(allowed bool) {
	if m.enabled() {
		m.policyReviews.WithLabelValues(strconv.FormatBool(allowed)).Inc()
	}
}

// Timer measures one operation.
type Timer struct{ start time.Time }

func NewTimer() *Timer { return &Timer{start: time.Now()} }

func (t *Timer) Duration() time.Duration { return time.Since(t.start) }

// Handler serves the registry, or 404 when metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartMetricsServer serves metrics on cfg.ListenAddress when set. The
// channel receives a listener error, if any.
func (m *Metrics) StartMetricsServer() <-chan error {
	errCh := make(chan error, 1)
	if !m.enabled() || m.config.ListenAddress == "" {
		return errCh
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	srv := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh
}
