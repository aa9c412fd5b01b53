package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cooldialog"

var (
	controlBuckets   = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	roundTripBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15}
)

// Metrics holds the Prometheus instruments of the dialog engine. A nil
// *Metrics records nothing, so components may be built without one.
type Metrics struct {
	ControlRequestsTotal   *prometheus.CounterVec
	ControlRequestDuration *prometheus.HistogramVec

	RoundTripsTotal       *prometheus.CounterVec
	RoundTripDuration     *prometheus.HistogramVec
	QueueDepth            prometheus.Gauge
	DedupeEvictionsTotal  prometheus.Counter
	StateTransitionsTotal *prometheus.CounterVec
	ScrollShortCircuits   *prometheus.CounterVec
	ActionsCanceledTotal  *prometheus.CounterVec
	ActiveDialogs         prometheus.Gauge

	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState prometheus.Gauge
	BackendRetriesTotal        *prometheus.CounterVec

	StateStoreOpsTotal *prometheus.CounterVec
}

// InitMetrics creates the instruments and registers them with reg.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	control := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: namespace, Subsystem: "control", Name: name, Help: help}
	}
	dialog := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: namespace, Subsystem: "dialog", Name: name, Help: help}
	}
	backend := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: namespace, Subsystem: "backend", Name: name, Help: help}
	}

	return &Metrics{
		ControlRequestsTotal: f.NewCounterVec(control("requests_total",
			"Control surface requests by method, route and status."),
			[]string{"method", "route", "status"}),
		ControlRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "control", Name: "request_duration_seconds",
			Help: "Control surface request latency.", Buckets: controlBuckets,
		}, []string{"method", "route"}),

		RoundTripsTotal: f.NewCounterVec(dialog("round_trips_total",
			"Dialog round trips by action and outcome."),
			[]string{"action", "outcome"}),
		RoundTripDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "dialog", Name: "round_trip_duration_seconds",
			Help: "Dialog round trip latency, including response application.", Buckets: roundTripBuckets,
		}, []string{"action"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts(dialog("queue_depth",
			"Actions waiting in dialog queues."))),
		DedupeEvictionsTotal: f.NewCounter(dialog("dedupe_evictions_total",
			"Queued actions superseded by a duplicate.")),
		StateTransitionsTotal: f.NewCounterVec(dialog("state_transitions_total",
			"Dialog state transitions by target state."),
			[]string{"state"}),
		ScrollShortCircuits: f.NewCounterVec(dialog("scroll_short_circuits_total",
			"Scroll commands served from the loaded page."),
			[]string{"command"}),
		ActionsCanceledTotal: f.NewCounterVec(dialog("actions_canceled_total",
			"Actions dropped before being sent, by reason."),
			[]string{"reason"}),
		ActiveDialogs: f.NewGauge(prometheus.GaugeOpts(dialog("active",
			"Running dialogs."))),

		BackendRequestsTotal: f.NewCounterVec(backend("requests_total",
			"COOL server requests by action and HTTP status, 0 for transport failures."),
			[]string{"action", "status"}),
		BackendRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "backend", Name: "request_duration_seconds",
			Help: "COOL server request latency.", Buckets: roundTripBuckets,
		}, []string{"action"}),
		BackendCircuitBreakerState: f.NewGauge(prometheus.GaugeOpts(backend("circuit_breaker_state",
			"Circuit breaker state (0=closed, 1=half-open, 2=open)."))),
		BackendRetriesTotal: f.NewCounterVec(backend("retries_total",
			"Retried COOL server requests by action."),
			[]string{"action"}),

		StateStoreOpsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "state_store", Name: "operations_total",
			Help: "UI state store operations by driver, operation and result.",
		}, []string{"driver", "op", "result"}),
	}
}

// RecordControlRequest records a served control surface request.
func (m *Metrics) RecordControlRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.ControlRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.ControlRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordRoundTrip records a finished round trip. outcome is the response
// type, or one of "error", "empty" and "canceled".
func (m *Metrics) RecordRoundTrip(action, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RoundTripsTotal.WithLabelValues(action, outcome).Inc()
	m.RoundTripDuration.WithLabelValues(action).Observe(duration.Seconds())
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) RecordDedupeEviction() {
	if m == nil {
		return
	}
	m.DedupeEvictionsTotal.Inc()
}

func (m *Metrics) RecordStateTransition(state string) {
	if m == nil {
		return
	}
	m.StateTransitionsTotal.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordScrollShortCircuit(command string) {
	if m == nil {
		return
	}
	m.ScrollShortCircuits.WithLabelValues(command).Inc()
}

func (m *Metrics) RecordActionCanceled(reason string) {
	if m == nil {
		return
	}
	m.ActionsCanceledTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) AddActiveDialogs(delta int) {
	if m == nil {
		return
	}
	m.ActiveDialogs.Add(float64(delta))
}

// RecordBackendRequest records one attempt against the COOL server. status
// is 0 when no response arrived.
func (m *Metrics) RecordBackendRequest(action string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequestsTotal.WithLabelValues(action, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(action).Observe(duration.Seconds())
}

func (m *Metrics) SetBackendCircuitBreakerState(state float64) {
	if m == nil {
		return
	}
	m.BackendCircuitBreakerState.Set(state)
}

func (m *Metrics) RecordBackendRetry(action string) {
	if m == nil {
		return
	}
	m.BackendRetriesTotal.WithLabelValues(action).Inc()
}

// RecordStateStoreOp records a state store operation. result is "ok",
// "miss" or "error".
func (m *Metrics) RecordStateStoreOp(driver, op, result string) {
	if m == nil {
		return
	}
	m.StateStoreOpsTotal.WithLabelValues(driver, op, result).Inc()
}

// MetricsMiddleware records control surface requests labelled by chi route
// pattern rather than raw path, keeping dialog ids out of label values.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := newStatusRecorder(w)
		next.ServeHTTP(sw, r)
		m.RecordControlRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler serves the metrics in g, or the default registry when g is nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern returns the matched chi pattern, or the raw path before
// routing or outside a chi router.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// statusRecorder captures the first status code written.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}
