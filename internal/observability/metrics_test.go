package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitMetrics_names(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)

	m.RecordControlRequest("GET", "/dialogs", 200, time.Millisecond)
	m.RecordRoundTrip("Event", "Default", time.Millisecond)
	m.SetQueueDepth(2)
	m.RecordDedupeEviction()
	m.RecordStateTransition("Pending")
	m.RecordScrollShortCircuit("NEXT")
	m.RecordActionCanceled("stale")
	m.AddActiveDialogs(1)
	m.RecordBackendRequest("Event", 200, time.Millisecond)
	m.SetBackendCircuitBreakerState(0)
	m.RecordBackendRetry("Get")
	m.RecordStateStoreOp("redis", "get", "ok")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	got := make(map[string]bool, len(families))
	for _, f := range families {
		got[f.GetName()] = true
	}
	for _, name := range []string{
		"cooldialog_control_requests_total",
		"cooldialog_control_request_duration_seconds",
		"cooldialog_dialog_round_trips_total",
		"cooldialog_dialog_round_trip_duration_seconds",
		"cooldialog_dialog_queue_depth",
		"cooldialog_dialog_dedupe_evictions_total",
		"cooldialog_dialog_state_transitions_total",
		"cooldialog_dialog_scroll_short_circuits_total",
		"cooldialog_dialog_actions_canceled_total",
		"cooldialog_dialog_active",
		"cooldialog_backend_requests_total",
		"cooldialog_backend_request_duration_seconds",
		"cooldialog_backend_circuit_breaker_state",
		"cooldialog_backend_retries_total",
		"cooldialog_state_store_operations_total",
	} {
		if !got[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestMetrics_nilRecordsNothing(t *testing.T) {
	var m *Metrics
	m.RecordControlRequest("GET", "/", 200, time.Millisecond)
	m.RecordRoundTrip("Event", "error", time.Millisecond)
	m.SetQueueDepth(1)
	m.RecordDedupeEviction()
	m.RecordStateTransition("Ready")
	m.RecordScrollShortCircuit("TOP")
	m.RecordActionCanceled("locked")
	m.AddActiveDialogs(-1)
	m.RecordBackendRequest("Get", 503, time.Millisecond)
	m.SetBackendCircuitBreakerState(2)
	m.RecordBackendRetry("Get")
	m.RecordStateStoreOp("memory", "set", "ok")
}

func TestRecordRoundTrip(t *testing.T) {
	m := InitMetrics(prometheus.NewRegistry())

	m.RecordRoundTrip("Event", "Default", 150*time.Millisecond)
	m.RecordRoundTrip("Event", "Default", 20*time.Millisecond)
	m.RecordRoundTrip("Event", "error", 50*time.Millisecond)

	const want = `
# HELP cooldialog_dialog_round_trips_total Dialog round trips by action and outcome.
# TYPE cooldialog_dialog_round_trips_total counter
cooldialog_dialog_round_trips_total{action="Event",outcome="Default"} 2
cooldialog_dialog_round_trips_total{action="Event",outcome="error"} 1
`
	if err := testutil.CollectAndCompare(m.RoundTripsTotal, strings.NewReader(want)); err != nil {
		t.Error(err)
	}
	if n := testutil.CollectAndCount(m.RoundTripDuration); n != 1 {
		t.Errorf("round trip histograms = %d, want 1", n)
	}
}

func TestDialogGauges(t *testing.T) {
	m := InitMetrics(prometheus.NewRegistry())

	m.SetQueueDepth(3)
	m.SetQueueDepth(1)
	m.AddActiveDialogs(1)
	m.AddActiveDialogs(1)
	m.AddActiveDialogs(-1)
	m.SetBackendCircuitBreakerState(2)

	for name, tc := range map[string]struct {
		c    prometheus.Collector
		want float64
	}{
		"queue depth":   {m.QueueDepth, 1},
		"active":        {m.ActiveDialogs, 1},
		"breaker state": {m.BackendCircuitBreakerState, 2},
	} {
		if got := testutil.ToFloat64(tc.c); got != tc.want {
			t.Errorf("%s = %v, want %v", name, got, tc.want)
		}
	}
}

func TestDialogCounters(t *testing.T) {
	m := InitMetrics(prometheus.NewRegistry())

	m.RecordDedupeEviction()
	m.RecordDedupeEviction()
	m.RecordStateTransition("Pending")
	m.RecordStateTransition("Ready")
	m.RecordStateTransition("Pending")
	m.RecordScrollShortCircuit("NEXT")
	m.RecordActionCanceled("stale")
	m.RecordActionCanceled("invalid")
	m.RecordActionCanceled("stale")
	m.RecordBackendRequest("Event", 200, 100*time.Millisecond)
	m.RecordBackendRequest("Event", 0, 10*time.Millisecond)
	m.RecordBackendRetry("Get")
	m.RecordBackendRetry("Get")
	m.RecordStateStoreOp("redis", "get", "miss")
	m.RecordStateStoreOp("redis", "get", "ok")
	m.RecordStateStoreOp("redis", "get", "ok")

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"dedupe", m.DedupeEvictionsTotal, 2},
		{"pending transitions", m.StateTransitionsTotal.WithLabelValues("Pending"), 2},
		{"NEXT short circuits", m.ScrollShortCircuits.WithLabelValues("NEXT"), 1},
		{"stale cancellations", m.ActionsCanceledTotal.WithLabelValues("stale"), 2},
		{"event 200", m.BackendRequestsTotal.WithLabelValues("Event", "200"), 1},
		{"event transport failure", m.BackendRequestsTotal.WithLabelValues("Event", "0"), 1},
		{"get retries", m.BackendRetriesTotal.WithLabelValues("Get"), 2},
		{"redis get ok", m.StateStoreOpsTotal.WithLabelValues("redis", "get", "ok"), 2},
		{"redis get miss", m.StateStoreOpsTotal.WithLabelValues("redis", "get", "miss"), 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(tt.c); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestMetricsMiddleware(t *testing.T) {
	m := InitMetrics(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Route("/dialogs", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {})
		r.Route("/{dialogID}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })
			r.Post("/actions", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.WriteHeader(http.StatusOK)
			})
		})
	})

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/dialogs", nil),
		httptest.NewRequest(http.MethodGet, "/dialogs/d-1", nil),
		httptest.NewRequest(http.MethodGet, "/dialogs/d-2", nil),
		httptest.NewRequest(http.MethodPost, "/dialogs/d-1/actions", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	tests := []struct {
		method, route, status string
		want                  float64
	}{
		{"GET", "/dialogs", "200", 1},
		{"GET", "/dialogs/{dialogID}", "200", 2},
		{"POST", "/dialogs/{dialogID}/actions", "400", 1},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(m.ControlRequestsTotal.WithLabelValues(tt.method, tt.route, tt.status))
		if got != tt.want {
			t.Errorf("%s %s %s = %v, want %v", tt.method, tt.route, tt.status, got, tt.want)
		}
	}
}

func TestMetricsMiddleware_withoutRouter(t *testing.T) {
	m := InitMetrics(prometheus.NewRegistry())

	h := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/raw/path", nil))

	if got := testutil.ToFloat64(m.ControlRequestsTotal.WithLabelValues("GET", "/raw/path", "202")); got != 1 {
		t.Errorf("raw path requests = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	InitMetrics(reg).RecordRoundTrip("Get", "Default", time.Millisecond)

	tests := []struct {
		name string
		g    prometheus.Gatherer
		want string
	}{
		{"registry", reg, "cooldialog_dialog_round_trips_total"},
		{"default", nil, "go_goroutines"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Handler(tt.g).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body lacks %s", tt.want)
			}
		})
	}
}
