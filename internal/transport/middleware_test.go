package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pitabwire/cooldialog/internal/config"
	"github.com/pitabwire/cooldialog/internal/observability"
)

func status(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(code) })
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("window vanished") })

	w := serve(Recovery(zap.New(core))(panicky), http.MethodPost, "/dialogs/d-1/actions")
	expect(t, w, http.StatusInternalServerError)
	if got := errorCode(t, w); got != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", got)
	}
	if n := logs.FilterMessage("panic recovered").Len(); n != 1 {
		t.Errorf("panic log entries = %d, want 1", n)
	}

	w = serve(Recovery(zap.NewNop())(status(http.StatusNoContent)), http.MethodGet, "/")
	expect(t, w, http.StatusNoContent)
}

func TestCORS(t *testing.T) {
	cfg := config.CORSConfig{
		AllowedOrigins: []string{"https://ops.example.com"},
		AllowedMethods: []string{"GET", "POST", "PUT"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         600,
	}

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantOrigin string
	}{
		{"preflight", http.MethodOptions, "https://ops.example.com", http.StatusNoContent, "https://ops.example.com"},
		{"allowed", http.MethodGet, "https://ops.example.com", http.StatusTeapot, "https://ops.example.com"},
		{"foreign origin", http.MethodGet, "https://evil.example.com", http.StatusTeapot, ""},
		{"no origin", http.MethodPut, "", http.StatusTeapot, ""},
		{"preflight from foreign origin", http.MethodOptions, "https://evil.example.com", http.StatusNoContent, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/dialogs", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.method == http.MethodOptions {
				req.Header.Set("Access-Control-Request-Method", "POST")
			}
			w := httptest.NewRecorder()
			CORS(cfg)(status(http.StatusTeapot)).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			want := map[string]string{
				"Access-Control-Allow-Origin": tt.wantOrigin,
				"Vary":                        "Origin",
			}
			if tt.wantOrigin != "" {
				want["Access-Control-Allow-Methods"] = "GET, POST, PUT"
				want["Access-Control-Max-Age"] = "600"
				want["Access-Control-Expose-Headers"] = "X-Correlation-Id"
			}
			for header, v := range want {
				if got := w.Header().Get(header); got != v {
					t.Errorf("%s = %q, want %q", header, got, v)
				}
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-Id", "ui-click-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if seen != "ui-click-42" {
		t.Errorf("correlation id = %q, want ui-click-42", seen)
	}
	if got := w.Header().Get("X-Correlation-Id"); got != "ui-click-42" {
		t.Errorf("response header = %q, want ui-click-42", got)
	}

	w = serve(h, http.MethodGet, "/")
	if seen == "" || seen == "ui-click-42" {
		t.Errorf("generated correlation id = %q, want a fresh one", seen)
	}
	if got := w.Header().Get("X-Correlation-Id"); got != seen {
		t.Errorf("response header = %q, want %q", got, seen)
	}
}

func TestSecurityHeaders(t *testing.T) {
	w := serve(SecurityHeaders(status(http.StatusOK)), http.MethodGet, "/")

	for header, want := range map[string]string{
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"X-XSS-Protection":          "0",
		"Cache-Control":             "no-store",
		"Referrer-Policy":           "strict-origin-when-cross-origin",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestHandlerTimeout(t *testing.T) {
	var deadline time.Time
	var hasDeadline bool
	inspect := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, hasDeadline = r.Context().Deadline()
	})

	serve(HandlerTimeout(100*time.Millisecond)(inspect), http.MethodGet, "/")
	if !hasDeadline {
		t.Fatal("handler context has no deadline")
	}
	if left := time.Until(deadline); left > 100*time.Millisecond || left < -100*time.Millisecond {
		t.Errorf("deadline in %v, want about 100ms", left)
	}

	serve(HandlerTimeout(0)(inspect), http.MethodGet, "/")
	if hasDeadline {
		t.Error("zero timeout must not set a deadline")
	}
}

func TestRequestLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RequestLogging(zap.New(core)))
	r.Post("/dialogs/{dialogID}/keys", func(w http.ResponseWriter, r *http.Request) {
		if observability.LoggerFrom(r.Context(), nil) == nil {
			t.Error("request logger missing from context")
		}
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodPost, "/dialogs/d-9/keys", nil)
	req.Header.Set("X-Correlation-Id", "corr-1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request").All()
	if len(entries) != 1 {
		t.Fatalf("request log entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	for key, want := range map[string]any{
		"status":         int64(http.StatusTeapot),
		"correlation_id": "corr-1",
		"dialog_id":      "d-9",
		"path":           "/dialogs/d-9/keys",
	} {
		if fields[key] != want {
			t.Errorf("%s = %v, want %v", key, fields[key], want)
		}
	}
}
