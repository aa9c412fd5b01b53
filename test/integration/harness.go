// Package integration provides an end-to-end harness for the cooldialog
// control surface. It runs the real HTTP client against a mock COOL server,
// keeps UI state in an in-memory Redis and verifies tokens from a test
// JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/cooldialog/internal/client"
	"github.com/pitabwire/cooldialog/internal/config"
	"github.com/pitabwire/cooldialog/internal/dialog/dialogtest"
	"github.com/pitabwire/cooldialog/internal/headless"
	"github.com/pitabwire/cooldialog/internal/observability"
	"github.com/pitabwire/cooldialog/internal/session"
	"github.com/pitabwire/cooldialog/internal/transport"
	"github.com/pitabwire/cooldialog/model"
)

// TestHarness is a fully wired cooldialog instance behind an httptest server.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	Backend *MockServer
	Manager *headless.Manager
	Redis   *miniredis.Miniredis
	Config  *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*config.Config)

// WithBreaker sets the circuit breaker failure threshold.
func WithBreaker(failures int) HarnessOption {
	return func(cfg *config.Config) {
		cfg.Server.CircuitBreaker.FailureThreshold = failures
		cfg.Server.CircuitBreaker.Timeout = time.Hour
	}
}

// WithRetries sets the attempts made for idempotent round trips.
func WithRetries(attempts int) HarnessOption {
	return func(cfg *config.Config) {
		cfg.Server.Retry.MaxAttempts = attempts
	}
}

// WithServerTimeout bounds each round trip to the COOL server.
func WithServerTimeout(d time.Duration) HarnessOption {
	return func(cfg *config.Config) {
		cfg.Server.Timeout = d
	}
}

// NewTestHarness starts the mock server and a cooldialog instance in front
// of it. The mock answers every action with ordersResponse until tests
// queue something else.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	h := &TestHarness{
		t:       t,
		issuer:  newTokenIssuer(t),
		Backend: newMockServer(t),
		Redis:   miniredis.RunT(t),
	}
	h.Backend.OnAny(ordersResponse())

	cfg := config.Defaults()
	cfg.Server.BaseURL = h.Backend.URL()
	cfg.Server.Timeout = 5 * time.Second
	cfg.Server.Retry.BackoffInitial = time.Millisecond
	cfg.Server.Retry.BackoffMax = 5 * time.Millisecond
	cfg.Dialog.ActivateDebounce = 0
	cfg.Dialog.FocusDebounce = 0
	cfg.Control.HandlerTimeout = 10 * time.Second
	cfg.Control.Auth = config.AuthConfig{
		Issuer:       h.issuer.issuer,
		Audience:     h.issuer.audience,
		JWKSURL:      h.issuer.JWKSURL(),
		JWKSCacheTTL: time.Hour,
		Algorithms:   []string{"RS256"},
		ScopeClaim:   "sub",
	}
	for _, opt := range opts {
		opt(cfg)
	}
	h.Config = cfg

	logger := zap.NewNop()
	registry := prometheus.NewRegistry()
	metrics := observability.InitMetrics(registry)

	backendClient := client.New(cfg.Server, client.WithMetrics(metrics), client.WithLogger(logger))

	rdb := redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
	t.Cleanup(func() { rdb.Close() })
	store := session.NewRedisBackend(rdb, "cooldialog:test", time.Hour)

	manager, err := headless.NewManager(headless.ManagerOptions{
		Config:  cfg,
		Client:  backendClient,
		Backend: store,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		t.Fatalf("create manager: %v", err)
	}
	t.Cleanup(manager.Close)
	h.Manager = manager

	jwks := transport.NewJWKSClient(cfg.Control.Auth.JWKSURL, cfg.Control.Auth.JWKSCacheTTL, logger)
	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Manager:      manager,
		Metrics:      metrics,
		Gatherer:     registry,
		Logger:       logger,
		Authenticate: transport.JWTAuthenticator(cfg.Control.Auth, jwks),
		Readiness: observability.ReadinessChecks{
			Backend:    backendClient,
			StateStore: manager,
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)
	return h
}

// Token returns a valid token for subject.
func (h *TestHarness) Token(subject string) string {
	return h.issuer.GenerateToken(TestClaims{Subject: subject, Email: subject + "@test.local"})
}

// ExpiredToken returns an expired token for subject.
func (h *TestHarness) ExpiredToken(subject string) string {
	return h.issuer.GenerateExpiredToken(TestClaims{Subject: subject})
}

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.do(http.MethodGet, path, nil, token)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.do(http.MethodPost, path, body, token)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.do(http.MethodDelete, path, nil, token)
}

func (h *TestHarness) do(method, path string, body any, token string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks the status code and closes the body.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks the status code and parses the body into target.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// CreateDialog starts an ORDERS dialog for token and returns its id.
func (h *TestHarness) CreateDialog(t *testing.T, token string) string {
	t.Helper()
	var out ActionResult
	h.AssertJSON(t, h.POST("/dialogs", transport.CreateRequest{Location: "?procedure=ORDERS"}, token),
		http.StatusCreated, &out)
	if !out.OK || out.Snapshot == nil {
		t.Fatalf("create dialog: ok=%v snapshot=%v", out.OK, out.Snapshot)
	}
	return out.Snapshot.ID
}

// ActionResult mirrors the control surface action answer.
type ActionResult struct {
	OK       bool      `json:"ok"`
	Pending  bool      `json:"pending"`
	Snapshot *Snapshot `json:"snapshot"`
}

// Snapshot mirrors the parts of a dialog snapshot the tests inspect.
type Snapshot struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	Pending    int    `json:"pending"`
	Procedures []struct {
		ID      int64  `json:"id"`
		Name    string `json:"name"`
		Windows []struct {
			Name   string `json:"name"`
			Active bool   `json:"active"`
		} `json:"windows"`
	} `json:"procedures"`
}

// ErrorBody mirrors the control surface error envelope.
type ErrorBody struct {
	Error model.ErrorEnvelope `json:"error"`
}

func ordersResponse() *model.Response {
	return dialogtest.Response(1,
		dialogtest.Procedure(1, "ORDERS", dialogtest.Window("MAIN", map[string]any{"customer": "ACME"})))
}

func detailResponse() *model.Response {
	return dialogtest.Response(2,
		dialogtest.Procedure(1, "ORDERS", dialogtest.Window("MAIN", map[string]any{"customer": "ACME"})),
		dialogtest.Procedure(2, "DETAIL", dialogtest.Window("LINES", map[string]any{"qty": 3.0})))
}

func command(name string) transport.ActionRequest {
	return transport.ActionRequest{
		Action:      model.RequestCommand,
		ProcedureID: 1,
		Window:      "MAIN",
		Command:     name,
	}
}
