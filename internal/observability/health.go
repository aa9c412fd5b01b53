package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Set at link time.
var (
	Version = "dev"
	Commit  = "unknown"
)

var started = time.Now()

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ReadinessResponse is the readiness body.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReadinessChecks names the dependencies checked by /ready. The COOL server
// is required: without it no dialog can make progress. The state store is
// checked when set.
type ReadinessChecks struct {
	Backend    HealthChecker
	StateStore HealthChecker
}

const checkTimeout = 2 * time.Second

// HandleHealth answers liveness checks.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, HealthResponse{
			Status:        "ok",
			Version:       Version,
			Commit:        Commit,
			UptimeSeconds: int64(time.Since(started).Seconds()),
		})
	}
}

// HandleReady checks every configured dependency concurrently and answers
// 503 when any of them fails.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			mu      sync.Mutex
			g       errgroup.Group
			results = map[string]CheckResult{}
		)
		check := func(name string, c HealthChecker) {
			g.Go(func() error {
				res := runCheck(r.Context(), c)
				mu.Lock()
				results[name] = res
				mu.Unlock()
				return nil
			})
		}

		if checks.Backend != nil {
			check("backend", checks.Backend)
		} else {
			results["backend"] = CheckResult{Status: "error", Error: "backend not configured"}
		}
		if checks.StateStore != nil {
			check("state_store", checks.StateStore)
		}
		_ = g.Wait()

		resp := ReadinessResponse{Status: "ready", Checks: results}
		code := http.StatusOK
		for _, res := range results {
			if res.Status != "ok" {
				resp.Status = "not_ready"
				code = http.StatusServiceUnavailable
				break
			}
		}
		writeStatus(w, code, resp)
	}
}

func runCheck(parent context.Context, c HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := c.HealthCheck(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	return res
}

func writeStatus(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
