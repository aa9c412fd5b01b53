// Package client implements the COOL server protocol over HTTP. Every
// request type is a JSON POST to {base_url}/{action}; failures are reported
// as *model.ClientError.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/cooldialog/internal/config"
	"github.com/pitabwire/cooldialog/internal/observability"
	"github.com/pitabwire/cooldialog/model"
)

// maxResponseBytes bounds the size of a decoded response.
const maxResponseBytes = 10 << 20

// Header names sent with every round trip.
const (
	HeaderCorrelationID = "X-Correlation-Id"
	HeaderDialogID      = "X-Dialog-Id"
)

// HTTPClient sends dialog requests to a COOL server. It implements
// model.Client.
type HTTPClient struct {
	baseURL string
	cfg     config.ServerConfig
	http    *http.Client
	breaker *Breaker
	metrics *observability.Metrics
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(hc *HTTPClient) { hc.http = c }
}

// WithMetrics records backend metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(hc *HTTPClient) { hc.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(hc *HTTPClient) { hc.logger = l }
}

// New creates a client for the server described by cfg.
func New(cfg config.ServerConfig, opts ...Option) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &HTTPClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		cfg:     cfg,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxConnsPerHost:     10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		breaker: NewBreaker(cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.SuccessThreshold, cfg.CircuitBreaker.Timeout),
		logger:  zap.NewNop(),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker.OnChange(func(s BreakerState) {
		c.metrics.SetBackendCircuitBreakerState(float64(s))
		c.logger.Warn("circuit breaker state changed", zap.String("state", s.String()))
	})
	return c
}

// Breaker returns the client's circuit breaker.
func (c *HTTPClient) Breaker() *Breaker {
	return c.breaker
}

func (c *HTTPClient) Event(ctx context.Context, req *model.Request) (*model.Response, error) {
	return c.send(ctx, model.RequestEvent, req)
}

func (c *HTTPClient) Get(ctx context.Context, req *model.Request) (*model.Response, error) {
	return c.send(ctx, model.RequestGet, req)
}

func (c *HTTPClient) Current(ctx context.Context, req *model.Request) (*model.Response, error) {
	return c.send(ctx, model.RequestCurrent, req)
}

func (c *HTTPClient) Start(ctx context.Context, req *model.Request) (*model.Response, error) {
	return c.send(ctx, model.RequestStart, req)
}

func (c *HTTPClient) Fork(ctx context.Context, req *model.Request) (*model.Response, error) {
	return c.send(ctx, model.RequestFork, req)
}

func (c *HTTPClient) ChangeDialect(ctx context.Context, req *model.Request) (*model.Response, error) {
	return c.send(ctx, model.RequestChangeDialect, req)
}

func (c *HTTPClient) Help(ctx context.Context, req *model.Request) (*model.Response, error) {
	return c.send(ctx, model.RequestHelp, req)
}

// HealthCheck reports whether the server answers HTTP at all. Any status
// below 500 counts as healthy.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL, nil)
	if err != nil {
		return fmt.Errorf("client: build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: health check: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("client: health check: status %d", resp.StatusCode)
	}
	return nil
}

// send posts req with retries for idempotent actions.
func (c *HTTPClient) send(ctx context.Context, action model.RequestType, req *model.Request) (*model.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("client: marshal %s request: %w", action, err)
	}

	ctx, span := observability.StartSpan(ctx, "client.send", observability.AttrAction.String(string(action)))
	resp, err := c.sendWithRetry(ctx, action, body)
	observability.EndSpanWithError(span, err)
	return resp, err
}

func (c *HTTPClient) sendWithRetry(ctx context.Context, action model.RequestType, body []byte) (*model.Response, error) {
	attempts := 1
	if isIdempotent(action) && c.cfg.Retry.MaxAttempts > 1 {
		attempts = c.cfg.Retry.MaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.metrics.RecordBackendRetry(string(action))
			if err := c.sleep(ctx, backoff(c.cfg.Retry, attempt)); err != nil {
				return nil, &model.ClientError{Cause: err}
			}
		}
		resp, err := c.sendOnce(ctx, action, body)
		if err == nil || !retryable(err) {
			return resp, err
		}
		lastErr = err
		observability.SessionLogger(ctx, c.logger).Debug("retrying round trip",
			zap.String("action", string(action)),
			zap.Int("attempt", attempt+1),
			zap.Int("max", attempts),
			zap.Error(err))
	}
	return nil, lastErr
}

func (c *HTTPClient) sendOnce(ctx context.Context, action model.RequestType, body []byte) (*model.Response, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, &model.ClientError{
			Status:           http.StatusServiceUnavailable,
			StatusText:       http.StatusText(http.StatusServiceUnavailable),
			ExceptionMessage: err.Error(),
			Network:          true,
			Cause:            err,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+string(action), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	c.setHeaders(ctx, httpReq.Header)

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			// Aborted by the caller; not a server failure.
			c.metrics.RecordBackendRequest(string(action), 0, time.Since(start))
			return nil, &model.ClientError{Cause: ctx.Err()}
		}
		c.breaker.RecordFailure()
		c.metrics.RecordBackendRequest(string(action), 0, time.Since(start))
		return nil, &model.ClientError{Network: true, Cause: err, StatusText: networkText(err)}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	c.metrics.RecordBackendRequest(string(action), httpResp.StatusCode, time.Since(start))
	if err != nil {
		c.breaker.RecordFailure()
		return nil, &model.ClientError{Status: httpResp.StatusCode, Network: true, Cause: err}
	}

	switch {
	case httpResp.StatusCode >= 500:
		c.breaker.RecordFailure()
	default:
		// 4xx answers are application errors, not an unhealthy server.
		c.breaker.RecordSuccess()
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, decodeError(httpResp, data)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var resp model.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &model.ClientError{
			Status:           httpResp.StatusCode,
			StatusText:       http.StatusText(httpResp.StatusCode),
			ExceptionMessage: "invalid response body",
			Cause:            err,
		}
	}
	return &resp, nil
}

func (c *HTTPClient) setHeaders(ctx context.Context, h http.Header) {
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")

	correlationID := ""
	if sc := model.SessionContextFrom(ctx); sc != nil {
		correlationID = sc.CorrelationID
		h.Set(HeaderDialogID, sanitizeHeader(sc.DialogID))
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	h.Set(HeaderCorrelationID, sanitizeHeader(correlationID))
	observability.InjectTraceHeaders(ctx, h)
}

// decodeError turns a non-2xx answer into a ClientError. The server
// reports exception details as a JSON object; other bodies are ignored.
func decodeError(resp *http.Response, data []byte) error {
	ce := &model.ClientError{}
	if len(data) > 0 {
		_ = json.Unmarshal(data, ce)
	}
	ce.Status = resp.StatusCode
	if ce.StatusText == "" {
		ce.StatusText = http.StatusText(resp.StatusCode)
	}
	return ce
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

func networkText(err error) string {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "host not found"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "connection failed"
	}
	return "request failed"
}

// isIdempotent reports whether action only reads server state.
func isIdempotent(action model.RequestType) bool {
	return action == model.RequestGet || action == model.RequestCurrent
}

// retryable reports whether a failed attempt may be repeated.
func retryable(err error) bool {
	var ce *model.ClientError
	if !errors.As(err, &ce) {
		return false
	}
	if errors.Is(ce.Cause, ErrCircuitOpen) || ce.Cause == context.Canceled || ce.Cause == context.DeadlineExceeded {
		return false
	}
	switch ce.Status {
	case 0:
		return ce.Network
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func backoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}

	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay >= cfg.BackoffMax {
			return cfg.BackoffMax
		}
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
