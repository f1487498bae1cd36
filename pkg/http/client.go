// Package http provides a reusable HTTP client with resilience features
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	apperrors "meld_bot/pkg/errors"
	"meld_bot/pkg/telemetry"
	"net/http"
	"net/url"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/failsafe-go/failsafe-go/timeout"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// APIError represents an API error response
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// SignFunc mutates a request with venue-specific authentication. The raw
// body is passed separately because some schemes sign it.
type SignFunc func(req *http.Request, body []byte) error

// Config holds client construction parameters. Zero values fall back to the
// process defaults (5s attempt timeout, 2s call budget, 3 retries).
type Config struct {
	BaseURL     string
	Timeout     time.Duration // per-attempt HTTP timeout
	CallTimeout time.Duration // budget for the whole call including retries
	MaxRetries  int
	RateLimit   rate.Limit // venue requests per second, 0 = unlimited
	RateBurst   int
}

// Client is a wrapper around http.Client with resilience
type Client struct {
	client   *http.Client
	baseURL  string
	limiter  *rate.Limiter
	breaker  circuitbreaker.CircuitBreaker[*http.Response]
	pipeline failsafe.Executor[*http.Response]

	// OTel
	tracer      trace.Tracer
	reqCounter  metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// retryableStatus classifies response codes the venue may answer differently
// on a later attempt. 401/403/500 and unknown codes are deliberately absent:
// those surface to the caller unretried.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusBadRequest,
		http.StatusNotFound,
		http.StatusTooManyRequests,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// NewClient creates a new HTTP client with default resilience policies
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return retryableStatus(resp.StatusCode)
		}).
		WithBackoff(100*time.Millisecond, 2*time.Second).
		WithMaxRetries(cfg.MaxRetries).
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10). // 5 failures out of 10
		WithDelay(10 * time.Second).
		Build()

	// Call budget wraps the retries, so a slow venue yields one timeout
	// error rather than a pile of half-finished attempts.
	callTimeout := timeout.New[*http.Response](cfg.CallTimeout)

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}

	tracer := telemetry.GetTracer("http-client")
	meter := telemetry.GetMeter("http-client")

	reqCounter, _ := meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"))
	errCounter, _ := meter.Int64Counter("http_errors_total",
		metric.WithDescription("Total number of HTTP errors"))
	latencyHist, _ := meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"))

	return &Client{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:     cfg.BaseURL,
		limiter:     limiter,
		breaker:     breaker,
		pipeline:    failsafe.With[*http.Response](callTimeout, retryPolicy, breaker),
		tracer:      tracer,
		reqCounter:  reqCounter,
		errCounter:  errCounter,
		latencyHist: latencyHist,
	}
}

// BaseURL returns the configured venue base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// BreakerOpen reports whether the venue circuit breaker is currently
// rejecting calls. Health checks surface this per connector.
func (c *Client) BreakerOpen() bool {
	return c.breaker.IsOpen()
}

// Do builds and executes a request against the venue. Query parameters are
// encoded before sign runs so signing schemes can cover them; a nil sign
// sends the request as-is.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body []byte, sign SignFunc) ([]byte, error) {
	fullURL := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}
	if len(body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	if sign != nil {
		if err := sign(req, body); err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	start := time.Now()
	ctx := req.Context()

	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("%s %s", req.Method, req.URL.Path),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.String()),
		),
	)
	defer span.End()

	req = req.WithContext(ctx)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	resp, err := c.pipeline.GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		// Each attempt gets a fresh request: a retried POST must not
		// resend an already-drained body reader.
		attempt := req.Clone(ctx)
		if req.GetBody != nil {
			fresh, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, bodyErr
			}
			attempt.Body = fresh
		}
		return c.client.Do(attempt)
	})

	duration := time.Since(start).Seconds()
	c.reqCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", req.Method),
		attribute.String("path", req.URL.Path),
	))
	c.latencyHist.Record(ctx, duration, metric.WithAttributes(
		attribute.String("method", req.Method),
		attribute.String("path", req.URL.Path),
	))

	if err != nil {
		span.RecordError(err)
		c.errCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", req.Method),
			attribute.String("path", req.URL.Path),
			attribute.String("error", "pipeline_failed"),
		))
		if err == timeout.ErrExceeded || ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s %s", apperrors.ErrTimeout, req.Method, req.URL.Path)
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.errCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", req.Method),
			attribute.String("path", req.URL.Path),
			attribute.Int("status", resp.StatusCode),
		))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}

	return body, nil
}
