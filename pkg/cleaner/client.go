// Package cleaner is the HTTP client for the remote exam-name cleaning
// service. It is the only package that touches the transport.
package cleaner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/examclean/internal/resilience"
)

const (
	defaultBaseURL      = "http://localhost:8000/api"
	defaultTimeout      = 30 * time.Second
	defaultBatchTimeout = 120 * time.Second
	defaultMaxRetries   = 3
)

// Client defines the cleaning service operations.
type Client interface {
	// Call issues one logical request with a per-attempt timeout and bounded
	// retries. A final non-2xx response is returned, not raised; a final
	// timeout returns *resilience.TimeoutError and any other transport
	// failure *resilience.NetworkError.
	Call(ctx context.Context, endpoint string, payload any, maxRetries int, timeout time.Duration) (*Response, error)

	ProcessExam(ctx context.Context, req ProcessRequest) (*Response, error)
	SubmitBatch(ctx context.Context, req BatchRequest) (*BatchSubmitResponse, error)
	BatchProgress(ctx context.Context, batchID string) (*Progress, error)
	FetchResults(ctx context.Context, resultsURL string) ([]json.RawMessage, error)
	CommitDecisions(ctx context.Context, req CommitRequest) (*CommitResponse, error)
}

// ErrNotReady is returned by BatchProgress while the service has no progress
// record for the batch yet (HTTP 404).
var ErrNotReady = eris.New("cleaner: batch progress not yet available")

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithAPIKey sends the key as a bearer token.
func WithAPIKey(key string) Option {
	return func(c *httpClient) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetry overrides the retry policy. MaxAttempts becomes the default
// maxRetries of the typed endpoints. Without an OnRetry hook each retry is
// logged with its endpoint.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
		if cfg.MaxAttempts > 0 {
			c.maxRetries = cfg.MaxAttempts
		}
	}
}

// WithTimeout sets the per-attempt timeout for single-record and polling calls.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBatchTimeout sets the per-attempt timeout for batch submission and
// result downloads.
func WithBatchTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.batchTimeout = d
		}
	}
}

// WithRateLimit paces requests to at most rps per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	apiKey       string
	baseURL      string
	http         *http.Client
	retry        resilience.RetryConfig
	maxRetries   int
	timeout      time.Duration
	batchTimeout time.Duration
	limiter      *rate.Limiter
}

// NewClient creates a new cleaning service client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry:        resilience.DefaultRetryConfig(),
		maxRetries:   defaultMaxRetries,
		timeout:      defaultTimeout,
		batchTimeout: defaultBatchTimeout,
		limiter:      rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// statusError marks a non-2xx attempt so the retry loop tries again while
// keeping the response for the caller.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.code)
}

func (c *httpClient) Call(ctx context.Context, endpoint string, payload any, maxRetries int, timeout time.Duration) (*Response, error) {
	var body []byte
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, eris.Wrap(err, "cleaner: marshal request")
		}
		body = buf
	}
	if timeout <= 0 {
		timeout = c.timeout
	}

	retry := c.retry
	if maxRetries > 0 {
		retry.MaxAttempts = maxRetries
	}
	retry.ShouldRetry = func(error) bool { return true }
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger(endpoint)
	}

	attempts := 0
	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*Response, error) {
		attempts++
		return c.attempt(ctx, endpoint, body, timeout)
	})
	if resp != nil {
		resp.Attempts = attempts
	}

	var se *statusError
	switch {
	case err == nil:
		return resp, nil
	case errors.As(err, &se):
		zap.L().Warn("cleaner: call failed with status",
			zap.String("endpoint", endpoint),
			zap.Int("status", se.code),
			zap.Int("attempts", attempts),
		)
		return resp, nil
	case resilience.IsTimeout(err):
		return nil, &resilience.TimeoutError{Endpoint: endpoint, Attempts: attempts, Err: err}
	case ctx.Err() != nil:
		return nil, eris.Wrapf(ctx.Err(), "cleaner: call %s", endpoint)
	default:
		return nil, &resilience.NetworkError{Endpoint: endpoint, Attempts: attempts, Err: err}
	}
}

func (c *httpClient) attempt(ctx context.Context, endpoint string, body []byte, timeout time.Duration) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limiter wait")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := http.MethodGet
	var reader io.Reader
	if body != nil {
		method = http.MethodPost
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(endpoint), reader)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "read response body")
	}

	zap.L().Debug("cleaner: call",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	out := &Response{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: data}
	if !out.OK() {
		return out, &statusError{code: resp.StatusCode}
	}
	return out, nil
}

// resolve joins relative endpoints onto the base URL and leaves absolute
// URLs (external result payloads) untouched.
func (c *httpClient) resolve(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.IsAbs() {
		return endpoint
	}
	return c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
}

func (c *httpClient) ProcessExam(ctx context.Context, req ProcessRequest) (*Response, error) {
	resp, err := c.Call(ctx, "/process", req, c.maxRetries, c.timeout)
	if err != nil {
		return nil, eris.Wrap(err, "cleaner: process exam")
	}
	return resp, nil
}

func (c *httpClient) SubmitBatch(ctx context.Context, req BatchRequest) (*BatchSubmitResponse, error) {
	resp, err := c.Call(ctx, "/batch", req, c.maxRetries, c.batchTimeout)
	if err != nil {
		return nil, eris.Wrap(err, "cleaner: submit batch")
	}
	if !resp.OK() {
		return nil, eris.Wrap(resilience.NewRemoteError(resp.Endpoint, resp.StatusCode, string(resp.Body)), "cleaner: submit batch")
	}
	out, err := decodeSubmit(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "cleaner: submit batch")
	}
	return out, nil
}

func (c *httpClient) BatchProgress(ctx context.Context, batchID string) (*Progress, error) {
	endpoint := fmt.Sprintf("/batch/%s/progress", url.PathEscape(batchID))
	// Polling retries on its own schedule, so one attempt per tick.
	resp, err := c.Call(ctx, endpoint, nil, 1, c.timeout)
	if err != nil {
		return nil, eris.Wrapf(err, "cleaner: batch progress %s", batchID)
	}
	if resp.NotFound() {
		return nil, ErrNotReady
	}
	if !resp.OK() {
		return nil, eris.Wrapf(resilience.NewRemoteError(resp.Endpoint, resp.StatusCode, string(resp.Body)), "cleaner: batch progress %s", batchID)
	}
	out, err := decodeProgress(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "cleaner: batch progress %s", batchID)
	}
	return out, nil
}

func (c *httpClient) FetchResults(ctx context.Context, resultsURL string) ([]json.RawMessage, error) {
	resp, err := c.Call(ctx, resultsURL, nil, c.maxRetries, c.batchTimeout)
	if err != nil {
		return nil, eris.Wrap(err, "cleaner: fetch results")
	}
	if !resp.OK() {
		return nil, eris.Wrap(resilience.NewRemoteError(resultsURL, resp.StatusCode, string(resp.Body)), "cleaner: fetch results")
	}
	items, err := decodeResults(resp.Body, resultsURL)
	if err != nil {
		return nil, eris.Wrap(err, "cleaner: fetch results")
	}
	return items, nil
}

func (c *httpClient) CommitDecisions(ctx context.Context, req CommitRequest) (*CommitResponse, error) {
	resp, err := c.Call(ctx, "/decisions", req, c.maxRetries, c.timeout)
	if err != nil {
		return nil, eris.Wrap(err, "cleaner: commit decisions")
	}
	if !resp.OK() {
		return nil, eris.Wrap(resilience.NewRemoteError(resp.Endpoint, resp.StatusCode, string(resp.Body)), "cleaner: commit decisions")
	}
	out, err := decodeCommit(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "cleaner: commit decisions")
	}
	if !out.Success {
		return nil, eris.Wrap(&resilience.RemoteError{Endpoint: resp.Endpoint, StatusCode: resp.StatusCode, Message: out.Message}, "cleaner: commit decisions rejected")
	}
	return out, nil
}
