// Package satyanetra is the client for the Satyanetra gateway: it submits
// product URLs, reads job status and fetches trust-score reports.
package satyanetra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/satyanetra/satyanetra/internal/model"
	"github.com/satyanetra/satyanetra/internal/resilience"
)

const (
	defaultBaseURL      = "http://localhost:3000"
	defaultRetries      = 2
	defaultFirstTimeout = 30 * time.Second
	defaultRetryTimeout = 10 * time.Second
	defaultRetryBackoff = 2 * time.Second
	defaultProbeTimeout = 10 * time.Second
)

// Client defines the gateway operations.
type Client interface {
	Ingest(ctx context.Context, req model.AnalysisRequest) (*model.IngestResponse, error)
	JobStatus(ctx context.Context, jobID string) (*model.Job, error)
	ProductScore(ctx context.Context, productID string) (*model.ScoreReport, error)
	Probe(ctx context.Context) model.ConnectivityProbe
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the gateway address.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetries sets how many times a transport failure is retried.
func WithRetries(n int) Option {
	return func(c *httpClient) {
		c.retries = n
	}
}

// WithTimeouts sets the first-attempt and retry-attempt deadlines.
func WithTimeouts(first, retry time.Duration) Option {
	return func(c *httpClient) {
		if first > 0 {
			c.firstTimeout = first
		}
		if retry > 0 {
			c.retryTimeout = retry
		}
	}
}

// WithRetryBackoff sets the pause between attempts.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *httpClient) {
		c.backoff = d
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	baseURL      string
	http         *http.Client
	retries      int
	firstTimeout time.Duration
	retryTimeout time.Duration
	backoff      time.Duration
}

// NewClient creates a new gateway client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retries:      defaultRetries,
		firstTimeout: defaultFirstTimeout,
		retryTimeout: defaultRetryTimeout,
		backoff:      defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Ingest(ctx context.Context, req model.AnalysisRequest) (*model.IngestResponse, error) {
	var resp model.IngestResponse
	if err := c.call(ctx, http.MethodPost, "/api/ingest", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *httpClient) JobStatus(ctx context.Context, jobID string) (*model.Job, error) {
	var resp model.Job
	if err := c.call(ctx, http.MethodGet, "/api/job/"+url.PathEscape(jobID), nil, &resp); err != nil {
		return nil, err
	}
	if resp.JobID == "" {
		resp.JobID = jobID
	}
	return &resp, nil
}

func (c *httpClient) ProductScore(ctx context.Context, productID string) (*model.ScoreReport, error) {
	var resp model.ScoreReport
	if err := c.call(ctx, http.MethodGet, "/api/product/"+url.PathEscape(productID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Probe sends a bodiless OPTIONS request to the ingest route. A 2xx or 405
// response proves the route exists.
func (c *httpClient) Probe(ctx context.Context) model.ConnectivityProbe {
	ctx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, c.baseURL+"/api/ingest", nil)
	if err != nil {
		return model.ConnectivityProbe{Message: err.Error()}
	}

	resp, err := c.http.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return model.ConnectivityProbe{Message: "Connection timeout", LatencyMs: latency}
		}
		return model.ConnectivityProbe{Message: MsgNetwork, LatencyMs: latency}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if (resp.StatusCode >= 200 && resp.StatusCode < 300) || resp.StatusCode == http.StatusMethodNotAllowed {
		return model.ConnectivityProbe{
			Success:   true,
			Message:   fmt.Sprintf("API proxy is working (gateway: %s)", c.baseURL),
			LatencyMs: latency,
		}
	}
	return model.ConnectivityProbe{
		Message:   fmt.Sprintf("API proxy returned status %d", resp.StatusCode),
		LatencyMs: latency,
	}
}

// call performs one JSON request with the retry budget. Only transport
// failures are retried; each attempt gets its own deadline.
func (c *httpClient) call(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "satyanetra: marshal request")
		}
		payload = buf
	}

	cfg := resilience.FixedBackoff(c.retries, c.backoff)
	cfg.AttemptTimeout = func(attempt int) time.Duration {
		if attempt == 0 {
			return c.firstTimeout
		}
		return c.retryTimeout
	}
	cfg.ShouldRetry = Retryable
	cfg.OnRetry = resilience.RetryLogger("gateway", method+" "+path)

	zap.L().Debug("satyanetra: request", zap.String("method", method), zap.String("path", path))

	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return c.do(ctx, method, path, payload, out)
	})
}

func (c *httpClient) do(ctx context.Context, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Kind: KindValidation, Message: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransport(ctx, err)
	}

	zap.L().Debug("satyanetra: response",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorFromResponse(resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &Error{
			Kind:    KindBackendMalformed,
			Status:  resp.StatusCode,
			Code:    CodeInvalidResponse,
			Message: decodeMessage(data),
			Body:    truncate(string(data), 200),
			Err:     err,
		}
	}
	return nil
}

// decodeMessage separates bodies that are not JSON at all from JSON whose
// shape does not match the expected payload.
func decodeMessage(data []byte) string {
	if !json.Valid(data) {
		return MsgNonJSON
	}
	return MsgUnexpectedShape
}

// classifyTransport turns a failure without a response into a Timeout or
// Network error.
func classifyTransport(ctx context.Context, err error) *Error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, Message: MsgTimeout, Err: err}
	}
	return &Error{Kind: KindNetwork, Message: MsgNetwork, Err: err}
}
