// Package httpclient provides the JSON client shared by platform collectors.
//
// Every call goes through a rate limiter and the retry executor of
// errhandling. Failures are returned as classified errors: HTTP statuses by
// errhandling.ClassifyHTTPStatus, transport failures by
// errhandling.ClassifyNetworkError, and undecodable bodies as unexpected
// errors.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/canectors/cdp-inventory/internal/collector"
	"github.com/canectors/cdp-inventory/internal/errhandling"
	"github.com/canectors/cdp-inventory/internal/logger"
)

// Default request values
const (
	defaultUserAgent = "cdp-inventory/1.0"
	maxErrorSnippet  = 500
	maxResponseBytes = 32 << 20
)

// StatusError is an upstream HTTP failure.
type StatusError struct {
	*errhandling.ClassifiedError

	// Endpoint is the URL that failed, without query string.
	Endpoint string

	// Body is the raw error response.
	Body []byte

	retryAfter    time.Duration
	hasRetryAfter bool
}

// RetryDelay implements errhandling.DelayHint.
func (e *StatusError) RetryDelay() (time.Duration, bool) {
	return e.retryAfter, e.hasRetryAfter
}

// Unwrap exposes the classified error.
func (e *StatusError) Unwrap() error {
	return e.ClassifiedError
}

// Client issues requests against one upstream base URL.
// A Client is owned by a single Collect call.
type Client struct {
	platform string
	baseURL  string
	http     *http.Client
	headers  map[string]string
	limiter  *rate.Limiter
	retry    errhandling.RetryConfig
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBearerToken sets the Authorization header.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.headers["Authorization"] = "Bearer " + token
	}
}

// WithHeader sets a header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a client for platform rooted at baseURL.
func New(platform, baseURL string, settings collector.Settings, opts ...Option) *Client {
	c := &Client{
		platform: platform,
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     settings.Client(),
		headers:  map[string]string{"User-Agent": defaultUserAgent, "Accept": "application/json"},
		retry:    settings.Retry,
		logger:   logger.Logger,
	}
	if settings.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(settings.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the root URL of the client.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetJSON performs a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	body, err := c.Do(ctx, http.MethodGet, path, query, nil, "")
	if err != nil {
		return err
	}
	return c.decode(path, body, out)
}

// PostJSON encodes in as JSON, performs a POST and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return errhandling.NewUnexpectedError("encoding request body", err)
	}
	body, err := c.Do(ctx, http.MethodPost, path, nil, payload, "application/json")
	if err != nil {
		return err
	}
	return c.decode(path, body, out)
}

// Do performs a request with retries and returns the raw response body.
// path may be absolute; relative paths are joined to the base URL.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, payload []byte, contentType string) ([]byte, error) {
	endpoint := c.resolve(path)
	target := endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	executor := errhandling.NewRetryExecutor(c.retry)
	executor.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Warn("retrying upstream request",
			slog.String("platform", c.platform),
			slog.String("endpoint", endpoint),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("category", string(errhandling.GetErrorCategory(err))),
			slog.String("error", err.Error()),
		)
	}

	var body []byte
	err := executor.Execute(ctx, func(ctx context.Context) error {
		var reqErr error
		body, reqErr = c.once(ctx, method, endpoint, target, payload, contentType)
		return reqErr
	})
	if info := executor.GetRetryInfo(); info.RetryCount > 0 {
		c.logger.Info("upstream request retried",
			slog.String("platform", c.platform),
			slog.String("endpoint", endpoint),
			slog.Int("attempts", info.TotalAttempts),
			slog.Duration("waited", sum(info.Delays)),
			slog.Duration("duration", info.TotalDuration),
			slog.Bool("succeeded", err == nil),
		)
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

// once performs a single attempt.
func (c *Client) once(ctx context.Context, method, endpoint, target string, payload []byte, contentType string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errhandling.ClassifyNetworkError(err)
		}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, errhandling.NewUnexpectedError("creating http request", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.logger.Debug("http request failed",
			slog.String("platform", c.platform),
			slog.String("method", method),
			slog.String("endpoint", endpoint),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return nil, errhandling.ClassifyNetworkError(err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close response body",
				slog.String("endpoint", endpoint),
				slog.String("error", closeErr.Error()),
			)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errhandling.ClassifyNetworkError(fmt.Errorf("reading response body: %w", err))
	}

	if resp.StatusCode >= 400 {
		c.logger.Debug("http error response",
			slog.String("platform", c.platform),
			slog.String("method", method),
			slog.String("endpoint", endpoint),
			slog.Int("status_code", resp.StatusCode),
			slog.Duration("duration", duration),
			slog.String("response_body", snippet(body)),
		)
		statusErr := &StatusError{
			ClassifiedError: errhandling.ClassifyHTTPStatus(resp.StatusCode, upstreamDetail(body)),
			Endpoint:        endpoint,
			Body:            body,
		}
		statusErr.retryAfter, statusErr.hasRetryAfter = errhandling.RetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return nil, statusErr
	}

	c.logger.Debug("http request completed",
		slog.String("platform", c.platform),
		slog.String("method", method),
		slog.String("endpoint", endpoint),
		slog.Int("status_code", resp.StatusCode),
		slog.Duration("duration", duration),
		slog.Int("response_size", len(body)),
	)
	return body, nil
}

func (c *Client) resolve(path string) string {
	if path == "" {
		return c.baseURL
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) decode(path string, body []byte, out interface{}) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errhandling.NewUnexpectedError(
			fmt.Sprintf("%s returned an unexpected response from %s", c.platform, path), err)
	}
	return nil
}

// upstreamDetail extracts the error message of a JSON error body in the
// shapes used by the supported platforms.
func upstreamDetail(body []byte) string {
	var obj map[string]interface{}
	if err := json.Unmarshal(body, &obj); err == nil {
		if msg, ok := obj["message"].(string); ok {
			return msg
		}
		if inner, ok := obj["error"].(map[string]interface{}); ok {
			if msg, ok := inner["message"].(string); ok {
				return msg
			}
		}
		if msg, ok := obj["error_description"].(string); ok {
			return msg
		}
		if msg, ok := obj["error"].(string); ok {
			return msg
		}
	}

	var list []map[string]interface{}
	if err := json.Unmarshal(body, &list); err == nil && len(list) > 0 {
		if msg, ok := list[0]["message"].(string); ok {
			return msg
		}
	}

	return snippet(body)
}

func sum(delays []time.Duration) time.Duration {
	var total time.Duration
	for _, d := range delays {
		total += d
	}
	return total
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorSnippet {
		return s[:maxErrorSnippet] + "..."
	}
	return s
}
