// Package api provides an HTTP client for the portal REST API.
//
// The client sits on top of the request pipeline: bearer tokens, the
// anti-forgery header and the 401 refresh-and-replay cycle are handled by
// the transport stages of the *http.Client it is given. The client only
// builds requests and maps responses to output errors.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/digitalsociety/egov-cli/internal/output"
	"github.com/digitalsociety/egov-cli/internal/version"
)

const (
	maxRetries = 3
	baseDelay  = 500 * time.Millisecond
	maxJitter  = 100 * time.Millisecond

	// Longer Retry-After waits are reported instead of slept through.
	maxRetryAfter = 30 * time.Second
)

// Client is an HTTP client for the portal API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	sleep      func(context.Context, time.Duration) error
}

// Response wraps an API response.
type Response struct {
	Data       json.RawMessage
	StatusCode int
	Headers    http.Header
}

// UnmarshalData unmarshals the response data into the given value.
func (r *Response) UnmarshalData(v any) error {
	return json.Unmarshal(r.Data, v)
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the debug logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for baseURL that sends every request through
// httpClient.
func NewClient(httpClient *http.Client, baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     slog.New(slog.DiscardHandler),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the portal origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.doRequest(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body. A nil body sends no payload.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.doRequest(ctx, http.MethodPost, path, body)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.doRequest(ctx, http.MethodDelete, path, nil)
}

// doRequest runs a request, retrying GETs on rate limits and gateway
// errors. A rate-limited retry waits at least the server's Retry-After.
// Unauthorized responses are never retried here.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*Response, error) {
	url := c.buildURL(path)

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		resp, err := c.singleRequest(ctx, method, url, payload)
		if err == nil {
			return resp, nil
		}

		var apiErr *output.Error
		if method != http.MethodGet || !errors.As(err, &apiErr) || !apiErr.Retryable {
			return nil, err
		}
		lastErr = err

		if attempt == maxRetries {
			break
		}
		delay := backoffDelay(attempt)
		if wait := time.Duration(apiErr.RetryAfter) * time.Second; wait > delay {
			if wait > maxRetryAfter {
				return nil, err
			}
			delay = wait
		}
		c.logger.Debug("retrying request", "method", method, "url", url, "attempt", attempt, "delay", delay, "error", err)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *Client) singleRequest(ctx context.Context, method, url string, payload []byte) (*Response, error) {
	var bodyReader io.Reader
	if payload != nil {
		// bytes.Reader lets the pipeline replay the body after a refresh.
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, output.ErrNetwork(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, output.ErrNetwork(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Response{
			Data:       respBody,
			StatusCode: resp.StatusCode,
			Headers:    resp.Header,
		}, nil
	}
	return nil, statusError(resp, respBody, url)
}

// statusError maps a non-2xx response to an output error.
func statusError(resp *http.Response, body []byte, url string) error {
	msg := errorMessage(body)

	switch resp.StatusCode {
	case http.StatusUnauthorized: // 401
		if msg == "" {
			msg = "Authentication failed"
		}
		return output.ErrAuth(msg)

	case http.StatusForbidden: // 403
		if msg == "" {
			msg = "Access denied"
		}
		return output.ErrForbidden(msg)

	case http.StatusNotFound: // 404
		return output.ErrNotFound("Resource", url)

	case http.StatusTooManyRequests: // 429
		return output.ErrRateLimit(parseRetryAfter(resp.Header.Get("Retry-After")))

	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout: // 502, 503, 504
		return &output.Error{
			Code:       output.CodeAPI,
			Message:    fmt.Sprintf("Gateway error (%d)", resp.StatusCode),
			HTTPStatus: resp.StatusCode,
			Retryable:  true,
		}
	}

	if resp.StatusCode >= 500 {
		return output.ErrAPI(resp.StatusCode, fmt.Sprintf("Server error (%d)", resp.StatusCode))
	}
	if msg != "" {
		return output.ErrAPI(resp.StatusCode, msg)
	}
	return output.ErrAPI(resp.StatusCode, fmt.Sprintf("Request failed (HTTP %d)", resp.StatusCode))
}

// errorMessage extracts the human message from a portal error body.
func errorMessage(body []byte) string {
	var apiErr struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) != nil {
		return ""
	}
	switch {
	case apiErr.Detail != "":
		return apiErr.Detail
	case apiErr.Message != "":
		return apiErr.Message
	default:
		return apiErr.Error
	}
}

func (c *Client) buildURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func backoffDelay(attempt int) time.Duration {
	// Exponential backoff: base * 2^(attempt-1)
	delay := baseDelay * time.Duration(1<<(attempt-1))

	jitter := time.Duration(rand.Int63n(int64(maxJitter))) //nolint:gosec // G404: Jitter doesn't need crypto rand

	return delay + jitter
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter parses the Retry-After header value.
func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return seconds
	}
	return 0
}
