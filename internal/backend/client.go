// Package backend is the HTTP client for the ticket management REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// APIError describes a non-2xx backend reply.
type APIError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("backend api error: status %d: %s", e.StatusCode, e.Body)
}

// Client issues authenticated JSON requests against the ticket API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// New creates a Client for the given base URL. The api key, when set, is
// forwarded on every request via the x-api-key header.
func New(baseURL, apiKey string, logger *zap.Logger, opts ...Option) *Client {
	ret := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Get performs a GET against the given API path with optional query parameters.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	endpoint := c.baseURL + "/" + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// Post performs a POST with a JSON body against the given API path.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	return c.send(ctx, http.MethodPost, path, body)
}

// Put performs a PUT with a JSON body against the given API path.
func (c *Client) Put(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	return c.send(ctx, http.MethodPut, path, body)
}

func (c *Client) send(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	endpoint := c.baseURL + "/" + strings.TrimPrefix(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read backend response: %w", err)
	}
	c.logger.Debug("backend request",
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(payload)}
	}
	if len(payload) == 0 {
		return json.RawMessage("null"), nil
	}
	return payload, nil
}
