// Package transport is the authenticated JSON-over-HTTP client for the cloud API.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cloudagent/internal/apperrors"
	"cloudagent/internal/config"
	"cloudagent/internal/observability"

	"github.com/google/uuid"
)

// maxErrorBodySize bounds how much of a failed response is kept for diagnostics.
const maxErrorBodySize = 64 << 10

// Config holds the settings of a Client.
type Config struct {
	BaseURL    string
	Token      string        // Resolved once at startup; empty means unauthenticated
	Timeout    time.Duration // Per-request timeout (default: 30s)
	HTTPClient *http.Client  // Optional, overrides Timeout
	Metrics    *observability.Metrics
}

// Client sends JSON requests to the cloud API.
// The token is fixed at construction and never re-read.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	metrics *observability.Metrics
	logger  *slog.Logger
}

// New creates a Client. A missing token is not an error here: only
// authenticated calls fail, so unauthenticated endpoints stay usable.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    httpClient,
		metrics: cfg.Metrics,
		logger:  slog.With("component", "transport"),
	}
}

// RequireCredentials returns a MissingCredentials error when no token is configured.
func (c *Client) RequireCredentials() error {
	if c.token == "" {
		return apperrors.MissingCredentials(config.APIKeyEnv)
	}
	return nil
}

// Do sends an authenticated request. body, when non-nil, is JSON-encoded.
// out, when non-nil, receives the decoded JSON response.
// Any status >= 300 is returned as *apperrors.RemoteError.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	if err := c.RequireCredentials(); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.send(req, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &apperrors.RemoteError{
			Method: method,
			Path:   path,
			Status: resp.StatusCode,
			Body:   decodeBody(io.LimitReader(resp.Body, maxErrorBodySize)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	// An empty body leaves out untouched
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// GetJSON performs an authenticated GET and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// DoPublic sends a request without credentials and never fails on status.
// It returns the status code and the decoded body (raw text when not JSON).
// Only transport failures are returned as errors.
func (c *Client) DoPublic(ctx context.Context, method, path string) (int, any, error) {
	req, err := c.newRequest(ctx, method, path, nil)
	if err != nil {
		return 0, nil, err
	}

	resp, err := c.send(req, path)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, decodeBody(resp.Body), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	return req, nil
}

func (c *Client) send(req *http.Request, path string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	c.metrics.RecordRemoteRequest(req.Context(), req.Method, path, status, elapsed.Seconds())

	if err != nil {
		c.logger.Warn("Request failed", "method", req.Method, "path", path, "error", err)
		return nil, fmt.Errorf("%s %s: %w", req.Method, path, err)
	}
	c.logger.Debug("Request completed",
		"method", req.Method,
		"path", path,
		"status", status,
		"duration", elapsed,
		"requestId", req.Header.Get("X-Request-Id"),
	)
	return resp, nil
}

// decodeBody returns the JSON value of r, the trimmed text when it is not JSON,
// or nil when it is empty.
func decodeBody(r io.Reader) any {
	data, err := io.ReadAll(r)
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return strings.TrimSpace(string(data))
	}
	return decoded
}
