// Package platform is a client for the Composio REST API: the toolkit
// directory, auth configs, connected accounts and tool router sessions.
package platform

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

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://backend.composio.dev"

	// OAuthCallbackURL is the redirect URI registered for custom OAuth2
	// credentials; the platform completes the grant on its own endpoint.
	OAuthCallbackURL = "https://backend.composio.dev/api/v3/toolkits/auth/callback"

	apiKeyHeader = "x-api-key"
	maxErrorBody = 64 << 10
)

var (
	ErrNotConfigured = errors.New("COMPOSIO_API_KEY not configured")
	ErrNotFound      = errors.New("platform: not found")
)

// APIError is returned for any non-2xx platform response. Status and body are
// kept verbatim so callers can pass them through.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("composio %s failed (%d): %s", e.Op, e.StatusCode, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Metrics receives one observation per platform call.
type Metrics interface {
	ObservePlatformCall(op string, statusCode int, duration time.Duration)
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	metrics    Metrics
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if strings.TrimSpace(baseURL) != "" {
			c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New builds a client. An empty apiKey is accepted; every call then fails
// with ErrNotConfigured so the condition surfaces per request.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Configured() bool { return c != nil && c.apiKey != "" }

// AuthHeaders returns the headers that authenticate a request against the
// platform, for transports that do not go through this client.
func (c *Client) AuthHeaders() http.Header {
	h := http.Header{}
	if c.apiKey != "" {
		h.Set(apiKeyHeader, c.apiKey)
	}
	return h
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("composio %s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("composio %s: create request: %w", op, err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(op, 0, started)
		return fmt.Errorf("composio %s: %w", op, err)
	}
	defer resp.Body.Close()
	c.observe(op, resp.StatusCode, started)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		c.logger.Debug("platform call failed",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("body", apiErr.Body),
		)
		return apiErr
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("composio %s: read response: %w", op, err)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("composio %s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) observe(op string, status int, started time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.ObservePlatformCall(op, status, time.Since(started))
}
