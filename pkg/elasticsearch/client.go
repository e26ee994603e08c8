// Package elasticsearch is a minimal JSON-over-HTTP client for the audit
// index. It issues single-attempt _search requests bounded by a fixed
// timeout and, optionally, guarded by a circuit breaker.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/auditlens/auditlens/pkg/config"
	"github.com/auditlens/auditlens/pkg/resilience"
)

const maxErrorBody = 512

// APIError is a non-2xx response from the index.
type APIError struct {
	StatusCode int
	Type       string
	Reason     string
	Body       string // first 512 bytes
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.Type, e.Reason)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Client talks to one index on one cluster. It is safe for concurrent use.
type Client struct {
	baseURL    string
	index      string
	username   string
	password   string
	httpClient *http.Client
	cfg        config.ElasticsearchConfig
	breaker    *resilience.CircuitBreaker
	logger     *slog.Logger
}

// Option configures Client behavior.
type Option func(*Client)

// WithHTTPClient replaces the underlying transport (tests, custom TLS).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithCircuitBreaker guards every call with cb. Configure cb with
// IsServerFailure so client errors do not trip it.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// New creates a Client for cfg.URL and cfg.Index.
func New(cfg config.ElasticsearchConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		index:      cfg.Index,
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{},
		cfg:        cfg,
		logger:     slog.Default().With("component", "elasticsearch", "index", cfg.Index),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Index returns the index name the client searches.
func (c *Client) Index() string {
	return c.index
}

// Search posts request to /{index}/_search and decodes the body into
// response. It makes exactly one attempt.
func (c *Client) Search(ctx context.Context, request any, response any) error {
	payload, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encoding search request: %w", err)
	}
	path := "/" + url.PathEscape(c.index) + "/_search"

	call := func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, path, payload, response)
	}
	return c.guard(ctx, "elasticsearch search", call)
}

// Ping checks that the cluster answers its root endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.guard(ctx, "elasticsearch ping", func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/", nil, nil)
	})
}

// guard applies the request timeout and, when configured, the circuit
// breaker.
func (c *Client) guard(ctx context.Context, name string, call func(ctx context.Context) error) error {
	run := func() error {
		return resilience.WithTimeout(ctx, c.cfg.RequestTimeout, name, call)
	}
	if c.breaker == nil {
		return run()
	}
	return c.breaker.Execute(run)
}

// IsServerFailure reports whether err should count against a circuit
// breaker: transport errors, timeouts and 5xx responses do, client errors
// (4xx) do not.
func IsServerFailure(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	return err != nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, dest any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseAPIError(resp.StatusCode, raw)
		c.logger.Warn("index request rejected",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"reason", apiErr.Reason,
		)
		return apiErr
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func parseAPIError(status int, raw []byte) *APIError {
	body := string(raw)
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	apiErr := &APIError{StatusCode: status, Body: body}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) != nil || len(envelope.Error) == 0 {
		return apiErr
	}
	var detail struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if json.Unmarshal(envelope.Error, &detail) == nil {
		apiErr.Type = detail.Type
		apiErr.Reason = detail.Reason
		return apiErr
	}
	// Very old clusters report the error as a plain string.
	var msg string
	if json.Unmarshal(envelope.Error, &msg) == nil {
		apiErr.Reason = msg
	}
	return apiErr
}
