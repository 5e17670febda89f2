// Package httptransport is the HTTP client for the remote records API.
package httptransport

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	syncErrors "github.com/c0deZ3R0/fieldsync/errors"
	"github.com/c0deZ3R0/fieldsync/logging"
	"github.com/c0deZ3R0/fieldsync/mutation"
	"github.com/c0deZ3R0/fieldsync/transport"
)

// ErrResponseTooLarge is returned when a response body exceeds
// Limits.MaxBodyBytes.
var ErrResponseTooLarge = errors.New("response body exceeds maximum size limit")

// Limits defines size and compression limits for the client
type Limits struct {
	MaxBodyBytes int64 // Maximum response body size in bytes
	EnableGzip   bool  // Compress request bodies
	GzipMinBytes int   // Minimum body size before compressing
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxBodyBytes: 8 << 20, // 8MB
		EnableGzip:   false,
		GzipMinBytes: 1024,
	}
}

// Client sends mutations to, and fetches collections from, the remote API.
type Client struct {
	baseURL string
	http    *http.Client
	limits  Limits
	headers http.Header
	logger  *slog.Logger
}

var _ transport.Remote = (*Client)(nil)

// Option configures a Client using the functional options pattern
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(cl *http.Client) Option {
	return func(c *Client) {
		if cl != nil {
			c.http = cl
		}
	}
}

// WithLimits sets the size and compression limits
func WithLimits(l Limits) Option {
	return func(c *Client) {
		c.limits = l
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Add(key, value)
	}
}

// WithTimeout sets the overall timeout of the underlying HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		limits:  DefaultLimits(),
		headers: make(http.Header),
		logger:  logging.WithComponent(logging.Component("http-transport")).Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limits.MaxBodyBytes <= 0 {
		c.limits.MaxBodyBytes = DefaultLimits().MaxBodyBytes
	}
	return c
}

// BaseURL returns the base URL for the client
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Limits returns the current limits configuration
func (c *Client) Limits() Limits {
	return c.limits
}

func (c *Client) url(path string) string {
	return c.baseURL + "/" + strings.TrimPrefix(path, "/")
}

// Send issues the request for one mutation. Any HTTP response, whatever
// its status, is returned as a Response. An error means no response was
// observed; it is a network-class SyncError unless the request could not
// even be built.
func (c *Client) Send(ctx context.Context, r transport.Request) (*transport.Response, error) {
	verb := r.Method.HTTPMethod()
	if verb == "" {
		return nil, syncErrors.NewValidationError(syncErrors.OpSend, fmt.Errorf("%w: %q", mutation.ErrInvalidMethod, r.Method))
	}

	var (
		body     io.Reader
		encoding string
		size     int
	)
	if r.Body != nil {
		payload, err := json.Marshal(r.Body)
		if err != nil {
			return nil, syncErrors.NewValidationError(syncErrors.OpSend, fmt.Errorf("failed to marshal %s payload: %w", r.Body.Kind(), err))
		}
		size = len(payload)
		if c.limits.EnableGzip && len(payload) > c.limits.GzipMinBytes {
			compressed, err := gzipBytes(payload)
			if err != nil {
				return nil, syncErrors.NewWithComponent(syncErrors.OpSend, "transport", fmt.Errorf("failed to compress request: %w", err))
			}
			payload = compressed
			encoding = "gzip"
		}
		body = bytes.NewReader(payload)
	}

	target := c.url(r.Path)
	req, err := http.NewRequestWithContext(ctx, verb, target, body)
	if err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpSend, "transport", fmt.Errorf("failed to create request: %w", err))
	}
	c.decorate(req, r.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}
	if r.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", r.IdempotencyKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("Send failed before a response",
			slog.String("method", verb), slog.String("url", target), slog.Any("error", err))
		return nil, syncErrors.NewNetworkError(syncErrors.OpSend, fmt.Errorf("%s %s: %w", verb, r.Path, err))
	}
	defer resp.Body.Close()

	respBody, err := c.readBody(resp)
	if err != nil && !errors.Is(err, ErrResponseTooLarge) {
		// The status line arrived, so the server saw the request.
		c.logger.Warn("Failed to read response body",
			slog.String("url", target), slog.Int("status_code", resp.StatusCode), slog.Any("error", err))
	}

	out := &transport.Response{StatusCode: resp.StatusCode, Body: respBody}
	if !out.OK() {
		out.Detail = extractDetail(respBody, resp.Status)
	}
	c.logger.Debug("Send completed",
		slog.String("method", verb),
		slog.String("path", r.Path),
		slog.Int("status_code", resp.StatusCode),
		slog.Int("request_bytes", size),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}

// Fetch reads a collection. The body may be a JSON array or an object
// with the array under "data". A network failure is a network-class error;
// a non-2xx status is a rejection carrying the status.
func (c *Client) Fetch(ctx context.Context, collectionPath, token string) ([]json.RawMessage, error) {
	target := c.url(collectionPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpFetch, "transport", fmt.Errorf("failed to create request: %w", err))
	}
	c.decorate(req, token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, syncErrors.NewNetworkError(syncErrors.OpFetch, fmt.Errorf("GET %s: %w", collectionPath, err))
	}
	defer resp.Body.Close()

	body, err := c.readBody(resp)
	if err != nil {
		if errors.Is(err, ErrResponseTooLarge) {
			return nil, syncErrors.NewWithComponent(syncErrors.OpFetch, "transport", err)
		}
		return nil, syncErrors.NewNetworkError(syncErrors.OpFetch, fmt.Errorf("read %s: %w", collectionPath, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, syncErrors.NewRejectedError(syncErrors.OpFetch, resp.StatusCode, extractDetail(body, resp.Status))
	}
	items, err := decodeCollection(body)
	if err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpFetch, "transport", fmt.Errorf("failed to decode %s: %w", collectionPath, err))
	}
	return items, nil
}

func (c *Client) decorate(req *http.Request, token string) {
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// readBody reads at most MaxBodyBytes; the returned body is truncated and
// the error is ErrResponseTooLarge when the server sent more.
func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	limit := c.limits.MaxBodyBytes
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return data, err
	}
	if int64(len(data)) > limit {
		return data[:limit], ErrResponseTooLarge
	}
	return data, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeCollection(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		err := json.Unmarshal(trimmed, &items)
		return items, err
	}
	var envelope struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// extractDetail pulls a human-readable description out of an error body.
// JSON bodies are searched for "error", "message" and "detail"; anything
// else is returned trimmed, falling back to the status text.
func extractDetail(body []byte, status string) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return status
	}
	var obj map[string]any
	if json.Unmarshal(trimmed, &obj) == nil {
		for _, key := range []string{"error", "message", "detail"} {
			switch v := obj[key].(type) {
			case string:
				if v != "" {
					return v
				}
			case map[string]any:
				if msg, ok := v["message"].(string); ok && msg != "" {
					return msg
				}
			}
		}
		return string(trimmed)
	}
	const maxDetail = 512
	s := string(trimmed)
	if len(s) > maxDetail {
		cut := maxDetail
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

// ParseBaseURL validates a base URL for configuration.
func ParseBaseURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("base URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base URL %q has no host", raw)
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}
