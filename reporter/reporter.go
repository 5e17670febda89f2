// Package reporter delivers rejected writes to someone who can act on them.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	syncErrors "github.com/c0deZ3R0/fieldsync/errors"
	"github.com/c0deZ3R0/fieldsync/logging"
	"github.com/c0deZ3R0/fieldsync/mutation"
	"github.com/c0deZ3R0/fieldsync/synckit"
)

// Log writes each rejection at error level.
type Log struct {
	Logger *slog.Logger
}

// Report implements synckit.ErrorReporter.
func (l Log) Report(ctx context.Context, task mutation.Task, detail string) error {
	logger := logging.ComponentOr(l.Logger, "reporter")
	logger.LogAttrs(ctx, slog.LevelError, "Write rejected by server",
		slog.String("task_id", task.ID),
		slog.String("method", string(task.Method)),
		slog.String("path", task.ResourcePath),
		slog.Int("retry_count", task.RetryCount),
		slog.String("detail", detail))
	return nil
}

// Report is the JSON document posted by HTTP.
type Report struct {
	TaskID     string          `json:"taskId"`
	Method     mutation.Method `json:"method"`
	Path       string          `json:"path"`
	Detail     string          `json:"detail"`
	RetryCount int             `json:"retryCount"`
	ReportedAt time.Time       `json:"reportedAt"`
}

// HTTP posts each rejection to an endpoint.
type HTTP struct {
	endpoint string
	client   *http.Client
	token    string
	now      func() time.Time
}

// HTTPOption configures an HTTP reporter.
type HTTPOption func(*HTTP)

// WithHTTPClient sets the client used for posting.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithToken sends a bearer token with each report.
func WithToken(token string) HTTPOption {
	return func(h *HTTP) { h.token = token }
}

// WithClock sets the time source for ReportedAt.
func WithClock(now func() time.Time) HTTPOption {
	return func(h *HTTP) { h.now = now }
}

// NewHTTP creates a reporter posting to endpoint with a 10 second timeout.
func NewHTTP(endpoint string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Report implements synckit.ErrorReporter.
func (h *HTTP) Report(ctx context.Context, task mutation.Task, detail string) error {
	body, err := json.Marshal(Report{
		TaskID:     task.ID,
		Method:     task.Method,
		Path:       task.ResourcePath,
		Detail:     detail,
		RetryCount: task.RetryCount,
		ReportedAt: h.now().UTC(),
	})
	if err != nil {
		return syncErrors.NewWithComponent(syncErrors.OpReport, "reporter", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return syncErrors.NewWithComponent(syncErrors.OpReport, "reporter", fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return syncErrors.NewNetworkError(syncErrors.OpReport, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return syncErrors.NewRetryable(syncErrors.OpReport, fmt.Errorf("report endpoint: %s", resp.Status)).
			WithMetadata("status", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return syncErrors.NewRejectedError(syncErrors.OpReport, resp.StatusCode, resp.Status)
	}
	return nil
}

// Multi fans a report out to every reporter and joins their errors.
type Multi []synckit.ErrorReporter

// Report implements synckit.ErrorReporter.
func (m Multi) Report(ctx context.Context, task mutation.Task, detail string) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Report(ctx, task, detail); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
