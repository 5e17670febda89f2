package synckit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c0deZ3R0/fieldsync/auth"
	syncErrors "github.com/c0deZ3R0/fieldsync/errors"
	"github.com/c0deZ3R0/fieldsync/logging"
	"github.com/c0deZ3R0/fieldsync/mutation"
	"github.com/c0deZ3R0/fieldsync/queue"
	"github.com/c0deZ3R0/fieldsync/transport"
)

// Invalidator drops cached server state for a collection.
type Invalidator interface {
	Invalidate(collection string)
}

// SubmitResult tells the caller what happened to a write.
type SubmitResult struct {
	// Queued is set when the write was enqueued for a later pass.
	Queued bool
	// Sent is set when the server accepted the write immediately.
	Sent bool
	// Cancelled is set when a DELETE of a temporary item removed the
	// pending CREATE instead of reaching the server.
	Cancelled bool

	// Task is the queued, or cancelled, task.
	Task mutation.Task
	// TempID identifies the provisional record of a queued CREATE.
	TempID string

	StatusCode int
	Body       []byte
}

// Client is the write facade for application code. Writes go straight to
// the server when nothing is pending and the device is online; otherwise
// they join the queue behind earlier writes.
type Client struct {
	engine       *Engine
	invalidators []Invalidator
	logger       *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithInvalidator registers cached state to drop after an immediate send.
func WithInvalidator(inv Invalidator) ClientOption {
	return func(c *Client) {
		if inv != nil {
			c.invalidators = append(c.invalidators, inv)
		}
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates the facade over e.
func NewClient(e *Engine, opts ...ClientOption) *Client {
	c := &Client{engine: e}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.ComponentOr(c.logger, "client")
	return c
}

// Submit validates and performs one write.
//
// Writes that reference a temporary identifier are refused, with one
// exception: a DELETE of a temporary item cancels the CREATE that would
// produce it. A rejection on an immediate send is returned as a
// REJECTED SyncError; after a network failure the write stays queued.
func (c *Client) Submit(ctx context.Context, method mutation.Method, path string, body mutation.Payload) (*SubmitResult, error) {
	p, err := mutation.Validate(method, path, body)
	if err != nil {
		return nil, err
	}
	if method == mutation.Delete {
		body = nil
		if coll, id, ok := mutation.SplitItem(p); ok && mutation.IsTempID(id) && !mutation.PathContainsTempID(coll) {
			return c.cancel(p, id)
		}
	}
	if mutation.PathContainsTempID(p) || mutation.ContainsTempID(body) {
		return nil, syncErrors.NewValidationError(syncErrors.OpSubmit,
			fmt.Errorf("%w: %s %s", mutation.ErrTemporaryID, method, p))
	}

	e := c.engine
	if e.isClosed() {
		return nil, ErrClosed
	}
	op := queue.Op{Method: method, Path: p, Body: body}
	task, immediate := e.admit(op)
	if !immediate {
		return c.queued(task), nil
	}
	// The task already holds its place at the head of the queue, so writes
	// submitted while it is in flight stay behind it.
	defer e.releaseIdle()
	defer e.releaseTask()

	token, err := e.creds.Credential(ctx)
	if err != nil || token == "" {
		return c.queued(task), nil
	}

	sendCtx, cancel := e.withTimeout(ctx)
	resp, err := e.remote.Send(sendCtx, transport.Request{
		Method:         method,
		Path:           p,
		Body:           body,
		Token:          token,
		IdempotencyKey: task.ID,
	})
	cancel()

	switch e.classify(resp, err) {
	case VerdictSuccess:
		e.queue.Remove(task.ID)
		e.metrics.RecordOutcome(string(OutcomeSent))
		e.resetBackoff()
		coll := mutation.Collection(p)
		for _, inv := range c.invalidators {
			inv.Invalidate(coll)
		}
		c.logger.Debug("Write sent", slog.String("method", string(method)), slog.String("path", p),
			slog.Int("status_code", resp.StatusCode))
		return &SubmitResult{Sent: true, StatusCode: resp.StatusCode, Body: resp.Body}, nil

	case VerdictRejected:
		e.queue.Remove(task.ID)
		e.metrics.RecordOutcome(string(OutcomeRejected))
		e.resetBackoff()
		if resp == nil {
			return nil, err
		}
		return nil, syncErrors.NewRejectedError(syncErrors.OpSubmit, resp.StatusCode, rejectionDetail(resp, err)).
			WithMetadata("method", string(method)).
			WithMetadata("path", p)

	case VerdictUnauthorized:
		if inv, ok := e.creds.(auth.Invalidator); ok {
			inv.Invalidate()
		}
		e.metrics.RecordOutcome(string(OutcomeUnauthorized))
	default:
		if ctx.Err() == nil {
			e.queue.IncrementRetry(task.ID)
			e.metrics.RecordOutcome(string(OutcomeRetry))
			e.backOff()
		}
		c.logger.Debug("Immediate send failed, write stays queued", slog.String("path", p), slog.Any("error", err))
	}
	if t, ok := e.queue.Get(task.ID); ok {
		task = t
	}
	return c.queued(task), nil
}

func (c *Client) queued(task mutation.Task) *SubmitResult {
	res := &SubmitResult{Queued: true, Task: task}
	if task.Method == mutation.Create {
		res.TempID = task.TempID()
	}
	return res
}

func (c *Client) cancel(itemPath, tempID string) (*SubmitResult, error) {
	taskID := strings.TrimPrefix(tempID, mutation.TempPrefix)
	task, ok := c.engine.queue.Get(taskID)
	if !ok || task.Method != mutation.Create || task.ItemPath() != itemPath {
		return nil, syncErrors.NewValidationError(syncErrors.OpSubmit,
			fmt.Errorf("%w: no pending create for %s", mutation.ErrTemporaryID, itemPath))
	}
	if err := c.engine.cancelTask(taskID); err != nil {
		return nil, err
	}
	c.logger.Info("Pending create cancelled", slog.Any("task", task))
	return &SubmitResult{Cancelled: true, Task: task}, nil
}

// Create writes a new record to collection.
func (c *Client) Create(ctx context.Context, collection string, body mutation.Payload) (*SubmitResult, error) {
	return c.Submit(ctx, mutation.Create, collection, body)
}

// Replace overwrites the record at itemPath.
func (c *Client) Replace(ctx context.Context, itemPath string, body mutation.Payload) (*SubmitResult, error) {
	return c.Submit(ctx, mutation.Replace, itemPath, body)
}

// Patch updates the given fields of the record at itemPath.
func (c *Client) Patch(ctx context.Context, itemPath string, body mutation.Payload) (*SubmitResult, error) {
	return c.Submit(ctx, mutation.Patch, itemPath, body)
}

// Delete removes the record at itemPath.
func (c *Client) Delete(ctx context.Context, itemPath string) (*SubmitResult, error) {
	return c.Submit(ctx, mutation.Delete, itemPath, nil)
}

// Archive flags the record at itemPath as archived.
func (c *Client) Archive(ctx context.Context, itemPath string) (*SubmitResult, error) {
	return c.Patch(ctx, itemPath, mutation.NewDocument(map[string]any{"archived": true}))
}
