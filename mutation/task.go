// Package mutation defines the unit of deferred work: a write operation
// against a logical resource path that has not yet been confirmed by the
// remote API.
package mutation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	syncErrors "github.com/c0deZ3R0/fieldsync/errors"
)

// Method is the kind of write a task performs.
type Method string

const (
	Create  Method = "CREATE"
	Replace Method = "REPLACE"
	Patch   Method = "PATCH"
	Delete  Method = "DELETE"
)

var (
	ErrInvalidMethod = errors.New("invalid mutation method")
	ErrMissingBody   = errors.New("mutation body is required")
	ErrTemporaryID   = errors.New("mutation references a temporary identifier")
)

// Valid reports whether m is one of the four known methods.
func (m Method) Valid() bool {
	switch m {
	case Create, Replace, Patch, Delete:
		return true
	}
	return false
}

// HTTPMethod returns the HTTP verb the method is sent with.
func (m Method) HTTPMethod() string {
	switch m {
	case Create:
		return http.MethodPost
	case Replace:
		return http.MethodPut
	case Patch:
		return http.MethodPatch
	case Delete:
		return http.MethodDelete
	}
	return ""
}

// ParseMethod accepts a method name or its HTTP verb, case-insensitively.
func ParseMethod(s string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CREATE", http.MethodPost:
		return Create, nil
	case "REPLACE", http.MethodPut:
		return Replace, nil
	case "PATCH":
		return Patch, nil
	case "DELETE":
		return Delete, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMethod, s)
}

// Task is one queued write. Every field except RetryCount is fixed at
// creation.
type Task struct {
	ID           string
	ResourcePath string
	Method       Method
	Body         Payload
	CreatedAt    time.Time
	RetryCount   int
}

// TempID is the display identifier of the record a CREATE task will
// produce.
func (t Task) TempID() string {
	return TempID(t.ID)
}

// ItemPath is the path a successful CREATE is expected to yield locally.
// For every other method it is the task's own path.
func (t Task) ItemPath() string {
	if t.Method == Create {
		return JoinPath(t.ResourcePath, t.TempID())
	}
	return t.ResourcePath
}

// Age is how long the task has been queued relative to now.
func (t Task) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// LogValue implements slog.LogValuer.
func (t Task) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", t.ID),
		slog.String("method", string(t.Method)),
		slog.String("path", t.ResourcePath),
		slog.Int("retry_count", t.RetryCount),
	)
}

type wireTask struct {
	ID           string    `json:"id"`
	ResourcePath string    `json:"resourcePath"`
	Method       Method    `json:"method"`
	Body         *Envelope `json:"body,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	RetryCount   int       `json:"retryCount"`
}

// MarshalJSON encodes the task with its body wrapped in a kind envelope.
func (t Task) MarshalJSON() ([]byte, error) {
	w := wireTask{
		ID:           t.ID,
		ResourcePath: t.ResourcePath,
		Method:       t.Method,
		CreatedAt:    t.CreatedAt,
		RetryCount:   t.RetryCount,
	}
	if t.Body != nil {
		env, err := Wrap(t.Body)
		if err != nil {
			return nil, err
		}
		w.Body = &env
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a task, resolving its body through the payload
// registry.
func (t *Task) UnmarshalJSON(data []byte) error {
	var w wireTask
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if !w.Method.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMethod, w.Method)
	}
	*t = Task{
		ID:           w.ID,
		ResourcePath: w.ResourcePath,
		Method:       w.Method,
		CreatedAt:    w.CreatedAt,
		RetryCount:   w.RetryCount,
	}
	if w.Body != nil {
		body, err := w.Body.Open()
		if err != nil {
			return fmt.Errorf("task %s: %w", w.ID, err)
		}
		t.Body = body
	}
	return nil
}

// Validate checks a prospective write and returns its normalized path.
// CREATE targets a collection; the other methods target one item. DELETE
// carries no body and the others require one.
func Validate(method Method, path string, body Payload) (string, error) {
	if !method.Valid() {
		return "", syncErrors.NewValidationError(syncErrors.OpEnqueue, fmt.Errorf("%w: %q", ErrInvalidMethod, method))
	}
	norm, err := NormalizePath(path)
	if err != nil {
		return "", syncErrors.NewValidationError(syncErrors.OpEnqueue, err)
	}
	_, _, isItem := SplitItem(norm)
	switch method {
	case Create:
		if isItem {
			return "", syncErrors.NewValidationError(syncErrors.OpEnqueue,
				fmt.Errorf("%w: CREATE must target a collection, got %s", ErrInvalidPath, norm))
		}
	default:
		if !isItem {
			return "", syncErrors.NewValidationError(syncErrors.OpEnqueue,
				fmt.Errorf("%w: %s must target an item, got %s", ErrInvalidPath, method, norm))
		}
	}
	if method != Delete && body == nil {
		return "", syncErrors.NewValidationError(syncErrors.OpEnqueue, ErrMissingBody)
	}
	return norm, nil
}
