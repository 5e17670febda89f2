// Package transport defines how the sync engine talks to the remote API.
//
// One queued mutation maps to one request. A request either produces a
// Response, whatever its status, or fails with a network-class error
// because no response was observed.
package transport

import (
	"context"
	"encoding/json"

	"github.com/c0deZ3R0/fieldsync/mutation"
)

// Request is one mutation on its way to the remote API.
type Request struct {
	Method mutation.Method
	Path   string
	Body   mutation.Payload

	// Token is the bearer credential. Empty means unauthenticated.
	Token string

	// IdempotencyKey lets a server that supports it discard a replay of a
	// request it already applied. The engine uses the task ID.
	IdempotencyKey string
}

// Response is what the server said.
type Response struct {
	StatusCode int
	Body       []byte

	// Detail is the server's machine-readable error description, if any.
	Detail string
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Sender sends one mutation.
type Sender interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// Fetcher reads a collection from the remote API.
type Fetcher interface {
	Fetch(ctx context.Context, collectionPath, token string) ([]json.RawMessage, error)
}

// Remote is the full remote API surface.
type Remote interface {
	Sender
	Fetcher
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, req Request) (*Response, error)

func (f SenderFunc) Send(ctx context.Context, req Request) (*Response, error) { return f(ctx, req) }
