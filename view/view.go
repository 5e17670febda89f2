// Package view composes what the user sees: the last-known server copy of
// a collection with the writes still waiting in the queue laid over it.
package view

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/c0deZ3R0/fieldsync/auth"
	syncErrors "github.com/c0deZ3R0/fieldsync/errors"
	"github.com/c0deZ3R0/fieldsync/logging"
	"github.com/c0deZ3R0/fieldsync/merge"
	"github.com/c0deZ3R0/fieldsync/mutation"
	"github.com/c0deZ3R0/fieldsync/snapshot"
)

// Source supplies server collections. *snapshot.Cache implements it.
type Source interface {
	Get(ctx context.Context, path string) ([]json.RawMessage, error)
}

// Tasks lists pending writes. *queue.Queue implements it.
type Tasks interface {
	List() iter.Seq[mutation.Task]
}

// Collection returns the effective list for v. When the server copy is
// unreachable and was never cached, or no credential is available, the
// list holds only pending creates.
func Collection[T any](ctx context.Context, src Source, tasks Tasks, a merge.Adapter[T], v merge.View) ([]merge.Entry[T], error) {
	coll, err := mutation.NormalizePath(v.Collection)
	if err != nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpFetch, err)
	}
	v.Collection = coll

	server, err := fetch(ctx, src, coll, a)
	if err != nil {
		return nil, err
	}
	return merge.Merge(server, tasks.List(), v, a), nil
}

// Item returns the effective state of the record at itemPath. It reports
// false when the record does not exist or has a pending DELETE.
func Item[T any](ctx context.Context, src Source, tasks Tasks, a merge.Adapter[T], itemPath string) (merge.Entry[T], bool, error) {
	p, err := mutation.NormalizePath(itemPath)
	if err != nil {
		return merge.Entry[T]{}, false, syncErrors.NewValidationError(syncErrors.OpFetch, err)
	}
	coll, id, ok := mutation.SplitItem(p)
	if !ok {
		return merge.Entry[T]{}, false, syncErrors.NewValidationError(syncErrors.OpFetch,
			fmt.Errorf("%w: %s is not an item path", mutation.ErrInvalidPath, p))
	}

	var item *T
	if !mutation.IsTempID(id) {
		server, err := fetch(ctx, src, coll, a)
		if err != nil {
			return merge.Entry[T]{}, false, err
		}
		for i := range server {
			if a.ID(server[i]) == id {
				item = &server[i]
				break
			}
		}
	}
	e, found := merge.Lookup(item, id, tasks.List(), coll, a)
	return e, found, nil
}

// Status reports the pending state of the record at itemPath.
func Status(tasks Tasks, itemPath string) merge.Provenance {
	p, err := mutation.NormalizePath(itemPath)
	if err != nil {
		return merge.Provenance{}
	}
	return merge.StatusOf(tasks.List(), p)
}

func fetch[T any](ctx context.Context, src Source, coll string, a merge.Adapter[T]) ([]T, error) {
	raw, err := src.Get(ctx, coll)
	switch {
	case err == nil:
	case syncErrors.IsNetwork(err), errors.Is(err, snapshot.ErrNotCached), errors.Is(err, auth.ErrNoCredential):
		raw = nil
	default:
		return nil, err
	}
	items, dropped := merge.DecodeAll(raw, a)
	if dropped > 0 {
		logging.WithComponent(logging.Component("view")).Warn("Server records could not be decoded",
			slog.String("collection", coll), slog.Int("dropped", dropped), slog.Int("received", len(raw)))
	}
	return items, nil
}
