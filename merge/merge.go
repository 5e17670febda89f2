// Package merge overlays the pending mutation queue onto the last known
// server collection to produce what a view renders before the server has
// confirmed anything.
//
// Resolution is a pure function of its inputs. It is recomputed on every
// read; nothing here holds state.
package merge

import (
	"fmt"
	"iter"
	"time"

	"github.com/c0deZ3R0/fieldsync/mutation"
)

// Action is the pending operation an entry is tagged with.
type Action string

const (
	ActionNone   Action = ""
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Provenance tells a view whether an item reflects unconfirmed local
// writes.
type Provenance struct {
	Pending       bool      `json:"pending"`
	PendingAction Action    `json:"pendingAction,omitempty"`
	TaskID        string    `json:"taskId,omitempty"`
	QueuedAt      time.Time `json:"queuedAt,omitzero"`
}

func pendingFrom(t mutation.Task, a Action) Provenance {
	return Provenance{Pending: true, PendingAction: a, TaskID: t.ID, QueuedAt: t.CreatedAt}
}

// Entry is an item together with its provenance.
type Entry[T any] struct {
	Item T `json:"item"`
	Provenance
}

// Scope decides whether a pending CREATE belongs in a view, typically by
// its owning parent. A nil Scope admits everything.
type Scope func(body mutation.Payload) bool

// ScopeField admits bodies whose field equals value.
func ScopeField(field string, value any) Scope {
	want := fmt.Sprint(value)
	return func(body mutation.Payload) bool {
		fields, err := mutation.Fields(body)
		if err != nil {
			return false
		}
		got, ok := fields[field]
		return ok && got != nil && fmt.Sprint(got) == want
	}
}

// View identifies what is being rendered.
type View struct {
	Collection string
	Scope      Scope
}

func (v View) admits(body mutation.Payload) bool {
	return v.Scope == nil || v.Scope(body)
}

// Server wraps a fetched collection as confirmed entries.
func Server[T any](items []T) []Entry[T] {
	out := make([]Entry[T], len(items))
	for i, it := range items {
		out[i] = Entry[T]{Item: it}
	}
	return out
}

// Items drops provenance.
func Items[T any](entries []Entry[T]) []T {
	out := make([]T, len(entries))
	for i, e := range entries {
		out[i] = e.Item
	}
	return out
}

// Merge resolves a server collection against the queue.
func Merge[T any](server []T, tasks iter.Seq[mutation.Task], view View, a Adapter[T]) []Entry[T] {
	return Resolve(Server(server), tasks, view, a)
}

// Resolve overlays tasks onto entries. Only tasks addressing the view's
// collection or its items are considered. In order:
//
//  1. entries whose item path has a queued DELETE are dropped, wherever the
//     DELETE sits in the queue;
//  2. REPLACE and PATCH bodies are overlaid in queue order and the entry is
//     tagged UPDATE;
//  3. every CREATE of the collection admitted by the view's scope becomes a
//     synthesized entry with a temporary ID, prepended most recent first.
//
// A CREATE whose temporary ID is already present, or whose temporary item
// has a queued DELETE, is not synthesized again. Resolving an already
// resolved result with an empty queue returns it unchanged. Overlays that
// the adapter cannot apply are skipped; the entry is still tagged.
func Resolve[T any](entries []Entry[T], tasks iter.Seq[mutation.Task], view View, a Adapter[T]) []Entry[T] {
	coll := mutation.Collection(view.Collection)

	deleted := make(map[string]struct{})
	updates := make(map[string][]mutation.Task)
	var creates []mutation.Task
	if tasks != nil {
		for t := range tasks {
			switch t.Method {
			case mutation.Delete:
				if mutation.Collection(t.ResourcePath) == coll {
					deleted[t.ResourcePath] = struct{}{}
				}
			case mutation.Replace, mutation.Patch:
				if c, _, ok := mutation.SplitItem(t.ResourcePath); ok && c == coll {
					updates[t.ResourcePath] = append(updates[t.ResourcePath], t)
				}
			case mutation.Create:
				if t.ResourcePath == coll {
					creates = append(creates, t)
				}
			}
		}
	}

	present := make(map[string]struct{}, len(entries))
	kept := make([]Entry[T], 0, len(entries))
	for _, e := range entries {
		id := a.ID(e.Item)
		path := mutation.JoinPath(coll, id)
		if _, gone := deleted[path]; gone {
			continue
		}
		for _, u := range updates[path] {
			if item, err := a.Overlay(e.Item, u.Body); err == nil {
				e.Item = item
			}
			if e.PendingAction != ActionCreate {
				e.Provenance = pendingFrom(u, ActionUpdate)
			}
		}
		present[id] = struct{}{}
		kept = append(kept, e)
	}

	var synthesized []Entry[T]
	for i := len(creates) - 1; i >= 0; i-- {
		t := creates[i]
		id := t.TempID()
		if _, dup := present[id]; dup {
			continue
		}
		if _, gone := deleted[mutation.JoinPath(coll, id)]; gone {
			continue
		}
		if !view.admits(t.Body) {
			continue
		}
		item, err := a.Synthesize(id, t.Body)
		if err != nil {
			continue
		}
		present[id] = struct{}{}
		synthesized = append(synthesized, Entry[T]{Item: item, Provenance: pendingFrom(t, ActionCreate)})
	}

	if len(synthesized) == 0 {
		return kept
	}
	return append(synthesized, kept...)
}

// Lookup resolves a single item for a detail view. item is the server copy,
// or nil when id is a temporary identifier. It reports false when the item
// has a pending DELETE or does not exist.
func Lookup[T any](item *T, id string, tasks iter.Seq[mutation.Task], collection string, a Adapter[T]) (Entry[T], bool) {
	var entries []Entry[T]
	if item != nil {
		entries = []Entry[T]{{Item: *item}}
	}
	for _, e := range Resolve(entries, tasks, View{Collection: collection}, a) {
		if a.ID(e.Item) == id {
			return e, true
		}
	}
	return Entry[T]{}, false
}

// StatusOf reports the pending state of one item path so a view can
// disable actions that would conflict with it. A pending DELETE wins over
// any update; otherwise the latest update is reported; a temporary item
// reports the CREATE that will produce it.
func StatusOf(tasks iter.Seq[mutation.Task], itemPath string) Provenance {
	var status Provenance
	if tasks == nil {
		return status
	}
	for t := range tasks {
		switch t.Method {
		case mutation.Delete:
			if t.ResourcePath == itemPath {
				return pendingFrom(t, ActionDelete)
			}
		case mutation.Replace, mutation.Patch:
			if t.ResourcePath == itemPath {
				status = pendingFrom(t, ActionUpdate)
			}
		case mutation.Create:
			if t.ItemPath() == itemPath && status.PendingAction == ActionNone {
				status = pendingFrom(t, ActionCreate)
			}
		}
	}
	return status
}
