package merge

import (
	"encoding/json"
	"iter"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/fieldsync/mutation"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func task(id string, m mutation.Method, path string, fields map[string]any) mutation.Task {
	t := mutation.Task{ID: id, Method: m, ResourcePath: path, CreatedAt: base}
	if fields != nil {
		t.Body = mutation.NewDocument(fields)
	}
	return t
}

func queueOf(tasks ...mutation.Task) iter.Seq[mutation.Task] {
	return slices.Values(tasks)
}

func ids(entries []Entry[Record]) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = Documents{}.ID(e.Item)
	}
	return out
}

func TestEmptyQueuePassesServerThrough(t *testing.T) {
	server := []Record{{"id": "1", "name": "a"}, {"id": "2", "name": "b"}}
	got := Merge(server, nil, View{Collection: "/customers"}, Documents{})
	require.Len(t, got, 2)
	for i, e := range got {
		assert.Equal(t, server[i], e.Item)
		assert.False(t, e.Pending)
	}
}

func TestPatchThenDeleteHidesItem(t *testing.T) {
	server := []Record{{"id": "42", "customerId": "7"}, {"id": "43", "customerId": "7"}}
	q := queueOf(
		task("a", mutation.Patch, "/visits/42", map[string]any{"notes": "x"}),
		task("b", mutation.Delete, "/visits/42", nil),
	)
	got := Merge(server, q, View{Collection: "/visits"}, Documents{})
	assert.Equal(t, []string{"43"}, ids(got))

	status := StatusOf(q, "/visits/42")
	assert.Equal(t, ActionDelete, status.PendingAction)
	assert.Equal(t, "b", status.TaskID)
}

func TestDeleteBeforePatchStillHides(t *testing.T) {
	server := []Record{{"id": "42"}}
	q := queueOf(
		task("a", mutation.Delete, "/visits/42", nil),
		task("b", mutation.Patch, "/visits/42", map[string]any{"notes": "x"}),
	)
	assert.Empty(t, Merge(server, q, View{Collection: "/visits"}, Documents{}))
}

func TestUpdatesOverlayInQueueOrder(t *testing.T) {
	server := []Record{{"id": "1", "name": "old", "city": "Ames"}}
	q := queueOf(
		task("a", mutation.Patch, "/customers/1", map[string]any{"name": "first", "phone": "555"}),
		task("b", mutation.Replace, "/customers/1", map[string]any{"name": "second", "id": "999"}),
	)
	got := Merge(server, q, View{Collection: "/customers"}, Documents{})
	require.Len(t, got, 1)
	assert.Equal(t, Record{"id": "1", "name": "second", "city": "Ames", "phone": "555"}, got[0].Item)
	assert.True(t, got[0].Pending)
	assert.Equal(t, ActionUpdate, got[0].PendingAction)
	assert.Equal(t, "b", got[0].TaskID)
	assert.Equal(t, Record{"id": "1", "name": "old", "city": "Ames"}, server[0], "server copy is not modified")
}

func TestCreatesArePrependedMostRecentFirst(t *testing.T) {
	server := []Record{{"id": "1", "buildingId": "b1"}}
	q := queueOf(
		task("c1", mutation.Create, "/flocks", map[string]any{"buildingId": "b1", "breed": "leghorn"}),
		task("c2", mutation.Create, "/flocks", map[string]any{"buildingId": "b2"}),
		task("c3", mutation.Create, "/flocks", map[string]any{"buildingId": "b1"}),
	)
	got := Merge(server, q, View{Collection: "/flocks", Scope: ScopeField("buildingId", "b1")}, Documents{})
	assert.Equal(t, []string{"tmp-c3", "tmp-c1", "1"}, ids(got))
	assert.Equal(t, ActionCreate, got[0].PendingAction)
	assert.Equal(t, "leghorn", got[1].Item["breed"])

	all := Merge(server, q, View{Collection: "/flocks"}, Documents{})
	assert.Equal(t, []string{"tmp-c3", "tmp-c2", "tmp-c1", "1"}, ids(all))
}

func TestScopeFieldComparesLoosely(t *testing.T) {
	scope := ScopeField("visitId", 42)
	assert.True(t, scope(mutation.NewDocument(map[string]any{"visitId": float64(42)})))
	assert.True(t, scope(mutation.NewDocument(map[string]any{"visitId": "42"})))
	assert.False(t, scope(mutation.NewDocument(map[string]any{"visitId": nil})))
	assert.False(t, scope(mutation.NewDocument(nil)))
}

func TestDeletedCreateIsNotSynthesized(t *testing.T) {
	q := queueOf(
		task("c1", mutation.Create, "/customers", map[string]any{"name": "x"}),
		task("d1", mutation.Delete, "/customers/tmp-c1", nil),
	)
	assert.Empty(t, Merge[Record](nil, q, View{Collection: "/customers"}, Documents{}))
}

func TestOtherCollectionsAreIgnored(t *testing.T) {
	server := []Record{{"id": "1"}}
	q := queueOf(
		task("a", mutation.Delete, "/customers/1", nil),
		task("b", mutation.Create, "/customers/1/notes", map[string]any{"x": 1}),
	)
	got := Merge(server, q, View{Collection: "/visits"}, Documents{})
	assert.Equal(t, []string{"1"}, ids(got))
	assert.False(t, got[0].Pending)
}

func TestResolveIsIdempotent(t *testing.T) {
	server := []Record{{"id": "1"}}
	q := queueOf(
		task("c1", mutation.Create, "/customers", map[string]any{"name": "x"}),
		task("p1", mutation.Patch, "/customers/1", map[string]any{"name": "y"}),
	)
	view := View{Collection: "/customers"}
	once := Merge(server, q, view, Documents{})
	assert.Equal(t, once, Resolve(once, nil, view, Documents{}))
	assert.Equal(t, once, Resolve(once, q, view, Documents{}))
}

func TestLookup(t *testing.T) {
	q := queueOf(
		task("c1", mutation.Create, "/visits", map[string]any{"customerId": "7"}),
		task("p1", mutation.Patch, "/visits/42", map[string]any{"notes": "x"}),
		task("d1", mutation.Delete, "/visits/43", nil),
	)
	server := Record{"id": "42"}
	e, ok := Lookup(&server, "42", q, "/visits", Documents{})
	require.True(t, ok)
	assert.Equal(t, "x", e.Item["notes"])
	assert.Equal(t, ActionUpdate, e.PendingAction)

	e, ok = Lookup[Record](nil, "tmp-c1", q, "/visits", Documents{})
	require.True(t, ok)
	assert.Equal(t, ActionCreate, e.PendingAction)
	assert.Equal(t, "7", e.Item["customerId"])

	gone := Record{"id": "43"}
	_, ok = Lookup(&gone, "43", q, "/visits", Documents{})
	assert.False(t, ok)
}

func TestStatusOf(t *testing.T) {
	q := queueOf(
		task("c1", mutation.Create, "/visits", map[string]any{"customerId": "7"}),
		task("p1", mutation.Patch, "/visits/42", map[string]any{"notes": "x"}),
		task("p2", mutation.Replace, "/visits/42", map[string]any{"notes": "y"}),
	)
	assert.Equal(t, "p2", StatusOf(q, "/visits/42").TaskID)
	assert.Equal(t, ActionCreate, StatusOf(q, "/visits/tmp-c1").PendingAction)
	assert.False(t, StatusOf(q, "/visits/1").Pending)
	assert.False(t, StatusOf(nil, "/visits/1").Pending)
}

type flock struct {
	ID         string `json:"id"`
	BuildingID string `json:"buildingId"`
	Count      int    `json:"count"`
}

type flockFields struct {
	BuildingID *string `json:"buildingId,omitempty"`
	Count      *int    `json:"count,omitempty"`
}

func (flockFields) Kind() string { return "merge.test.flock" }

func applyFlock(f flock, p flockFields) flock {
	if p.BuildingID != nil {
		f.BuildingID = *p.BuildingID
	}
	if p.Count != nil {
		f.Count = *p.Count
	}
	return f
}

var flocks Adapter[flock] = Typed[flock, flockFields]{
	IDOf:  func(f flock) string { return f.ID },
	Apply: applyFlock,
	New:   func(id string, p flockFields) flock { return applyFlock(flock{ID: id}, p) },
}

func TestTypedAdapterAcceptsDocuments(t *testing.T) {
	server, dropped := DecodeAll([]json.RawMessage{
		json.RawMessage(`{"id":"1","buildingId":"b1","count":10}`),
		json.RawMessage(`nope`),
	}, flocks)
	require.Equal(t, 1, dropped)

	count := 12
	q := queueOf(
		mutation.Task{ID: "p", Method: mutation.Patch, ResourcePath: "/flocks/1", Body: flockFields{Count: &count}},
		task("c", mutation.Create, "/flocks", map[string]any{"buildingId": "b1", "count": 3}),
	)
	got := Merge(server, q, View{Collection: "/flocks", Scope: ScopeField("buildingId", "b1")}, flocks)
	require.Len(t, got, 2)
	assert.Equal(t, flock{ID: "tmp-c", BuildingID: "b1", Count: 3}, got[0].Item)
	assert.Equal(t, flock{ID: "1", BuildingID: "b1", Count: 12}, got[1].Item)
}
