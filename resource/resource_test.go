package resource

import (
	"encoding/json"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/fieldsync/merge"
	"github.com/c0deZ3R0/fieldsync/mutation"
)

func TestApplyOverlaysOnlySetFields(t *testing.T) {
	c := Customer{ID: "1", Name: "Acme", Phone: "555"}
	got := c.Apply(CustomerFields{Name: Ptr("Acme Farms"), Archived: Ptr(true)})
	assert.Equal(t, Customer{ID: "1", Name: "Acme Farms", Phone: "555", Archived: true}, got)
	assert.Equal(t, "Acme", c.Name)

	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	f := Flock{ID: "f1", Count: 100}.Apply(FlockFields{PlacedAt: &at, Count: Ptr(0)})
	assert.Equal(t, 0, f.Count, "explicit zero is applied")
	require.NotNil(t, f.PlacedAt)
	assert.Equal(t, at, *f.PlacedAt)
}

func TestPayloadsAreRegistered(t *testing.T) {
	for _, kind := range []string{"customer", "building", "flock", "visit", "observation"} {
		assert.True(t, mutation.Registered(kind), kind)
	}

	env, err := mutation.Wrap(VisitFields{Closed: Ptr(true)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"closed":true}`, string(env.Data))

	data, err := json.Marshal(env)
	require.NoError(t, err)
	var back mutation.Envelope
	require.NoError(t, json.Unmarshal(data, &back))
	p, err := back.Open()
	require.NoError(t, err)
	vf, ok := p.(VisitFields)
	require.True(t, ok, "decoded into %T", p)
	assert.True(t, *vf.Closed)
}

func TestVisitAdapterScenario(t *testing.T) {
	server := []Visit{{ID: "42", CustomerID: "7"}, {ID: "43", CustomerID: "7"}}
	tasks := []mutation.Task{
		{ID: "a", Method: mutation.Patch, ResourcePath: "/visits/42", Body: VisitFields{Closed: Ptr(true)}},
		{ID: "b", Method: mutation.Patch, ResourcePath: "/visits/43", Body: mutation.NewDocument(map[string]any{"notes": "wet litter"})},
		{ID: "c", Method: mutation.Delete, ResourcePath: "/visits/42"},
		{ID: "d", Method: mutation.Create, ResourcePath: "/visits", Body: VisitFields{CustomerID: Ptr("7"), Technician: Ptr("kim")}},
		{ID: "e", Method: mutation.Create, ResourcePath: "/visits", Body: VisitFields{CustomerID: Ptr("8")}},
	}
	got := merge.Merge(server, slices.Values(tasks), VisitsOf("7"), Visits)
	require.Len(t, got, 2)
	assert.Equal(t, Visit{ID: "tmp-d", CustomerID: "7", Technician: "kim"}, got[0].Item)
	assert.Equal(t, merge.ActionCreate, got[0].PendingAction)
	assert.Equal(t, "wet litter", got[1].Item.Notes)
	assert.Equal(t, merge.ActionUpdate, got[1].PendingAction)
}

func TestAdaptersDecodeServerJSON(t *testing.T) {
	items, dropped := merge.DecodeAll([]json.RawMessage{
		json.RawMessage(`{"id":"o1","visitId":"42","metric":"weight","value":2.4,"unit":"kg"}`),
	}, merge.Adapter[Observation](Observations))
	require.Zero(t, dropped)
	assert.Equal(t, Observation{ID: "o1", VisitID: "42", Metric: "weight", Value: 2.4, Unit: "kg"}, items[0])
}

func TestIDAcceptsNumbersAndStrings(t *testing.T) {
	items, dropped := merge.DecodeAll([]json.RawMessage{
		json.RawMessage(`{"id":42,"customerId":7,"notes":"numeric"}`),
		json.RawMessage(`{"id":"43","customerId":"7"}`),
		json.RawMessage(`{"id":true}`),
	}, merge.Adapter[Visit](Visits))
	assert.Equal(t, 1, dropped)
	require.Len(t, items, 2)
	assert.Equal(t, ID("42"), items[0].ID)
	assert.Equal(t, ID("7"), items[0].CustomerID)
	assert.Equal(t, ID("43"), items[1].ID)

	data, err := json.Marshal(items[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id":"42"`)

	var v Visit
	require.NoError(t, json.Unmarshal([]byte(`{"id":null}`), &v))
	assert.Empty(t, v.ID)
}

func TestScopeFields(t *testing.T) {
	for coll, field := range ScopeFields {
		assert.Contains(t, []string{BuildingsPath, FlocksPath, VisitsPath, ObservationsPath}, coll)
		assert.NotEmpty(t, field)
	}
	assert.Equal(t, "customerId", ScopeFields[BuildingsPath])
	assert.Equal(t, "visitId", ScopeFields[ObservationsPath])
}
