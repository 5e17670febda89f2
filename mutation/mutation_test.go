package mutation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/fieldsync/errors"
)

type noteFields struct {
	Text   *string `json:"text,omitempty"`
	Closed *bool   `json:"closed,omitempty"`
}

func (noteFields) Kind() string { return "test.note" }

func init() {
	Register[noteFields]()
}

func strPtr(s string) *string { return &s }

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    Method
		wantErr bool
	}{
		{"CREATE", Create, false},
		{"post", Create, false},
		{"put", Replace, false},
		{"Replace", Replace, false},
		{"patch", Patch, false},
		{" DELETE ", Delete, false},
		{"GET", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMethod(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMethod)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTTPMethod(t *testing.T) {
	assert.Equal(t, "POST", Create.HTTPMethod())
	assert.Equal(t, "PUT", Replace.HTTPMethod())
	assert.Equal(t, "PATCH", Patch.HTTPMethod())
	assert.Equal(t, "DELETE", Delete.HTTPMethod())
	assert.Equal(t, "", Method("GET").HTTPMethod())
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"/customers", "/customers", false},
		{"customers/", "/customers", false},
		{"//visits//42/", "/visits/42", false},
		{"https://api.example.com/visits/42?expand=1", "/visits/42", false},
		{"/flocks/7#top", "/flocks/7", false},
		{"", "", true},
		{"/", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePath(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitItem(t *testing.T) {
	c, id, ok := SplitItem("/visits/42")
	assert.True(t, ok)
	assert.Equal(t, "/visits", c)
	assert.Equal(t, "42", id)

	_, _, ok = SplitItem("/visits")
	assert.False(t, ok)

	c, id, ok = SplitItem("/customers/7/buildings/3")
	assert.True(t, ok)
	assert.Equal(t, "/customers/7/buildings", c)
	assert.Equal(t, "3", id)

	assert.Equal(t, "/visits", Collection("/visits/42"))
	assert.Equal(t, "/visits", Collection("/visits"))
	assert.Equal(t, "/visits/42", JoinPath("/visits/", "42"))
}

func TestTempIDs(t *testing.T) {
	id := TempID("abc")
	assert.Equal(t, "tmp-abc", id)
	assert.True(t, IsTempID(id))
	assert.False(t, IsTempID("42"))
	assert.True(t, PathContainsTempID("/customers/tmp-abc"))
	assert.False(t, PathContainsTempID("/customers/42"))

	task := Task{ID: "abc", ResourcePath: "/customers", Method: Create}
	assert.Equal(t, "/customers/tmp-abc", task.ItemPath())
}

func TestContainsTempID(t *testing.T) {
	assert.False(t, ContainsTempID(NewDocument(map[string]any{"customerId": "42"})))
	assert.True(t, ContainsTempID(NewDocument(map[string]any{"customerId": "tmp-1"})))
	assert.True(t, ContainsTempID(NewDocument(map[string]any{
		"links": []any{map[string]any{"href": "/customers/tmp-9"}},
	})))
	assert.True(t, ContainsTempID(noteFields{Text: strPtr("tmp-x")}))
	assert.False(t, ContainsTempID(nil))
}

func TestTaskJSONRoundTrip(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	closed := true

	tasks := []Task{
		{ID: "1", ResourcePath: "/notes/1", Method: Patch, Body: noteFields{Closed: &closed}, CreatedAt: created},
		{ID: "2", ResourcePath: "/customers", Method: Create, Body: NewDocument(map[string]any{"name": "Acme"}), CreatedAt: created, RetryCount: 3},
		{ID: "3", ResourcePath: "/visits/42", Method: Delete, CreatedAt: created},
	}

	data, err := json.Marshal(tasks)
	require.NoError(t, err)

	var decoded []Task
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 3)

	note, ok := decoded[0].Body.(noteFields)
	require.True(t, ok, "registered kind decodes into its type, got %T", decoded[0].Body)
	require.NotNil(t, note.Closed)
	assert.True(t, *note.Closed)

	doc, ok := decoded[1].Body.(Document)
	require.True(t, ok, "unknown kind decodes into a Document, got %T", decoded[1].Body)
	assert.Equal(t, "Acme", doc.Fields["name"])
	assert.Equal(t, 3, decoded[1].RetryCount)
	assert.True(t, created.Equal(decoded[1].CreatedAt))

	assert.Nil(t, decoded[2].Body)
	assert.Equal(t, Delete, decoded[2].Method)
}

func TestTaskWireShape(t *testing.T) {
	task := Task{ID: "7", ResourcePath: "/customers", Method: Create, Body: NewDocument(map[string]any{"name": "Acme"})}
	data, err := json.Marshal(task)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "7", raw["id"])
	assert.Equal(t, "/customers", raw["resourcePath"])
	assert.Equal(t, "CREATE", raw["method"])
	body := raw["body"].(map[string]any)
	assert.Equal(t, DocumentKind, body["kind"])
	assert.Equal(t, map[string]any{"name": "Acme"}, body["data"])
}

func TestUnmarshalRejectsUnknownMethod(t *testing.T) {
	var task Task
	err := json.Unmarshal([]byte(`{"id":"1","resourcePath":"/x","method":"GET"}`), &task)
	assert.ErrorIs(t, err, ErrInvalidMethod)
}

func TestAs(t *testing.T) {
	doc := NewDocument(map[string]any{"text": "hello"})
	note, err := As[noteFields](doc)
	require.NoError(t, err)
	require.NotNil(t, note.Text)
	assert.Equal(t, "hello", *note.Text)

	ptr := &noteFields{Text: strPtr("p")}
	note, err = As[noteFields](ptr)
	require.NoError(t, err)
	assert.Equal(t, "p", *note.Text)
}

func TestValidate(t *testing.T) {
	body := NewDocument(map[string]any{"name": "Acme"})

	path, err := Validate(Create, "customers/", body)
	require.NoError(t, err)
	assert.Equal(t, "/customers", path)

	_, err = Validate(Create, "/customers/1", body)
	assert.ErrorIs(t, err, ErrInvalidPath)
	assert.Equal(t, syncErrors.ClassOther, syncErrors.Classify(err))

	_, err = Validate(Patch, "/customers", body)
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = Validate(Patch, "/customers/1", nil)
	assert.ErrorIs(t, err, ErrMissingBody)

	_, err = Validate(Delete, "/customers/1", nil)
	assert.NoError(t, err)

	_, err = Validate("GET", "/customers/1", nil)
	assert.ErrorIs(t, err, ErrInvalidMethod)
}
