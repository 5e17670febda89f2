package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/fieldsync/storage"
)

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	s, err := New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Load(ctx, "queue")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Save(ctx, "queue", []byte(`[{"id":"1"}]`)))
	require.NoError(t, s.Save(ctx, "queue", []byte(`[]`)))

	got, err := s.Load(ctx, "queue")
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must not be left behind")
	assert.Equal(t, "queue.json", entries[0].Name())

	reopened, err := New(dir)
	require.NoError(t, err)
	got, err = reopened.Load(ctx, "queue")
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(got))
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, s.Save(context.Background(), "../escape", []byte(`x`)))
	assert.Error(t, s.Save(context.Background(), "", []byte(`x`)))
}

func TestFileStoreClosed(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Save(context.Background(), "queue", nil), storage.ErrStoreClosed)
	_, err = s.Load(context.Background(), "queue")
	assert.ErrorIs(t, err, storage.ErrStoreClosed)
}
