package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/fieldsync/errors"
	"github.com/c0deZ3R0/fieldsync/logging"
	"github.com/c0deZ3R0/fieldsync/storage"
)

func setupTestDB(t *testing.T) (*Store, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "fieldsync.db")
	config := DefaultConfig(dbPath)
	config.Logger = logging.Discard()

	store, err := New(config)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, dbPath
}

func TestStoreLoadMissing(t *testing.T) {
	store, _ := setupTestDB(t)

	_, err := store.Load(context.Background(), "queue")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStoreUpsert(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "queue", []byte(`[{"id":"1"}]`)))
	require.NoError(t, store.Save(ctx, "queue", []byte(`[]`)))
	require.NoError(t, store.Save(ctx, "other", []byte(`{"x":1}`)))

	got, err := store.Load(ctx, "queue")
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(got))

	got, err = store.Load(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, string(got))
}

func TestStoreSurvivesReopen(t *testing.T) {
	store, dbPath := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "queue", []byte(`["persisted"]`)))
	require.NoError(t, store.Close())

	config := DefaultConfig(dbPath)
	config.Logger = logging.Discard()
	reopened, err := New(config)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load(ctx, "queue")
	require.NoError(t, err)
	assert.Equal(t, `["persisted"]`, string(got))

	var mode string
	require.NoError(t, reopened.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestStoreContextCancellation(t *testing.T) {
	store, _ := setupTestDB(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Save(ctx, "queue", []byte(`[]`))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStoreClosed(t *testing.T) {
	store, _ := setupTestDB(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "double close is a no-op")

	assert.ErrorIs(t, store.Save(context.Background(), "queue", nil), storage.ErrStoreClosed)
	_, err := store.Load(context.Background(), "queue")
	assert.ErrorIs(t, err, storage.ErrStoreClosed)
}

func TestConfigDefaults(t *testing.T) {
	config := DefaultConfig("file:test.db")
	assert.Equal(t, "records", config.TableName)
	assert.Equal(t, 1, config.MaxOpenConns)
	assert.Equal(t, "file:test.db?_journal_mode=WAL", config.DataSourceName)

	config = DefaultConfig("file:test.db?cache=shared")
	assert.Equal(t, "file:test.db?cache=shared&_journal_mode=WAL", config.DataSourceName)

	_, err := New(&Config{DataSourceName: ":memory:", TableName: "bad name;", Logger: logging.Discard()})
	assert.Error(t, err)

	_, err = New(nil)
	assert.Error(t, err)
}

func TestSaveFailureIsStorageError(t *testing.T) {
	store, _ := setupTestDB(t)
	_, err := store.db.Exec(`DROP TABLE records`)
	require.NoError(t, err)

	err = store.Save(context.Background(), "queue", []byte(`[]`))
	require.Error(t, err)
	assert.Equal(t, syncErrors.ClassPersistence, syncErrors.Classify(err))
}
