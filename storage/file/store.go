// Package file provides a storage.Store that keeps one JSON file per key in
// a directory. Writes go through a temporary file that is synced and then
// renamed over the target.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	syncErrors "github.com/c0deZ3R0/fieldsync/errors"
	"github.com/c0deZ3R0/fieldsync/storage"
)

const (
	opSave = "file.Save"
	opLoad = "file.Load"
)

var validKey = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Store is a directory of <key>.json records.
type Store struct {
	dir    string
	perm   fs.FileMode
	mu     sync.RWMutex
	closed bool
}

var _ storage.Store = (*Store)(nil)

// New creates dir if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpPersist, fmt.Errorf("mkdir %s: %w", dir, err))
	}
	return &Store{dir: dir, perm: 0o600}, nil
}

func (s *Store) path(key string) (string, error) {
	if !validKey.MatchString(key) || key == "." || key == ".." {
		return "", syncErrors.NewValidationError(syncErrors.OpPersist, fmt.Errorf("invalid key %q", key))
	}
	return filepath.Join(s.dir, key+".json"), nil
}

// Load reads the record for key, or storage.ErrNotFound.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrStoreClosed
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, syncErrors.WrapStorage(err, syncErrors.OpLoad, opLoad, "storage/file")
	}
	return data, nil
}

// Save atomically replaces the record for key.
func (s *Store) Save(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrStoreClosed
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := writeAtomic(p, data, s.perm); err != nil {
		return syncErrors.WrapStorage(err, syncErrors.OpPersist, opSave, "storage/file")
	}
	return nil
}

// Close marks the store closed. There are no open handles between calls.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// writeAtomic writes data to a temp file in the target directory, syncs it
// and renames it over path. If rename fails because the target is locked,
// it retries once after removing the target.
func writeAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	_ = os.Chmod(tmpPath, perm)

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(path)
		if err2 := os.Rename(tmpPath, path); err2 != nil {
			return fmt.Errorf("rename: %v (after remove: %v)", err, err2)
		}
	}
	return nil
}
