// Package redis provides a Redis implementation of storage.Store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	syncErrors "github.com/c0deZ3R0/fieldsync/errors"
	"github.com/c0deZ3R0/fieldsync/logging"
	"github.com/c0deZ3R0/fieldsync/storage"
)

const (
	opSave = "redis.Save"
	opLoad = "redis.Load"

	// DefaultPrefix namespaces every key the store writes.
	DefaultPrefix = "fieldsync"
)

// Config configures a Redis store.
type Config struct {
	// URL in the form redis://[user:password@]host:port/db.
	URL string

	Prefix      string
	DialTimeout time.Duration
	Logger      *slog.Logger
}

func (c *Config) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logging.WithComponent(logging.Component("redis-store")).Logger
	}
}

// Store keeps each record under "<prefix>:<key>".
type Store struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// New parses the URL, connects and pings the server.
func New(ctx context.Context, config Config) (*Store, error) {
	config.setDefaults()
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	opts.DialTimeout = config.DialTimeout

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	config.Logger.Info("Connected to Redis", slog.String("addr", opts.Addr), slog.Int("db", opts.DB))
	return NewWithClient(client, config.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		client: client,
		prefix: prefix,
		logger: logging.WithComponent(logging.Component("redis-store")).Logger,
	}
}

func (s *Store) key(k string) string {
	return s.prefix + ":" + k
}

// Load returns the record for key, or storage.ErrNotFound.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return nil, storage.ErrStoreClosed
		}
		return nil, syncErrors.WrapStorage(err, syncErrors.OpLoad, opLoad, "storage/redis")
	}
	return data, nil
}

// Save overwrites the record for key without expiry.
func (s *Store) Save(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, s.key(key), data, 0).Err(); err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return storage.ErrStoreClosed
		}
		return syncErrors.WrapStorage(err, syncErrors.OpPersist, opSave, "storage/redis")
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	err := s.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}
