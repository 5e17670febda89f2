// Package snapshot keeps the last-known server copy of each collection.
//
// Reads are served from the cache while it is fresh. A stale or missing
// entry is fetched once, no matter how many readers ask at the same time.
// When the fetch fails for lack of network, the last copy is served
// instead so that views keep working offline.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/c0deZ3R0/fieldsync/auth"
	"github.com/c0deZ3R0/fieldsync/connectivity"
	syncErrors "github.com/c0deZ3R0/fieldsync/errors"
	"github.com/c0deZ3R0/fieldsync/logging"
	"github.com/c0deZ3R0/fieldsync/mutation"
	"github.com/c0deZ3R0/fieldsync/synckit"
	"github.com/c0deZ3R0/fieldsync/transport"
)

// ErrNotCached is returned when a collection cannot be fetched and no
// earlier copy exists.
var ErrNotCached = errors.New("collection not cached")

// Entry is one cached collection.
type Entry struct {
	Docs      []json.RawMessage
	FetchedAt time.Time
	Stale     bool
}

// Cache holds server collections by path. It is safe for concurrent use.
type Cache struct {
	fetcher   transport.Fetcher
	creds     auth.Provider
	monitor   connectivity.Monitor
	logger    *slog.Logger
	now       func() time.Time
	ttl       time.Duration
	retention time.Duration

	entries *gocache.Cache
	group   singleflight.Group

	subMu   sync.RWMutex
	nextSub uint64
	subs    map[uint64]func(string)
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets how long a fetched copy counts as fresh. Zero keeps copies
// fresh until invalidated.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) { c.ttl = d }
}

// WithRetention bounds how long an unused copy is kept for offline reads.
// Zero keeps copies forever.
func WithRetention(d time.Duration) Option {
	return func(c *Cache) { c.retention = d }
}

// WithCredentials sets the token source for fetches.
func WithCredentials(p auth.Provider) Option {
	return func(c *Cache) { c.creds = p }
}

// WithMonitor lets Get skip the network while the device is offline.
func WithMonitor(m connectivity.Monitor) Option {
	return func(c *Cache) { c.monitor = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache reading through fetcher. A nil fetcher makes the
// cache serve only what was Put into it.
func New(fetcher transport.Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher: fetcher,
		now:     time.Now,
		subs:    make(map[uint64]func(string)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.ComponentOr(c.logger, "snapshot")
	if c.monitor == nil {
		c.monitor = connectivity.Always(true)
	}
	expiration := gocache.NoExpiration
	cleanup := time.Duration(0)
	if c.retention > 0 {
		expiration = c.retention
		cleanup = c.retention
	}
	c.entries = gocache.New(expiration, cleanup)
	return c
}

// Get returns the collection at path, fetching it when the cached copy is
// missing or stale.
func (c *Cache) Get(ctx context.Context, path string) ([]json.RawMessage, error) {
	key, err := key(path)
	if err != nil {
		return nil, err
	}
	entry, cached := c.lookup(key)
	if cached && c.fresh(entry) {
		return entry.Docs, nil
	}
	if cached && !c.monitor.Online() {
		return entry.Docs, nil
	}

	docs, err := c.refresh(ctx, key)
	if err == nil {
		return docs, nil
	}
	if cached && (syncErrors.IsNetwork(err) || errors.Is(err, auth.ErrNoCredential)) {
		c.logger.Debug("Serving cached collection", slog.String("path", key),
			slog.Time("fetched_at", entry.FetchedAt), slog.Any("error", err))
		return entry.Docs, nil
	}
	return nil, err
}

// Peek returns the cached entry without fetching.
func (c *Cache) Peek(path string) (Entry, bool) {
	key, err := key(path)
	if err != nil {
		return Entry{}, false
	}
	return c.lookup(key)
}

// Refresh fetches path now. Concurrent refreshes of the same path share
// one request.
func (c *Cache) Refresh(ctx context.Context, path string) ([]json.RawMessage, error) {
	key, err := key(path)
	if err != nil {
		return nil, err
	}
	return c.refresh(ctx, key)
}

func (c *Cache) refresh(ctx context.Context, key string) ([]json.RawMessage, error) {
	if c.fetcher == nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpFetch, "snapshot", ErrNotCached)
	}
	v, err, shared := c.group.Do(key, func() (any, error) {
		token := ""
		if c.creds != nil {
			t, err := c.creds.Credential(ctx)
			if err != nil {
				return nil, err
			}
			token = t
		}
		docs, err := c.fetcher.Fetch(ctx, key, token)
		if err != nil {
			return nil, err
		}
		c.store(key, docs)
		return docs, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("Fetch shared", slog.String("path", key))
	}
	return v.([]json.RawMessage), nil
}

// Put stores docs as the fresh server copy of path.
func (c *Cache) Put(path string, docs []json.RawMessage) error {
	key, err := key(path)
	if err != nil {
		return err
	}
	c.store(key, docs)
	return nil
}

func (c *Cache) store(key string, docs []json.RawMessage) {
	c.entries.SetDefault(key, Entry{Docs: docs, FetchedAt: c.now()})
	c.logger.Debug("Collection cached", slog.String("path", key), slog.Int("docs", len(docs)))
	c.notify(key)
}

// Invalidate marks the copy of collection stale. The copy stays available
// for offline reads; the next online Get re-fetches it.
func (c *Cache) Invalidate(collection string) {
	key, err := key(collection)
	if err != nil {
		return
	}
	entry, ok := c.lookup(key)
	if !ok || entry.Stale {
		return
	}
	entry.Stale = true
	c.entries.SetDefault(key, entry)
	c.notify(key)
}

// Forget drops the copy of path entirely.
func (c *Cache) Forget(path string) {
	if key, err := key(path); err == nil {
		c.entries.Delete(key)
	}
}

// BindEngine invalidates the collection of every task the engine settles,
// so that provisional entries give way to the server's copy.
func (c *Cache) BindEngine(e *synckit.Engine) (cancel func()) {
	return e.OnSettle(func(s synckit.Settlement) {
		c.Invalidate(mutation.Collection(s.Task.ResourcePath))
	})
}

// Subscribe registers fn to be called with the path of every collection
// that is stored or invalidated. Handlers run synchronously.
func (c *Cache) Subscribe(fn func(path string)) (cancel func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Cache) notify(path string) {
	c.subMu.RLock()
	handlers := make([]func(string), 0, len(c.subs))
	for _, h := range c.subs {
		handlers = append(handlers, h)
	}
	c.subMu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("Snapshot subscriber panic recovered", slog.Any("panic", r), slog.String("path", path))
				}
			}()
			h(path)
		}()
	}
}

func (c *Cache) lookup(key string) (Entry, bool) {
	v, ok := c.entries.Get(key)
	if !ok {
		return Entry{}, false
	}
	entry, ok := v.(Entry)
	return entry, ok
}

func (c *Cache) fresh(e Entry) bool {
	if e.Stale {
		return false
	}
	return c.ttl <= 0 || c.now().Sub(e.FetchedAt) < c.ttl
}

func key(path string) (string, error) {
	p, err := mutation.NormalizePath(path)
	if err != nil {
		return "", syncErrors.NewValidationError(syncErrors.OpFetch, err)
	}
	return p, nil
}
