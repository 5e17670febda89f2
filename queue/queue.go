// Package queue implements the ordered mutation queue and its mirroring to a
// durable store.
//
// The queue is the only shared mutable state of the sync engine. Producers
// enqueue; the drain loop removes settled tasks and bumps retry counts.
// Every change is persisted in the background by a single writer, so
// Enqueue never blocks on I/O and never fails.
package queue

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	syncErrors "github.com/c0deZ3R0/fieldsync/errors"
	"github.com/c0deZ3R0/fieldsync/logging"
	"github.com/c0deZ3R0/fieldsync/mutation"
	"github.com/c0deZ3R0/fieldsync/storage"
)

// DefaultKey is the record name the queue is persisted under.
const DefaultKey = "queue"

// ErrClosed is returned by Flush once the persister has stopped with
// unsaved changes.
var ErrClosed = stdErrors.New("queue is closed")

// Op describes a write to enqueue.
type Op struct {
	Method mutation.Method
	Path   string
	Body   mutation.Payload
}

// ChangeKind says what happened to the queue.
type ChangeKind int

const (
	Enqueued ChangeKind = iota
	Removed
	Retried
)

func (k ChangeKind) String() string {
	switch k {
	case Enqueued:
		return "enqueued"
	case Removed:
		return "removed"
	case Retried:
		return "retried"
	}
	return "unknown"
}

// Change is delivered to subscribers after every mutation of the queue.
type Change struct {
	Kind  ChangeKind
	Tasks []mutation.Task
	Len   int
}

// Queue is the ordered sequence of pending writes.
type Queue struct {
	mu    sync.RWMutex
	tasks []mutation.Task

	store  storage.Store
	key    string
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	subMu       sync.RWMutex
	subscribers map[uint64]func(Change)
	nextSub     uint64

	// persistence bookkeeping, guarded by mu
	version   uint64
	attempted uint64
	lastErr   error
	attemptCh chan struct{}

	saveTimeout time.Duration
	wake        chan struct{}
	stop        chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
}

// Option configures a Queue.
type Option func(*Queue)

// WithKey sets the record name used in the store.
func WithKey(key string) Option {
	return func(q *Queue) {
		if key != "" {
			q.key = key
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithClock sets the source of task timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithIDGenerator replaces the uuid task identifier generator.
func WithIDGenerator(gen func() string) Option {
	return func(q *Queue) {
		if gen != nil {
			q.newID = gen
		}
	}
}

// WithSaveTimeout bounds each background write. Zero means no bound.
func WithSaveTimeout(d time.Duration) Option {
	return func(q *Queue) {
		q.saveTimeout = d
	}
}

// New seeds a queue from the record stored under its key and starts the
// background persister. A missing record yields an empty queue. A record
// that cannot be read or decoded is logged and the queue starts from
// whatever could be recovered.
func New(ctx context.Context, store storage.Store, opts ...Option) *Queue {
	q := &Queue{
		store:       store,
		key:         DefaultKey,
		logger:      logging.WithComponent(logging.Component("queue")).Logger,
		now:         time.Now,
		newID:       uuid.NewString,
		subscribers: make(map[uint64]func(Change)),
		attemptCh:   make(chan struct{}),
		saveTimeout: 10 * time.Second,
		wake:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}

	q.tasks = q.load(ctx)
	go q.persistLoop()
	return q
}

func (q *Queue) load(ctx context.Context) []mutation.Task {
	if q.store == nil {
		return nil
	}
	data, err := q.store.Load(ctx, q.key)
	if stdErrors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		q.logger.Error("Failed to read persisted queue, starting empty",
			slog.String("key", q.key), slog.Any("error", err))
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		q.logger.Error("Persisted queue is corrupt, starting empty",
			slog.String("key", q.key), slog.Any("error", err))
		return nil
	}
	tasks := make([]mutation.Task, 0, len(raw))
	for i, r := range raw {
		var t mutation.Task
		if err := json.Unmarshal(r, &t); err != nil || t.ID == "" {
			q.logger.Warn("Dropping undecodable persisted task",
				slog.Int("index", i), slog.Any("error", err))
			continue
		}
		tasks = append(tasks, t)
	}
	q.logger.Info("Queue restored", slog.String("key", q.key), slog.Int("pending", len(tasks)))
	return tasks
}

// Enqueue appends a task built from op and returns it. The caller is
// responsible for validating op; see mutation.Validate.
func (q *Queue) Enqueue(op Op) mutation.Task {
	task := mutation.Task{
		ID:           q.newID(),
		ResourcePath: op.Path,
		Method:       op.Method,
		Body:         op.Body,
		CreatedAt:    q.now(),
	}
	if task.Method == mutation.Delete {
		task.Body = nil
	}

	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	n := len(q.tasks)
	q.bumpLocked()
	q.mu.Unlock()

	q.logger.Debug("Task enqueued", slog.Any("task", task), slog.Int("pending", n))
	q.notify(Change{Kind: Enqueued, Tasks: []mutation.Task{task}, Len: n})
	return task
}

// Remove deletes every task whose ID is in ids, in one pass, and returns
// how many were removed.
func (q *Queue) Remove(ids ...string) int {
	if len(ids) == 0 {
		return 0
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	q.mu.Lock()
	kept := q.tasks[:0:0]
	var removed []mutation.Task
	for _, t := range q.tasks {
		if _, ok := drop[t.ID]; ok {
			removed = append(removed, t)
			continue
		}
		kept = append(kept, t)
	}
	if len(removed) == 0 {
		q.mu.Unlock()
		return 0
	}
	q.tasks = kept
	n := len(kept)
	q.bumpLocked()
	q.mu.Unlock()

	q.notify(Change{Kind: Removed, Tasks: removed, Len: n})
	return len(removed)
}

// IncrementRetry bumps the retry count of the task with the given ID and
// returns the new count.
func (q *Queue) IncrementRetry(id string) (int, bool) {
	q.mu.Lock()
	var (
		task  mutation.Task
		found bool
	)
	for i := range q.tasks {
		if q.tasks[i].ID == id {
			q.tasks[i].RetryCount++
			task = q.tasks[i]
			found = true
			break
		}
	}
	if !found {
		q.mu.Unlock()
		return 0, false
	}
	n := len(q.tasks)
	q.bumpLocked()
	q.mu.Unlock()

	q.notify(Change{Kind: Retried, Tasks: []mutation.Task{task}, Len: n})
	return task.RetryCount, true
}

// List returns the tasks queued at call time in insertion order. Ranging
// over the sequence again replays the same snapshot; call List again to
// observe later changes.
func (q *Queue) List() iter.Seq[mutation.Task] {
	snapshot := q.Snapshot()
	return func(yield func(mutation.Task) bool) {
		for _, t := range snapshot {
			if !yield(t) {
				return
			}
		}
	}
}

// Snapshot returns a copy of the queued tasks in insertion order.
func (q *Queue) Snapshot() []mutation.Task {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]mutation.Task(nil), q.tasks...)
}

// Head returns the oldest queued task.
func (q *Queue) Head() (mutation.Task, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if len(q.tasks) == 0 {
		return mutation.Task{}, false
	}
	return q.tasks[0], true
}

// Get returns the task with the given ID.
func (q *Queue) Get(id string) (mutation.Task, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, t := range q.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return mutation.Task{}, false
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.tasks)
}

// Subscribe registers fn to be called after every change. Handlers run
// synchronously on the goroutine that changed the queue, after the queue
// lock is released, and must not block. The returned func unsubscribes.
func (q *Queue) Subscribe(fn func(Change)) (cancel func()) {
	q.subMu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subscribers[id] = fn
	q.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			q.subMu.Lock()
			delete(q.subscribers, id)
			q.subMu.Unlock()
		})
	}
}

func (q *Queue) notify(c Change) {
	q.subMu.RLock()
	handlers := make([]func(Change), 0, len(q.subscribers))
	for _, h := range q.subscribers {
		handlers = append(handlers, h)
	}
	q.subMu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					q.logger.Error("Queue subscriber panic recovered",
						slog.Any("panic", r), slog.String("change", c.Kind.String()))
				}
			}()
			h(c)
		}()
	}
}

// bumpLocked records a change that needs persisting. q.mu must be held.
func (q *Queue) bumpLocked() {
	q.version++
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) encodeLocked() ([]byte, error) {
	if q.tasks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(q.tasks)
}

// persistLoop is the single writer to the store. Wakeups coalesce, so a
// burst of changes produces at most one write of the latest state after
// the write in progress.
func (q *Queue) persistLoop() {
	defer close(q.done)
	for {
		select {
		case <-q.wake:
			q.persistOnce()
		case <-q.stop:
			return
		}
	}
}

func (q *Queue) persistOnce() {
	q.mu.RLock()
	v := q.version
	if v == q.attempted {
		q.mu.RUnlock()
		return
	}
	data, encErr := q.encodeLocked()
	q.mu.RUnlock()

	err := encErr
	if err == nil && q.store != nil {
		ctx := context.Background()
		cancel := func() {}
		if q.saveTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, q.saveTimeout)
		}
		err = q.store.Save(ctx, q.key, data)
		cancel()
	}
	if err != nil {
		err = syncErrors.WrapOpComponent(err, "queue.persist", "queue")
		(&logging.Logger{Logger: q.logger}).LogError(context.Background(), err,
			"Failed to persist queue; in-memory queue unaffected",
			slog.String("key", q.key), slog.Uint64("version", v))
	}

	q.mu.Lock()
	q.attempted = v
	q.lastErr = err
	close(q.attemptCh)
	q.attemptCh = make(chan struct{})
	q.mu.Unlock()
}

// Flush waits until every change made before the call has been written
// (or a write has been attempted) and returns the error of the latest
// attempt.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.RLock()
	target := q.version
	q.mu.RUnlock()

	for {
		q.mu.RLock()
		if q.attempted >= target {
			err := q.lastErr
			q.mu.RUnlock()
			return err
		}
		ch := q.attemptCh
		q.mu.RUnlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-q.done:
			q.mu.RLock()
			caughtUp := q.attempted >= target
			err := q.lastErr
			q.mu.RUnlock()
			if caughtUp {
				return err
			}
			return ErrClosed
		}
	}
}

// Close flushes pending changes and stops the persister. The store is not
// closed; it belongs to the caller. The in-memory queue keeps working after
// Close but changes are no longer persisted.
func (q *Queue) Close(ctx context.Context) error {
	err := q.Flush(ctx)
	q.closeOnce.Do(func() { close(q.stop) })
	select {
	case <-q.done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
