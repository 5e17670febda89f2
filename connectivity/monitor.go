// Package connectivity reports whether the remote API is reachable.
//
// A Monitor is queried synchronously before writes and subscribed to by the
// sync engine, which starts a drain when the device comes back online.
package connectivity

import (
	"log/slog"
	"sync"
	"time"

	"github.com/c0deZ3R0/fieldsync/logging"
)

// Event is a transition between online and offline.
type Event struct {
	Online bool
	At     time.Time
}

// Monitor is the connectivity signal.
type Monitor interface {
	// Online reports the current state without blocking.
	Online() bool

	// Subscribe registers fn for transitions. The returned func
	// unsubscribes.
	Subscribe(fn func(Event)) (cancel func())
}

// Manual is a Monitor whose state is set by its owner. It only emits on
// transitions.
type Manual struct {
	mu          sync.Mutex
	online      bool
	subscribers map[uint64]func(Event)
	next        uint64
	now         func() time.Time
	logger      *slog.Logger
}

var _ Monitor = (*Manual)(nil)

// NewManual returns a monitor in the given initial state.
func NewManual(online bool) *Manual {
	return &Manual{
		online:      online,
		subscribers: make(map[uint64]func(Event)),
		now:         time.Now,
		logger:      logging.WithComponent(logging.Component("connectivity")).Logger,
	}
}

// WithLogger replaces the logger and returns m.
func (m *Manual) WithLogger(l *slog.Logger) *Manual {
	if l != nil {
		m.logger = l
	}
	return m
}

func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline updates the state and notifies subscribers when it changed.
// It reports whether a transition happened.
func (m *Manual) SetOnline(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	ev := Event{Online: online, At: m.now()}
	handlers := make([]func(Event), 0, len(m.subscribers))
	for _, h := range m.subscribers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	m.logger.Info("Connectivity changed", slog.Bool("online", online))
	for _, h := range handlers {
		m.dispatch(h, ev)
	}
	return true
}

func (m *Manual) dispatch(h func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Connectivity subscriber panic recovered", slog.Any("panic", r))
		}
	}()
	h(ev)
}

func (m *Manual) Subscribe(fn func(Event)) (cancel func()) {
	m.mu.Lock()
	id := m.next
	m.next++
	m.subscribers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

// Always is a Monitor that never changes state.
type Always bool

func (a Always) Online() bool                       { return bool(a) }
func (Always) Subscribe(func(Event)) (cancel func()) { return func() {} }
