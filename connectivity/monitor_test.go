package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/fieldsync/logging"
)

func TestManualEmitsOnlyOnTransitions(t *testing.T) {
	m := NewManual(false).WithLogger(logging.Discard())

	var events []Event
	cancel := m.Subscribe(func(e Event) { events = append(events, e) })
	m.Subscribe(func(Event) { panic("boom") })

	assert.False(t, m.SetOnline(false))
	assert.True(t, m.SetOnline(true))
	assert.False(t, m.SetOnline(true))
	assert.True(t, m.Online())
	assert.True(t, m.SetOnline(false))

	require.Len(t, events, 2)
	assert.True(t, events[0].Online)
	assert.False(t, events[1].Online)

	cancel()
	m.SetOnline(true)
	assert.Len(t, events, 2)
}

func TestAlways(t *testing.T) {
	assert.True(t, Always(true).Online())
	assert.False(t, Always(false).Online())
	Always(true).Subscribe(func(Event) {})()
}

func TestProberTreatsAnyResponseAsOnline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := NewProber(server.URL, WithProbeLogger(logging.Discard()))
	assert.False(t, p.Online())
	assert.True(t, p.Probe(context.Background()))
	assert.True(t, p.Online())
}

func TestProberGoesOfflineOnTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	p := NewProber(server.URL, WithProbeLogger(logging.Discard()), WithProbeTimeout(200*time.Millisecond))
	require.True(t, p.Probe(context.Background()))

	server.Close()
	assert.False(t, p.Probe(context.Background()))
	assert.False(t, p.Online())
}

func TestProberStartStop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	p := NewProber(server.URL, WithProbeLogger(logging.Discard()), WithProbeInterval(10*time.Millisecond))

	var mu sync.Mutex
	var transitions int
	p.Subscribe(func(Event) {
		mu.Lock()
		transitions++
		mu.Unlock()
	})

	p.Start(context.Background())
	p.Start(context.Background())
	require.Eventually(t, p.Online, time.Second, 5*time.Millisecond)
	p.Stop()
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, transitions)
}
