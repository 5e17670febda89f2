package connectivity

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Prober polls a health URL and reports the API online whenever any HTTP
// response comes back. Only transport failures count as offline; a 503 is
// still a reachable server whose rejections the drain loop must see.
type Prober struct {
	*Manual

	url      string
	interval time.Duration
	timeout  time.Duration
	client   *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithProbeInterval sets the polling period. Default 15s.
func WithProbeInterval(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithProbeTimeout bounds each probe. Default 5s.
func WithProbeTimeout(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithProbeClient sets the HTTP client used for probes.
func WithProbeClient(c *http.Client) ProberOption {
	return func(p *Prober) {
		if c != nil {
			p.client = c
		}
	}
}

// WithProbeLogger sets the logger.
func WithProbeLogger(l *slog.Logger) ProberOption {
	return func(p *Prober) {
		p.Manual.WithLogger(l)
	}
}

// NewProber creates a prober for url. It starts offline until the first
// probe completes.
func NewProber(url string, opts ...ProberOption) *Prober {
	p := &Prober{
		Manual:   NewManual(false),
		url:      url,
		interval: 15 * time.Second,
		timeout:  5 * time.Second,
		client:   http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe performs one check, updates the state and returns it.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	online := false
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err == nil {
		var resp *http.Response
		resp, err = p.client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			online = true
		}
	}
	if err != nil {
		p.logger.Debug("Probe failed", slog.String("url", p.url), slog.Any("error", err))
	}
	p.SetOnline(online)
	return online
}

// Start probes immediately and then on every interval until ctx is done or
// Stop is called. Calling Start twice is a no-op.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		p.Probe(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Probe(ctx)
			}
		}
	}()
}

// Stop halts polling and waits for the loop to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
