package synckit

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c0deZ3R0/fieldsync/auth"
	"github.com/c0deZ3R0/fieldsync/connectivity"
	"github.com/c0deZ3R0/fieldsync/queue"
	"github.com/c0deZ3R0/fieldsync/transport"
)

// Options holds the engine's tunables.
type Options struct {
	// Interval between idle passes while tasks are queued. Zero uses the
	// default; a negative value disables the ticker.
	Interval time.Duration

	// RequestTimeout bounds each send.
	RequestTimeout time.Duration

	// Backoff defers automatic passes after a network abort.
	Backoff ExponentialBackoff

	// ReportTimeout bounds each error report.
	ReportTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.Interval == 0 {
		o.Interval = 30 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.ReportTimeout <= 0 {
		o.ReportTimeout = 10 * time.Second
	}
	o.Backoff = o.Backoff.withDefaults()
}

// EngineBuilder provides a fluent interface for constructing an Engine.
type EngineBuilder struct {
	queue      *queue.Queue
	remote     transport.Sender
	monitor    connectivity.Monitor
	creds      auth.Provider
	reporter   ErrorReporter
	metrics    MetricsCollector
	logger     *slog.Logger
	classifier Classifier
	now        func() time.Time
	options    Options
}

// NewEngineBuilder creates a builder with default options.
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{}
}

// WithQueue sets the mutation queue to drain.
func (b *EngineBuilder) WithQueue(q *queue.Queue) *EngineBuilder {
	b.queue = q
	return b
}

// WithRemote sets the transport writes are sent through.
func (b *EngineBuilder) WithRemote(r transport.Sender) *EngineBuilder {
	b.remote = r
	return b
}

// WithMonitor sets the connectivity monitor. Without one the device is
// assumed online.
func (b *EngineBuilder) WithMonitor(m connectivity.Monitor) *EngineBuilder {
	b.monitor = m
	return b
}

// WithCredentials sets the credential provider consulted at each pass.
func (b *EngineBuilder) WithCredentials(p auth.Provider) *EngineBuilder {
	b.creds = p
	return b
}

// WithReporter sets where rejected writes are reported.
func (b *EngineBuilder) WithReporter(r ErrorReporter) *EngineBuilder {
	b.reporter = r
	return b
}

// WithMetrics sets the metrics collector.
func (b *EngineBuilder) WithMetrics(m MetricsCollector) *EngineBuilder {
	b.metrics = m
	return b
}

// WithLogger sets the logger.
func (b *EngineBuilder) WithLogger(l *slog.Logger) *EngineBuilder {
	b.logger = l
	return b
}

// WithClassifier overrides how send attempts are classified.
func (b *EngineBuilder) WithClassifier(c Classifier) *EngineBuilder {
	b.classifier = c
	return b
}

// WithClock sets the time source used for timestamps and backoff.
func (b *EngineBuilder) WithClock(now func() time.Time) *EngineBuilder {
	b.now = now
	return b
}

// WithInterval sets the idle tick interval.
func (b *EngineBuilder) WithInterval(d time.Duration) *EngineBuilder {
	b.options.Interval = d
	return b
}

// WithRequestTimeout sets the per-request timeout.
func (b *EngineBuilder) WithRequestTimeout(d time.Duration) *EngineBuilder {
	b.options.RequestTimeout = d
	return b
}

// WithBackoff sets the network failure backoff.
func (b *EngineBuilder) WithBackoff(eb ExponentialBackoff) *EngineBuilder {
	b.options.Backoff = eb
	return b
}

// Build validates the configuration and creates the Engine.
func (b *EngineBuilder) Build() (*Engine, error) {
	if b.queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if b.remote == nil {
		return nil, fmt.Errorf("remote is required")
	}
	if b.creds == nil {
		return nil, fmt.Errorf("credential provider is required")
	}
	if b.options.Backoff.Multiplier != 0 && b.options.Backoff.Multiplier < 1 {
		return nil, fmt.Errorf("backoff multiplier must be at least 1, got %v", b.options.Backoff.Multiplier)
	}
	return newEngine(b), nil
}
