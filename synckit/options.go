package synckit

import (
	"errors"
	"log/slog"
	"time"

	"github.com/c0deZ3R0/fieldsync/auth"
	"github.com/c0deZ3R0/fieldsync/connectivity"
	syncErrors "github.com/c0deZ3R0/fieldsync/errors"
	"github.com/c0deZ3R0/fieldsync/queue"
	"github.com/c0deZ3R0/fieldsync/transport"
)

// Option is a functional option for configuring an Engine via New.
type Option func(*EngineBuilder) error

// New constructs an Engine draining q through remote.
func New(q *queue.Queue, remote transport.Sender, opts ...Option) (*Engine, error) {
	b := NewEngineBuilder().WithQueue(q).WithRemote(remote)
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, syncErrors.E(
				syncErrors.Op("synckit.New"),
				syncErrors.Component("synckit"),
				syncErrors.KindInvalid,
				err,
			)
		}
	}
	e, err := b.Build()
	if err != nil {
		return nil, syncErrors.E(
			syncErrors.Op("synckit.New"),
			syncErrors.Component("synckit"),
			syncErrors.KindInvalid,
			err,
		)
	}
	return e, nil
}

// WithMonitor sets the connectivity monitor.
func WithMonitor(m connectivity.Monitor) Option {
	return func(b *EngineBuilder) error {
		if m == nil {
			return errors.New("monitor must not be nil")
		}
		b.WithMonitor(m)
		return nil
	}
}

// WithCredentials sets the credential provider.
func WithCredentials(p auth.Provider) Option {
	return func(b *EngineBuilder) error {
		b.WithCredentials(p)
		return nil
	}
}

// WithReporter sets the error reporter for rejected writes.
func WithReporter(r ErrorReporter) Option {
	return func(b *EngineBuilder) error {
		b.WithReporter(r)
		return nil
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(b *EngineBuilder) error {
		b.WithMetrics(m)
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *EngineBuilder) error {
		b.WithLogger(l)
		return nil
	}
}

// WithInterval sets the idle tick interval.
func WithInterval(d time.Duration) Option {
	return func(b *EngineBuilder) error {
		b.WithInterval(d)
		return nil
	}
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(b *EngineBuilder) error {
		if d < 0 {
			return errors.New("request timeout must not be negative")
		}
		b.WithRequestTimeout(d)
		return nil
	}
}

// WithBackoff sets the backoff applied after network failures.
func WithBackoff(eb ExponentialBackoff) Option {
	return func(b *EngineBuilder) error {
		b.WithBackoff(eb)
		return nil
	}
}

// WithClassifier overrides how send attempts are classified.
func WithClassifier(c Classifier) Option {
	return func(b *EngineBuilder) error {
		b.WithClassifier(c)
		return nil
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(b *EngineBuilder) error {
		b.WithClock(now)
		return nil
	}
}
