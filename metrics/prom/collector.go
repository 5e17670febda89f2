// Package prom exports sync engine metrics to Prometheus.
package prom

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c0deZ3R0/fieldsync/mutation"
	"github.com/c0deZ3R0/fieldsync/synckit"
)

const namespace = "fieldsync"

// Collector implements synckit.MetricsCollector.
type Collector struct {
	drainDuration prometheus.Histogram
	passes        *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	queueDepth    prometheus.Gauge
	enqueued      *prometheus.CounterVec
}

var _ synckit.MetricsCollector = (*Collector)(nil)

// NewCollector creates the metrics and registers them with reg. A nil reg
// uses the default registerer. Metrics already registered by an earlier
// collector are reused.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		drainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "drain_duration_seconds",
			Help:      "Duration of drain passes.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drain_passes_total",
			Help:      "Drain passes by result.",
		}, []string{"result"}), // result: completed|aborted
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_outcomes_total",
			Help:      "Send attempts by outcome.",
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Writes waiting in the queue.",
		}),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueued_total",
			Help:      "Writes queued by method.",
		}, []string{"method"}),
	}

	var err error
	if c.drainDuration, err = register(reg, c.drainDuration); err != nil {
		return nil, err
	}
	if c.passes, err = register(reg, c.passes); err != nil {
		return nil, err
	}
	if c.outcomes, err = register(reg, c.outcomes); err != nil {
		return nil, err
	}
	if c.queueDepth, err = register(reg, c.queueDepth); err != nil {
		return nil, err
	}
	if c.enqueued, err = register(reg, c.enqueued); err != nil {
		return nil, err
	}
	return c, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (c *Collector) RecordDrain(duration time.Duration, sent int, aborted bool) {
	c.drainDuration.Observe(duration.Seconds())
	result := "completed"
	if aborted {
		result = "aborted"
	}
	c.passes.WithLabelValues(result).Inc()
}

func (c *Collector) RecordOutcome(outcome string) {
	c.outcomes.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordQueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}

func (c *Collector) RecordEnqueue(method mutation.Method) {
	c.enqueued.WithLabelValues(string(method)).Inc()
}

// Handler serves the metrics gathered by g, or the default gatherer when g
// is nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
