package synckit

import (
	"time"

	"github.com/c0deZ3R0/fieldsync/mutation"
)

// MetricsCollector provides hooks for collecting drain metrics
type MetricsCollector interface {
	// RecordDrain records one pass
	RecordDrain(duration time.Duration, sent int, aborted bool)

	// RecordOutcome records the outcome of one send attempt
	RecordOutcome(outcome string)

	// RecordQueueDepth records the number of pending tasks
	RecordQueueDepth(n int)

	// RecordEnqueue records a write entering the queue
	RecordEnqueue(method mutation.Method)
}

// NoOpMetricsCollector is a default implementation that does nothing
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordDrain(duration time.Duration, sent int, aborted bool) {}
func (NoOpMetricsCollector) RecordOutcome(outcome string)                               {}
func (NoOpMetricsCollector) RecordQueueDepth(n int)                                     {}
func (NoOpMetricsCollector) RecordEnqueue(method mutation.Method)                       {}
