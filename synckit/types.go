// Package synckit drains the mutation queue against the remote API and
// offers the write facade used by the application.
//
// The Engine owns the drain loop: at most one pass runs at a time, tasks
// are sent strictly in queue order, and a pass stops at the first network
// failure so that nothing behind a stalled write overtakes it.
package synckit

import (
	"errors"
	"time"

	"github.com/c0deZ3R0/fieldsync/mutation"
)

var (
	// ErrDrainInProgress is returned by Drain when a pass is already
	// running. A follow-up pass has been scheduled.
	ErrDrainInProgress = errors.New("drain already in progress")

	// ErrTaskInFlight is returned when cancelling a CREATE whose request is
	// currently being sent.
	ErrTaskInFlight = errors.New("task is in flight")

	// ErrClosed is returned once the engine is closed.
	ErrClosed = errors.New("sync engine is closed")

	// ErrOffline is the abort cause of a pass stopped by lost connectivity.
	ErrOffline = errors.New("device is offline")
)

// State of the drain loop.
type State int

const (
	StateIdle State = iota
	StateDraining
)

func (s State) String() string {
	if s == StateDraining {
		return "draining"
	}
	return "idle"
}

// Reason records what started a pass.
type Reason string

const (
	ReasonOnline   Reason = "online"
	ReasonEnqueue  Reason = "enqueue"
	ReasonStartup  Reason = "startup"
	ReasonTick     Reason = "tick"
	ReasonManual   Reason = "manual"
	ReasonFollowUp Reason = "follow-up"
	ReasonRetry    Reason = "retry"
)

// automatic reports whether the reason is subject to network backoff. The
// retry timer fires at the end of the window, so it is not.
func (r Reason) automatic() bool {
	return r != ReasonManual && r != ReasonRetry
}

// Outcome of one send attempt.
type Outcome string

const (
	OutcomeSent         Outcome = "sent"
	OutcomeRejected     Outcome = "rejected"
	OutcomeRetry        Outcome = "retry"
	OutcomeUnauthorized Outcome = "unauthorized"
)

// Settlement is emitted once for each task that leaves the queue through
// the drain loop.
type Settlement struct {
	Task       mutation.Task
	Outcome    Outcome
	StatusCode int
	Detail     string
	At         time.Time
}

// DrainResult describes one pass.
type DrainResult struct {
	Reason    Reason
	StartTime time.Time
	Duration  time.Duration

	Sent     int
	Rejected int

	// Skipped is set when no credential was available; nothing was sent.
	Skipped bool
	// Aborted is set when the pass stopped with tasks still queued. Err
	// holds the cause.
	Aborted bool
	Err     error

	Remaining   int
	Settlements []Settlement

	backoff bool
}

// Definitive reports whether the server answered any task definitively.
func (r *DrainResult) Definitive() bool {
	return r.Sent+r.Rejected > 0
}

// Status is a point-in-time view of the engine for status displays.
type Status struct {
	State               State
	Pending             int
	Online              bool
	LastResult          *DrainResult
	ConsecutiveFailures int
	NextRetry           time.Time
}

// Indicator values.
const (
	IndicatorOffline = "offline"
	IndicatorSyncing = "syncing"
	IndicatorQueued  = "queued"
	IndicatorIdle    = "idle"
)

// Indicator summarizes the status for the ambient sync badge.
func (s Status) Indicator() string {
	switch {
	case !s.Online:
		return IndicatorOffline
	case s.State == StateDraining:
		return IndicatorSyncing
	case s.Pending > 0:
		return IndicatorQueued
	}
	return IndicatorIdle
}
