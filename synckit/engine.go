package synckit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/c0deZ3R0/fieldsync/auth"
	"github.com/c0deZ3R0/fieldsync/connectivity"
	syncErrors "github.com/c0deZ3R0/fieldsync/errors"
	"github.com/c0deZ3R0/fieldsync/logging"
	"github.com/c0deZ3R0/fieldsync/mutation"
	"github.com/c0deZ3R0/fieldsync/queue"
	"github.com/c0deZ3R0/fieldsync/transport"
)

// Engine drains the queue. It is safe for concurrent use.
type Engine struct {
	queue    *queue.Queue
	remote   transport.Sender
	monitor  connectivity.Monitor
	creds    auth.Provider
	reporter ErrorReporter
	metrics  MetricsCollector
	logger   *slog.Logger
	classify Classifier
	now      func() time.Time
	options  Options

	// ctx parents every pass; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	stop   chan struct{}

	// admitMu serializes admit.
	admitMu sync.Mutex

	mu         sync.Mutex
	state      State
	followUp   bool
	inflight   string
	closed     bool
	started    bool
	failures   int
	retryAt    time.Time
	retryTimer *time.Timer
	retryGen   uint64
	lastResult *DrainResult
	unsubs     []func()

	subMu      sync.RWMutex
	nextSub    uint64
	drainSubs  map[uint64]func(*DrainResult)
	settleSubs map[uint64]func(Settlement)
}

func newEngine(b *EngineBuilder) *Engine {
	options := b.options
	options.setDefaults()

	e := &Engine{
		queue:      b.queue,
		remote:     b.remote,
		monitor:    b.monitor,
		creds:      b.creds,
		reporter:   b.reporter,
		metrics:    b.metrics,
		logger:     logging.ComponentOr(b.logger, "engine"),
		classify:   b.classifier,
		now:        b.now,
		options:    options,
		stop:       make(chan struct{}),
		drainSubs:  make(map[uint64]func(*DrainResult)),
		settleSubs: make(map[uint64]func(Settlement)),
	}
	if e.monitor == nil {
		e.monitor = connectivity.Always(true)
	}
	if e.reporter == nil {
		e.reporter = discardReporter{}
	}
	if e.metrics == nil {
		e.metrics = NoOpMetricsCollector{}
	}
	if e.classify == nil {
		e.classify = DefaultClassifier
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.unsubs = append(e.unsubs, e.queue.Subscribe(e.onQueueChange))
	e.metrics.RecordQueueDepth(e.queue.Len())
	return e
}

// Queue returns the queue being drained.
func (e *Engine) Queue() *queue.Queue {
	return e.queue
}

func (e *Engine) onQueueChange(c queue.Change) {
	e.metrics.RecordQueueDepth(c.Len)
	if c.Kind != queue.Enqueued {
		return
	}
	for _, t := range c.Tasks {
		e.metrics.RecordEnqueue(t.Method)
	}
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if started {
		e.Trigger(ReasonEnqueue)
	}
}

// Start subscribes to connectivity changes, starts the idle ticker and
// fires a startup pass when work is pending. The ticker stops when ctx is
// done; passes run until Close.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.unsubs = append(e.unsubs, e.monitor.Subscribe(func(ev connectivity.Event) {
		if ev.Online {
			e.Trigger(ReasonOnline)
		}
	}))
	if e.options.Interval > 0 {
		e.wg.Add(1)
		go e.tickLoop(ctx, e.options.Interval)
	}
	e.mu.Unlock()

	e.logger.Info("Sync engine started",
		slog.Duration("interval", e.options.Interval),
		slog.Int("pending", e.queue.Len()),
		slog.Bool("online", e.monitor.Online()))
	e.Trigger(ReasonStartup)
	return nil
}

func (e *Engine) tickLoop(ctx context.Context, interval time.Duration) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Debug("Idle ticker stopping due to context cancellation")
			return
		case <-e.stop:
			return
		case <-ticker.C:
			if e.queue.Len() > 0 {
				e.Trigger(ReasonTick)
			}
		}
	}
}

// Trigger starts a pass in the background if the engine is idle, online
// and has work. Automatic reasons are held back while a network failure
// backoff is in effect. A trigger arriving during a pass schedules one
// follow-up pass. Trigger reports whether a pass was started.
func (e *Engine) Trigger(reason Reason) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	if e.state == StateDraining {
		e.followUp = true
		return false
	}
	if !e.monitor.Online() || e.queue.Len() == 0 {
		return false
	}
	if reason.automatic() && e.deferredLocked() {
		e.logger.Debug("Trigger deferred by backoff",
			slog.String("reason", string(reason)), slog.Time("retry_at", e.retryAt))
		return false
	}
	e.state = StateDraining
	e.spawnLocked(reason)
	return true
}

// Drain runs one pass synchronously. It ignores the backoff window but not
// connectivity: offline it returns an aborted result.
func (e *Engine) Drain(ctx context.Context) (*DrainResult, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if e.state == StateDraining {
		e.followUp = true
		e.mu.Unlock()
		return nil, ErrDrainInProgress
	}
	e.state = StateDraining
	e.wg.Add(1)
	e.mu.Unlock()
	defer e.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	res := e.pass(ctx, ReasonManual)
	e.finish(res, true)
	e.notifyDrain(res)
	return res, nil
}

func (e *Engine) spawnLocked(reason Reason) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			res := e.pass(e.ctx, reason)
			again := e.finish(res, false)
			e.notifyDrain(res)
			if !again {
				return
			}
			reason = ReasonFollowUp
		}
	}()
}

// finish records the pass and either schedules the follow-up or returns to
// idle. With spawn the follow-up runs on a new goroutine; otherwise the
// caller keeps the DRAINING state and runs it.
func (e *Engine) finish(res *DrainResult, spawn bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastResult = res

	if res.Definitive() {
		e.resetBackoffLocked()
	}
	if res.backoff {
		e.backOffLocked()
	}

	if !e.continueLocked() {
		return false
	}
	if spawn {
		e.spawnLocked(ReasonFollowUp)
		return false
	}
	return true
}

func (e *Engine) resetBackoffLocked() {
	e.failures = 0
	e.retryAt = time.Time{}
	e.stopRetryLocked()
}

func (e *Engine) resetBackoff() {
	e.mu.Lock()
	e.resetBackoffLocked()
	e.mu.Unlock()
}

func (e *Engine) backOffLocked() {
	e.failures++
	delay := e.options.Backoff.NextDelay(e.failures - 1)
	e.retryAt = e.now().Add(delay)
	e.stopRetryLocked()
	e.armRetryLocked()
	e.logger.Warn("Network failure, backing off",
		slog.Int("consecutive_failures", e.failures), slog.Duration("delay", delay))
}

func (e *Engine) backOff() {
	e.mu.Lock()
	e.backOffLocked()
	e.mu.Unlock()
}

// continueLocked consumes a pending follow-up. It leaves the engine
// DRAINING and returns true when another pass should run now, else moves
// to IDLE.
func (e *Engine) continueLocked() bool {
	again := e.followUp && !e.closed && e.monitor.Online() && e.queue.Len() > 0 && !e.deferredLocked()
	e.followUp = false
	if !again {
		e.state = StateIdle
	}
	return again
}

func (e *Engine) deferredLocked() bool {
	if e.retryAt.IsZero() || !e.now().Before(e.retryAt) {
		return false
	}
	e.armRetryLocked()
	return true
}

// armRetryLocked keeps at most one timer for the end of the backoff
// window.
func (e *Engine) armRetryLocked() {
	if e.retryTimer != nil || e.closed || e.retryAt.IsZero() {
		return
	}
	d := max(e.retryAt.Sub(e.now()), 0)
	e.retryGen++
	gen := e.retryGen
	e.retryTimer = time.AfterFunc(d, func() {
		e.mu.Lock()
		if e.retryGen == gen {
			e.retryTimer = nil
		}
		e.mu.Unlock()
		e.Trigger(ReasonRetry)
	})
}

func (e *Engine) stopRetryLocked() {
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.retryGen++
}

// pass sends queued tasks head first until the queue is empty or the pass
// is aborted.
func (e *Engine) pass(ctx context.Context, reason Reason) *DrainResult {
	res := &DrainResult{Reason: reason, StartTime: e.now()}
	logger := e.logger.With(slog.String("reason", string(reason)))
	logger.Debug("Drain pass started", slog.Int("pending", e.queue.Len()))

	defer func() {
		res.Duration = e.now().Sub(res.StartTime)
		res.Remaining = e.queue.Len()
		e.metrics.RecordDrain(res.Duration, res.Sent, res.Aborted)
		attrs := []any{
			slog.Int("sent", res.Sent),
			slog.Int("rejected", res.Rejected),
			slog.Int("remaining", res.Remaining),
			slog.Duration("duration", res.Duration),
		}
		switch {
		case res.Skipped:
			logger.Info("Drain pass skipped: no credential", attrs...)
		case res.Aborted:
			logger.Info("Drain pass aborted", append(attrs, slog.Any("cause", res.Err))...)
		default:
			logger.Debug("Drain pass completed", attrs...)
		}
	}()

	token, err := e.creds.Credential(ctx)
	if err != nil || token == "" {
		if err == nil {
			err = auth.ErrNoCredential
		}
		res.Skipped = true
		res.Err = err
		return res
	}

	for {
		if err := ctx.Err(); err != nil {
			e.abort(res, err)
			return res
		}
		if !e.monitor.Online() {
			e.abort(res, ErrOffline)
			return res
		}
		task, ok := e.claimHead()
		if !ok {
			return res
		}
		stop := e.attempt(ctx, task, token, res)
		e.releaseTask()
		if stop {
			return res
		}
	}
}

// attempt sends one task and applies the verdict. It reports whether the
// pass must stop.
func (e *Engine) attempt(ctx context.Context, task mutation.Task, token string, res *DrainResult) bool {
	sendCtx, cancel := e.withTimeout(ctx)
	resp, err := e.remote.Send(sendCtx, transport.Request{
		Method:         task.Method,
		Path:           task.ResourcePath,
		Body:           task.Body,
		Token:          token,
		IdempotencyKey: task.ID,
	})
	cancel()
	if err != nil && ctx.Err() != nil {
		// Shutdown or caller cancellation, not a network failure.
		e.abort(res, ctx.Err())
		return true
	}

	switch e.classify(resp, err) {
	case VerdictSuccess:
		e.queue.Remove(task.ID)
		res.Sent++
		e.settle(res, task, OutcomeSent, resp, "")
		return false

	case VerdictRejected:
		detail := rejectionDetail(resp, err)
		e.queue.Remove(task.ID)
		res.Rejected++
		e.settle(res, task, OutcomeRejected, resp, detail)
		e.report(task, detail)
		return false

	case VerdictUnauthorized:
		if inv, ok := e.creds.(auth.Invalidator); ok {
			inv.Invalidate()
		}
		e.metrics.RecordOutcome(string(OutcomeUnauthorized))
		e.abort(res, syncErrors.NewAuthError(syncErrors.OpDrain,
			fmt.Errorf("%s %s: credential refused", task.Method, task.ResourcePath)))
		return true
	}

	retries, _ := e.queue.IncrementRetry(task.ID)
	e.metrics.RecordOutcome(string(OutcomeRetry))
	if err == nil {
		err = syncErrors.NewNetworkError(syncErrors.OpDrain, fmt.Errorf("%s %s: status %d", task.Method, task.ResourcePath, statusOf(resp)))
	}
	e.logger.Debug("Send failed, task kept",
		slog.Any("task", task), slog.Int("retry_count", retries), slog.Any("error", err))
	res.backoff = true
	e.abort(res, err)
	return true
}

func (e *Engine) abort(res *DrainResult, cause error) {
	res.Aborted = true
	res.Err = cause
}

func (e *Engine) claimHead() (mutation.Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	task, ok := e.queue.Head()
	if ok {
		e.inflight = task.ID
	}
	return task, ok
}

func (e *Engine) releaseTask() {
	e.mu.Lock()
	e.inflight = ""
	e.mu.Unlock()
}

// cancelTask removes a queued task unless it is being sent.
func (e *Engine) cancelTask(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight == id {
		return ErrTaskInFlight
	}
	if e.queue.Remove(id) == 0 {
		return syncErrors.NewValidationError(syncErrors.OpSubmit, fmt.Errorf("%w: task %s is not queued", mutation.ErrTemporaryID, id))
	}
	return nil
}

// acquireIdle claims the drain slot. It succeeds only when nothing is
// queued, no pass is running and the device is online.
func (e *Engine) acquireIdle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.state != StateIdle || !e.monitor.Online() || e.queue.Len() > 0 {
		return false
	}
	e.state = StateDraining
	return true
}

// admit enqueues op. When op is the only queued write and the drain slot
// is free, it also claims the slot and marks the task in flight; the caller
// then sends it and must call releaseTask and releaseIdle.
func (e *Engine) admit(op queue.Op) (mutation.Task, bool) {
	e.admitMu.Lock()
	defer e.admitMu.Unlock()

	immediate := e.acquireIdle()
	task := e.queue.Enqueue(op)
	if !immediate {
		return task, false
	}
	e.mu.Lock()
	head, ok := e.queue.Head()
	if ok && head.ID == task.ID {
		e.inflight = task.ID
	}
	e.mu.Unlock()
	if !ok || head.ID != task.ID {
		e.releaseIdle()
		return task, false
	}
	return task, true
}

func (e *Engine) releaseIdle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.continueLocked() {
		e.spawnLocked(ReasonFollowUp)
	}
}

func (e *Engine) settle(res *DrainResult, task mutation.Task, outcome Outcome, resp *transport.Response, detail string) {
	s := Settlement{Task: task, Outcome: outcome, StatusCode: statusOf(resp), Detail: detail, At: e.now()}
	res.Settlements = append(res.Settlements, s)
	e.metrics.RecordOutcome(string(outcome))
	if outcome == OutcomeRejected {
		e.logger.Warn("Task rejected by server",
			slog.Any("task", task), slog.Int("status_code", s.StatusCode), slog.String("detail", detail))
	} else {
		e.logger.Debug("Task settled", slog.Any("task", task), slog.Int("status_code", s.StatusCode))
	}
	e.notifySettle(s)
}

func (e *Engine) report(task mutation.Task, detail string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("Error reporter panic recovered", slog.Any("panic", r), slog.String("task_id", task.ID))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), e.options.ReportTimeout)
		defer cancel()
		if err := e.reporter.Report(ctx, task, detail); err != nil {
			e.logger.Debug("Error report failed", slog.String("task_id", task.ID), slog.Any("error", err))
		}
	}()
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.options.RequestTimeout)
}

func statusOf(resp *transport.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

func rejectionDetail(resp *transport.Response, err error) string {
	switch {
	case resp != nil && resp.Detail != "":
		return resp.Detail
	case resp != nil:
		return http.StatusText(resp.StatusCode)
	case err != nil:
		return err.Error()
	}
	return "rejected"
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	s := Status{
		State:               e.state,
		Online:              e.monitor.Online(),
		LastResult:          e.lastResult,
		ConsecutiveFailures: e.failures,
		NextRetry:           e.retryAt,
	}
	e.mu.Unlock()
	s.Pending = e.queue.Len()
	return s
}

// Indicator is shorthand for Status().Indicator().
func (e *Engine) Indicator() string {
	return e.Status().Indicator()
}

// OnDrain registers fn to receive every pass result. Handlers run on their
// own goroutine; panics are recovered.
func (e *Engine) OnDrain(fn func(*DrainResult)) (cancel func()) {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.drainSubs[id] = fn
	e.subMu.Unlock()
	return func() {
		e.subMu.Lock()
		delete(e.drainSubs, id)
		e.subMu.Unlock()
	}
}

// OnSettle registers fn to receive every settled task.
func (e *Engine) OnSettle(fn func(Settlement)) (cancel func()) {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.settleSubs[id] = fn
	e.subMu.Unlock()
	return func() {
		e.subMu.Lock()
		delete(e.settleSubs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) notifyDrain(res *DrainResult) {
	e.subMu.RLock()
	handlers := make([]func(*DrainResult), 0, len(e.drainSubs))
	for _, h := range e.drainSubs {
		handlers = append(handlers, h)
	}
	e.subMu.RUnlock()

	for _, h := range handlers {
		go func(h func(*DrainResult)) {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("Drain subscriber panic recovered",
						slog.Any("panic", r), slog.Int("sent", res.Sent), slog.Bool("aborted", res.Aborted))
				}
			}()
			h(res)
		}(h)
	}
}

func (e *Engine) notifySettle(s Settlement) {
	e.subMu.RLock()
	handlers := make([]func(Settlement), 0, len(e.settleSubs))
	for _, h := range e.settleSubs {
		handlers = append(handlers, h)
	}
	e.subMu.RUnlock()

	for _, h := range handlers {
		go func(h func(Settlement)) {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("Settle subscriber panic recovered",
						slog.Any("panic", r), slog.String("task_id", s.Task.ID))
				}
			}()
			h(s)
		}(h)
	}
}

// Close stops the ticker and any running pass and waits for them. It does
// not close the queue. Closing twice is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.stopRetryLocked()
	unsubs := e.unsubs
	e.unsubs = nil
	close(e.stop)
	e.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	e.cancel()
	e.wg.Wait()
	e.logger.Info("Sync engine closed", slog.Int("pending", e.queue.Len()))
	return nil
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
