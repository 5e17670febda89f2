package synckit

import (
	"net/http"
	"time"

	syncErrors "github.com/c0deZ3R0/fieldsync/errors"
	"github.com/c0deZ3R0/fieldsync/transport"
)

// ExponentialBackoff spaces automatic passes after network failures.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultBackoff returns the backoff used when none is configured.
func DefaultBackoff() ExponentialBackoff {
	return ExponentialBackoff{
		InitialDelay: time.Second,
		MaxDelay:     2 * time.Minute,
		Multiplier:   2,
	}
}

// NextDelay returns the delay after the given number of prior failures.
func (eb ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= eb.Multiplier
		if time.Duration(float64(eb.InitialDelay)*multiplier) > eb.MaxDelay {
			break
		}
	}
	result := time.Duration(float64(eb.InitialDelay) * multiplier)
	if result > eb.MaxDelay {
		result = eb.MaxDelay
	}
	return result
}

func (eb ExponentialBackoff) withDefaults() ExponentialBackoff {
	def := DefaultBackoff()
	if eb.InitialDelay <= 0 {
		eb.InitialDelay = def.InitialDelay
	}
	if eb.MaxDelay < eb.InitialDelay {
		eb.MaxDelay = max(def.MaxDelay, eb.InitialDelay)
	}
	if eb.Multiplier < 1 {
		eb.Multiplier = def.Multiplier
	}
	return eb
}

// Verdict is what the drain loop does with a task after one attempt.
type Verdict int

const (
	// VerdictSuccess removes the task.
	VerdictSuccess Verdict = iota
	// VerdictTransient keeps the task, bumps its retry count and aborts
	// the pass.
	VerdictTransient
	// VerdictUnauthorized keeps the task untouched, invalidates the
	// credential and aborts the pass.
	VerdictUnauthorized
	// VerdictRejected reports the task and removes it.
	VerdictRejected
)

// Classifier maps a send attempt onto a verdict.
type Classifier func(resp *transport.Response, err error) Verdict

// DefaultClassifier treats every failure to observe a response as
// transient, 2xx as success, 401 as a stale credential and any other
// status as a rejection. Errors raised before a request could be built
// are rejections too, since retrying cannot fix them.
func DefaultClassifier(resp *transport.Response, err error) Verdict {
	if err != nil {
		switch syncErrors.Classify(err) {
		case syncErrors.ClassTransient, syncErrors.ClassPersistence:
			return VerdictTransient
		}
		return VerdictRejected
	}
	switch {
	case resp == nil:
		return VerdictTransient
	case resp.OK():
		return VerdictSuccess
	case resp.StatusCode == http.StatusUnauthorized:
		return VerdictUnauthorized
	}
	return VerdictRejected
}
