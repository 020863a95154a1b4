package gateway

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// attemptState is the per-model retry state.
type attemptState int

const (
	statePending attemptState = iota
	stateRetrying
	stateModelExhausted
	stateSucceeded
	stateFailed
)

func (s attemptState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateRetrying:
		return "retrying"
	case stateModelExhausted:
		return "model-exhausted"
	case stateSucceeded:
		return "succeeded"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// errorClass is the retry classification of an attempt error.
type errorClass int

const (
	classTransient errorClass = iota
	classTerminal
)

// classify maps an HTTP status to its retry class: 429 and 5xx are
// transient, everything else is terminal for the model.
func classify(status int) errorClass {
	if status == 429 || status >= 500 {
		return classTransient
	}
	return classTerminal
}

// defaultMaxDelay bounds waits when the policy sets no MaxDelay.
const defaultMaxDelay = 30 * time.Second

// RetryPolicy bounds attempts per model and spaces them with base*2^attempt.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	// MaxDelay caps every wait, Retry-After hints included.
	MaxDelay time.Duration
	// Timer drives the waits between attempts; nil uses real time.
	Timer backoff.Timer
}

// maxWait is the longest wait the policy allows between two attempts.
func (p RetryPolicy) maxWait() time.Duration {
	if p.MaxDelay > 0 {
		return p.MaxDelay
	}
	return defaultMaxDelay
}

// HonorsHint reports whether a Retry-After hint fits within the policy.
// A longer hint ends retries for the model.
func (p RetryPolicy) HonorsHint(hint time.Duration) bool {
	return hint <= p.maxWait()
}

// Delay returns the wait after the given zero-based failed attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.Base << uint(attempt)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// hintBackOff advances the exponential schedule on every call but waits at
// least as long as a provider-supplied Retry-After hint when one is set.
// The wait never exceeds max.
type hintBackOff struct {
	inner backoff.BackOff
	hint  time.Duration
	max   time.Duration
}

func (h *hintBackOff) NextBackOff() time.Duration {
	d := h.inner.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if h.hint > d {
		d = h.hint
	}
	h.hint = 0
	if h.max > 0 && d > h.max {
		d = h.max
	}
	return d
}

func (h *hintBackOff) Reset() {
	h.hint = 0
	h.inner.Reset()
}

// newBackOff returns a fresh schedule for one model together with the hint
// slot the attempt operation writes to.
func (p RetryPolicy) newBackOff(ctx context.Context) (backoff.BackOffContext, *hintBackOff) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.Base
	expo.Multiplier = 2
	expo.RandomizationFactor = 0
	expo.MaxElapsedTime = 0
	expo.MaxInterval = p.maxWait()
	expo.Reset()

	hint := &hintBackOff{inner: expo, max: p.maxWait()}
	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(hint, uint64(retries)), ctx), hint
}
