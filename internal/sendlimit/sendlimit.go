// Package sendlimit implements the rate-limit / change-detect predicate
// stack that protects a broadcast recipient from flooding. It is a direct
// generalization of the uniform admit/observe interface the original
// message handler used to avoid a heterogeneous trait-object collection.
package sendlimit

import (
	"time"
)

// Limiter is a single admission predicate over messages of type M.
type Limiter[M any] interface {
	// Admit reports whether msg may be sent right now.
	Admit(msg M) bool
	// Observe records that msg was sent.
	Observe(msg M)
}

// Handler composes a stack of limiters; a send is admitted only if every
// limiter admits it, and only admitted sends update every limiter's state.
type Handler[M any] struct {
	limiters []Limiter[M]
}

// WithLimiters builds a handler from an ordered stack of limiters.
func WithLimiters[M any](limiters ...Limiter[M]) *Handler[M] {
	return &Handler[M]{limiters: limiters}
}

// Send delivers msg to sink iff every limiter admits it.
func (h *Handler[M]) Send(msg M, sink func(M)) {
	if !h.CanSend(msg) {
		return
	}
	for _, l := range h.limiters {
		l.Observe(msg)
	}
	sink(msg)
}

// CanSend reports admission without sending or observing.
func (h *Handler[M]) CanSend(msg M) bool {
	for _, l := range h.limiters {
		if !l.Admit(msg) {
			return false
		}
	}
	return true
}

// RateLimiter admits at most one message per window.
type RateLimiter[M any] struct {
	window     time.Duration
	lastSentAt time.Time
}

// NewRateLimiter builds a RateLimiter with the given window. A zero window
// defaults to the ~33ms window used for AudioStateInfo broadcasts.
func NewRateLimiter[M any](window time.Duration) *RateLimiter[M] {
	if window <= 0 {
		window = 33 * time.Millisecond
	}
	return &RateLimiter[M]{window: window, lastSentAt: time.Now().Add(-window)}
}

func (r *RateLimiter[M]) Admit(_ M) bool {
	return time.Since(r.lastSentAt) > r.window
}

func (r *RateLimiter[M]) Observe(_ M) {
	r.lastSentAt = time.Now()
}

// ChangeDetector admits a message only if it differs from the last one
// observed, by equality reported from an injected comparer (Go generics
// have no universal != for arbitrary M, so callers supply one).
type ChangeDetector[M any] struct {
	equal     func(a, b M) bool
	lastSent  M
	hasLast   bool
}

// NewChangeDetector builds a detector. seed, if non-nil, pre-populates
// the last-sent value so the first matching message is suppressed too.
func NewChangeDetector[M any](equal func(a, b M) bool, seed *M) *ChangeDetector[M] {
	d := &ChangeDetector[M]{equal: equal}
	if seed != nil {
		d.lastSent = *seed
		d.hasLast = true
	}
	return d
}

func (d *ChangeDetector[M]) Admit(msg M) bool {
	if !d.hasLast {
		return true
	}
	return !d.equal(d.lastSent, msg)
}

func (d *ChangeDetector[M]) Observe(msg M) {
	d.lastSent = msg
	d.hasLast = true
}
