// Package ratelimit implements fixed-window throttling keyed by
// (client address, route class). Windows do not slide: a burst at a window
// boundary can admit close to twice the nominal rate, which is the accepted
// trade-off of this scheme.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Error is the retryable rejection returned when a window is exhausted.
type Error struct {
	RetryAfterSeconds int
}

func (e *Error) Error() string {
	return fmt.Sprintf("too_many_requests: retry after %ds", e.RetryAfterSeconds)
}

// RetryAfter extracts the retry hint from a limiter rejection.
func RetryAfter(err error) (int, bool) {
	var rl *Error
	if errors.As(err, &rl) {
		return rl.RetryAfterSeconds, true
	}
	return 0, false
}

type bucket struct {
	count   int
	resetAt time.Time
}

// Limiter counts requests per key within non-overlapping windows.
type Limiter struct {
	window time.Duration
	max    int

	mu      sync.Mutex
	now     func() time.Time
	buckets map[string]*bucket
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New creates a limiter admitting max requests per window for each key.
func New(window time.Duration, max int, opts ...Option) *Limiter {
	l := &Limiter{
		window:  window,
		max:     max,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow admits or rejects one request for key. The increment-and-compare is
// atomic per limiter so two concurrent requests cannot both slip past the
// boundary count.
func (l *Limiter) Allow(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || !b.resetAt.After(now) {
		l.buckets[key] = &bucket{count: 1, resetAt: now.Add(l.window)}
		return nil
	}
	if b.count >= l.max {
		retry := int((b.resetAt.Sub(now) + time.Second - 1) / time.Second)
		if retry < 1 {
			retry = 1
		}
		return &Error{RetryAfterSeconds: retry}
	}
	b.count++
	return nil
}

// Sweep drops expired buckets; callers may run it periodically to bound
// memory on long-lived limiters.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, b := range l.buckets {
		if !b.resetAt.After(now) {
			delete(l.buckets, key)
		}
	}
}
