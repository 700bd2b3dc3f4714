// Package ratelimit provides a rolling-window request limiter. Unlike a
// token bucket, capacity does not drip back continuously: the counter is
// reset in full when the window rolls over, which keeps the observed request
// pattern aligned with per-minute quotas enforced by document hosts.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter admits at most limit calls per window. The zero value is not
// usable; construct with New.
type Limiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	made        int
	windowStart time.Time

	// OnWait, when set, is invoked with the duration a caller is about to
	// sleep for. Used to feed telemetry.
	OnWait func(d time.Duration)
}

// New creates a limiter admitting limit calls per window. A non-positive
// window defaults to one minute; limits below one are clamped to one.
func New(limit int, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}

	if limit < 1 {
		limit = 1
	}

	return &Limiter{
		limit:       limit,
		window:      window,
		windowStart: time.Now(),
	}
}

// Acquire blocks until one more call fits in the current window, then
// consumes a slot. It returns early with the context error if ctx is
// cancelled while waiting. Concurrent callers are admitted in no particular
// order, but never more than limit per window.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()

		if now.Sub(l.windowStart) >= l.window {
			l.windowStart = now
			l.made = 0
		}

		if l.made < l.limit {
			l.made++
			l.mu.Unlock()

			return nil
		}

		wait := l.window - now.Sub(l.windowStart)
		l.mu.Unlock()

		if l.OnWait != nil {
			l.OnWait(wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Used reports how many slots of the current window are consumed.
func (l *Limiter) Used() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.windowStart) >= l.window {
		return 0
	}

	return l.made
}
