// Package ratelimit provides a fixed-window request limiter used to cap
// control-message rates on data-plane connections.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter allows up to rate requests per window for a single entity
// (typically one connection).
type Limiter struct {
	mu      sync.Mutex
	rate    int
	window  time.Duration
	count   int
	started time.Time
}

// New creates a Limiter that allows rate requests per window.
func New(rate int, window time.Duration) *Limiter {
	return &Limiter{rate: rate, window: window, started: time.Now()}
}

// Allow reports whether one more request fits in the current window. The
// window resets lazily on the first request after it elapses.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if now.Sub(l.started) > l.window {
		l.count = 0
		l.started = now
	}
	l.count++
	return l.count <= l.rate
}

// Remaining returns how many requests are left in the current window.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Since(l.started) > l.window {
		return l.rate
	}
	left := l.rate - l.count
	if left < 0 {
		return 0
	}
	return left
}
