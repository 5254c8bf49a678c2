// ABOUTME: Sliding-window request rate limiter keyed by user ID.
// ABOUTME: Gates preview requests before any cache or database work runs.

package ratelimit

import (
	"sync"
	"time"
)

// Limiter admits or rejects requests per user using a sliding window.
// A user may make at most requestsPerBurst requests within any trailing
// window of burstWindow. Rejected requests are not recorded, so a user
// hammering the endpoint does not extend their own lockout.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time

	burstWindow      time.Duration
	requestsPerBurst int

	// now is replaceable for tests
	now func() time.Time

	done   chan struct{}
	closed bool
}

// New creates a limiter allowing requestsPerBurst requests per user within
// any trailing burstWindow. A background goroutine periodically drops
// windows that have gone fully idle.
func New(burstWindow time.Duration, requestsPerBurst int) *Limiter {
	l := &Limiter{
		windows:          make(map[string][]time.Time),
		burstWindow:      burstWindow,
		requestsPerBurst: requestsPerBurst,
		now:              time.Now,
		done:             make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Admit reports whether a request from userID may proceed. On admission
// the request timestamp is recorded against the user's window; on
// rejection nothing is recorded. The prune-then-append sequence runs
// under the lock so concurrent requests from the same user cannot
// exceed the burst limit.
func (l *Limiter) Admit(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	window := l.pruneLocked(userID, now)

	if len(window) >= l.requestsPerBurst {
		l.windows[userID] = window
		return false
	}

	l.windows[userID] = append(window, now)
	return true
}

// pruneLocked drops timestamps older than the trailing window.
// Must be called with mu held.
func (l *Limiter) pruneLocked(userID string, now time.Time) []time.Time {
	window := l.windows[userID]
	cutoff := now.Add(-l.burstWindow)

	// Timestamps are appended in order, so find the first still inside
	// the window and keep the tail.
	keep := 0
	for keep < len(window) && !window[keep].After(cutoff) {
		keep++
	}
	return window[keep:]
}

// cleanup runs in a background goroutine, dropping windows whose every
// entry has aged out. Correctness does not depend on this; it only keeps
// the map from accumulating one-off users forever.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.runCleanup()
		case <-l.done:
			return
		}
	}
}

// runCleanup removes all fully idle windows.
func (l *Limiter) runCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.burstWindow)
	for userID, window := range l.windows {
		if len(window) == 0 || !window[len(window)-1].After(cutoff) {
			delete(l.windows, userID)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		close(l.done)
		l.closed = true
	}
}
