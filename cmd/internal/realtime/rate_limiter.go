package realtime

import (
	"sync"
	"time"
)

// RateLimiter is a per-connection sliding-window limiter over inbound frames.
type RateLimiter struct {
	mu     sync.Mutex
	events []time.Time // ascending
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter, using package defaults for non-positive inputs.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		events: make([]time.Time, 0, limit),
		limit:  limit,
		window: window,
	}
}

// Allow records an event at now and reports whether it fits in the window.
// Rejected events are not recorded.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	drop := 0
	for drop < len(r.events) && !r.events[drop].After(cut) {
		drop++
	}
	if drop > 0 {
		r.events = append(r.events[:0], r.events[drop:]...)
	}

	if len(r.events) >= r.limit {
		return false
	}
	r.events = append(r.events, now)
	return true
}
