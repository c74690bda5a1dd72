package messaging

import (
	"strings"
	"sync"
	"time"
)

// RateLimiter is a per-user sliding-window limiter for send attempts.
//
// Every attempt is recorded regardless of outcome; once the in-window
// count exceeds the limit, further attempts are rejected until the
// window rolls over. The limiter knows nothing about message content.
type RateLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time // user id -> attempt times
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter with safe defaults when
// inputs are invalid.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		events: make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

// Allow records an attempt for userID at time "now" and reports whether
// it is within the limit.
func (r *RateLimiter) Allow(userID string, now time.Time) bool {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	dst := r.events[userID][:0]
	for _, t := range r.events[userID] {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}

	dst = append(dst, now)
	r.events[userID] = dst

	return len(dst) <= r.limit
}
