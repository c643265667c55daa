package game

import (
	"sync"
	"time"
)

const (
	// DefaultChatLimit is the number of chat actions allowed per window.
	DefaultChatLimit = 5
	// DefaultChatWindow is the sliding window the limit applies to.
	DefaultChatWindow = 10 * time.Second
)

// RateLimiter is a per-session sliding window flood guard.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	history []time.Time
}

// NewRateLimiter builds a limiter allowing limit actions per window. Zero
// values fall back to the defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultChatLimit
	}
	if window <= 0 {
		window = DefaultChatWindow
	}
	return &RateLimiter{limit: limit, window: window}
}

// Allow records an action at now, or returns a *RateLimitError when the
// window is already full. Rejected actions are not recorded.
func (r *RateLimiter) Allow(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := now.Add(-r.window)
	filtered := r.history[:0]
	for _, t := range r.history {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	r.history = filtered
	if len(r.history) >= r.limit {
		return &RateLimitError{RetryAfter: r.history[0].Add(r.window).Sub(now)}
	}
	r.history = append(r.history, now)
	return nil
}
