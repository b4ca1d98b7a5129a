package accept

import (
	"sync"
	"time"
)

// RateLimiter is a token-bucket-by-timestamp-list limiter keyed by client
// IP: each IP owns a pruned list of attempt timestamps. No off-the-shelf
// limiter in the dependency pack implements this exact semantics (most,
// including golang.org/x/time/rate, use continuous refill rather than a
// pruned timestamp window), so this is hand-rolled per §4.E.
type RateLimiter struct {
	mu         sync.Mutex
	window     time.Duration
	maxAttempt int
	attempts   map[string][]time.Time
}

// NewRateLimiter constructs a limiter with the given window and max
// attempts per IP within that window.
func NewRateLimiter(window time.Duration, maxAttempts int) *RateLimiter {
	return &RateLimiter{
		window:     window,
		maxAttempt: maxAttempts,
		attempts:   make(map[string][]time.Time),
	}
}

// Allow drops timestamps older than now-window, rejects if the remaining
// count is already >= max, else appends now and returns true.
func (r *RateLimiter) Allow(ip string) bool {
	return r.allowAt(ip, time.Now())
}

func (r *RateLimiter) allowAt(ip string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.window)
	kept := r.attempts[ip][:0]
	for _, ts := range r.attempts[ip] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= r.maxAttempt {
		r.attempts[ip] = kept
		return false
	}

	r.attempts[ip] = append(kept, now)
	return true
}

// Sweep evicts per-IP entries whose timestamp list is empty after pruning
// against the window, run every 5 seconds by the accept manager.
func (r *RateLimiter) Sweep() {
	r.sweepAt(time.Now())
}

func (r *RateLimiter) sweepAt(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.window)
	for ip, timestamps := range r.attempts {
		kept := timestamps[:0]
		for _, ts := range timestamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(r.attempts, ip)
		} else {
			r.attempts[ip] = kept
		}
	}
}
