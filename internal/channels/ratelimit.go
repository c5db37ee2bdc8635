package channels

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedKeys caps the number of tracked rate-limit keys to prevent
	// memory exhaustion from attackers rotating source IPs/keys.
	maxTrackedKeys = 4096

	// staleAfter is how long an idle key is kept before pruning.
	staleAfter = 5 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// WebhookRateLimiter bounds per-source request rates on webhook endpoints.
// The tracked key set is hard-capped so rotating source keys cannot exhaust
// memory. Safe for concurrent use.
type WebhookRateLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

// NewWebhookRateLimiter creates a bounded webhook rate limiter allowing
// perMinute requests per key with the given burst.
func NewWebhookRateLimiter(perMinute, burst int) *WebhookRateLimiter {
	return &WebhookRateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		entries: make(map[string]*limiterEntry),
	}
}

// Allow returns true if the key is within rate limits.
func (r *WebhookRateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	entry, ok := r.entries[key]
	if !ok {
		if len(r.entries) >= maxTrackedKeys {
			r.prune(now)
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.entries[key] = entry
	}
	entry.lastSeen = now

	return entry.limiter.Allow()
}

// prune removes stale entries, then hard-evicts arbitrary entries if the
// cap is still exceeded. Caller must hold r.mu.
func (r *WebhookRateLimiter) prune(now time.Time) {
	for k, e := range r.entries {
		if now.Sub(e.lastSeen) >= staleAfter {
			delete(r.entries, k)
		}
	}
	for len(r.entries) >= maxTrackedKeys {
		for k := range r.entries {
			delete(r.entries, k)
			break
		}
	}
}
