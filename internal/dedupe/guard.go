// ABOUTME: Thread-safe TTL guard for deduplicating notifications.
// ABOUTME: Used by the presence tracker to suppress repeat offline announcements.

package dedupe

import (
	"sync"
	"time"
)

// Guard tracks when a key was last marked and suppresses re-marks inside the
// TTL window. Expiry is evaluated lazily against the caller-supplied "now";
// there is no background sweeper, so the guard is safe to embed in stateless
// request handlers.
type Guard struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	maxSize int
}

// NewGuard creates a guard with the given TTL and maximum tracked keys.
func NewGuard(ttl time.Duration, maxSize int) *Guard {
	return &Guard{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// CheckAndMark atomically checks whether the key was marked within the TTL
// window and marks it if not. Returns true if the key was already marked
// (duplicate), false if it is new and now marked. The atomicity prevents
// TOCTOU races between concurrent handlers sharing the guard.
func (g *Guard) CheckAndMark(key string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.seen[key]; ok && now.Sub(last) < g.ttl {
		return true
	}

	if len(g.seen) >= g.maxSize {
		g.evictExpired(now)
	}
	if len(g.seen) >= g.maxSize {
		// Still full after expiry: drop the stalest entry.
		var oldestKey string
		var oldest time.Time
		for k, ts := range g.seen {
			if oldestKey == "" || ts.Before(oldest) {
				oldestKey, oldest = k, ts
			}
		}
		delete(g.seen, oldestKey)
	}

	g.seen[key] = now
	return false
}

// Forget clears the mark for a key, re-arming the guard immediately.
func (g *Guard) Forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, key)
}

// evictExpired removes entries outside the TTL window. Must hold mu.
func (g *Guard) evictExpired(now time.Time) {
	for k, ts := range g.seen {
		if now.Sub(ts) >= g.ttl {
			delete(g.seen, k)
		}
	}
}
