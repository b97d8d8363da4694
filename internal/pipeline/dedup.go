package pipeline

import (
	"sync"
	"time"
)

const (
	// DefaultDedupWindow is how long an admitted item-id blocks re-admission.
	DefaultDedupWindow = 5 * time.Second

	// DefaultSweepThreshold is the cache size above which a sweep of
	// expired entries runs inline on the next admission.
	DefaultSweepThreshold = 100
)

// DedupCache is a time-windowed set of recently admitted item identifiers.
// It prevents re-sending the same logical item when a source fires several
// notifications for one change. Safe for concurrent use.
//
// Eviction is lazy: entries older than the window are removed inline when
// the cache grows past the sweep threshold. Entries below the threshold may
// outlive their window until the next sweep; that is fine because TryAdmit
// re-checks age, not mere presence.
type DedupCache struct {
	window    time.Duration
	threshold int

	mu      sync.Mutex
	entries map[string]time.Time // item-id -> first seen
}

// NewDedupCache creates a cache with the given admission window and sweep
// threshold. Non-positive values fall back to the defaults.
func NewDedupCache(window time.Duration, threshold int) *DedupCache {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if threshold <= 0 {
		threshold = DefaultSweepThreshold
	}
	return &DedupCache{
		window:    window,
		threshold: threshold,
		entries:   make(map[string]time.Time),
	}
}

// TryAdmit reports whether the item may be processed. It returns false when
// an entry for id exists with first-seen inside the window; otherwise it
// records id at now and returns true. An expired entry is refreshed rather
// than treated as a duplicate.
func (c *DedupCache) TryAdmit(id string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if first, ok := c.entries[id]; ok && now.Sub(first) < c.window {
		return false
	}
	c.entries[id] = now

	if len(c.entries) > c.threshold {
		c.sweepLocked(now)
	}
	return true
}

// sweepLocked removes all entries whose window has elapsed.
// Caller must hold c.mu.
func (c *DedupCache) sweepLocked(now time.Time) {
	for id, first := range c.entries {
		if now.Sub(first) >= c.window {
			delete(c.entries, id)
		}
	}
}

// Len returns the current number of tracked entries.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
