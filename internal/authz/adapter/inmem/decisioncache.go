package inmem

import (
	"context"
	"sync"
	"time"

	"blogauthz/internal/domain"
)

// DecisionCache memoizes authorization results in process memory. Entries
// expire after the decision's TTL; when the cache is full the oldest entry
// is evicted. Safe for concurrent use. Racing misses on the same key may
// each run compute; the last writer wins, which is harmless because the
// engine is pure.
type DecisionCache struct {
	maxEntries int
	now        func() time.Time

	mu      sync.RWMutex
	entries map[domain.DecisionKey]entry
}

type entry struct {
	result   domain.AuthResult
	storedAt time.Time
}

// NewDecisionCache creates a cache bounded to maxEntries results.
// clock is injectable for deterministic testing.
func NewDecisionCache(maxEntries int, clock func() time.Time) *DecisionCache {
	if clock == nil {
		clock = time.Now
	}
	return &DecisionCache{
		maxEntries: maxEntries,
		now:        clock,
		entries:    make(map[domain.DecisionKey]entry),
	}
}

// GetOrCompute returns the cached result for key, or runs compute and
// stores its result. The bool reports a cache hit. Compute errors are
// returned as-is and nothing is stored.
func (c *DecisionCache) GetOrCompute(ctx context.Context, key domain.DecisionKey, compute func(context.Context) (domain.AuthResult, error)) (domain.AuthResult, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && !e.result.Decision.Expired(c.now()) {
		return e.result, true, nil
	}

	result, err := compute(ctx)
	if err != nil {
		return domain.AuthResult{}, false, err
	}

	c.mu.Lock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[key] = entry{result: result, storedAt: c.now()}
	c.mu.Unlock()

	return result, false, nil
}

// evictLocked drops all expired entries, or the oldest entry when nothing
// has expired yet.
func (c *DecisionCache) evictLocked() {
	now := c.now()
	dropped := false
	for k, e := range c.entries {
		if e.result.Decision.Expired(now) {
			delete(c.entries, k)
			dropped = true
		}
	}
	if dropped {
		return
	}

	var oldestKey domain.DecisionKey
	var oldest time.Time
	first := true
	for k, e := range c.entries {
		if first || e.storedAt.Before(oldest) {
			oldestKey, oldest = k, e.storedAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}

// Cleanup removes expired entries. Run periodically to bound memory.
func (c *DecisionCache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if e.result.Decision.Expired(now) {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of cached entries (for testing).
func (c *DecisionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
