package analyzer

import (
	"sync"
	"time"
)

const defaultCacheTTL = 6 * time.Hour

type cacheEntry struct {
	report *Report
	at     time.Time
}

// reportCache keeps generated reports for a TTL so repeated requests within
// the window get the identical report back.
type reportCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

func newReportCache(ttl time.Duration) *reportCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &reportCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

func (c *reportCache) get(key string, now time.Time) (*Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if now.Sub(e.at) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.report, true
}

func (c *reportCache) put(key string, r *Report, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{report: r, at: now}
}

func (c *reportCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
