package flow

import (
	"sync"
	"time"
)

// JobOutcome is one job's cached result for a message UUID.
type JobOutcome struct {
	Status string         `json:"status"`
	Result map[string]any `json:"result"`
}

// ToMap converts the outcome into the JSON tree merged into
// context.job_results and returned by action runs.
func (o JobOutcome) ToMap() map[string]any {
	return map[string]any{
		"status": o.Status,
		"result": o.Result,
	}
}

type cacheEntry struct {
	mu   sync.Mutex
	jobs map[string]JobOutcome
	// updatedAt is guarded by the cache lock, not the entry lock.
	updatedAt time.Time
}

// ResultsCache maps message UUIDs to per-job outcomes. Jobs use it for
// dependency waits and request/response sources for reply correlation.
// Reads are concurrent; updates take the per-entry lock. Entries expire
// by TTL and the cache is bounded so dead messages cannot leak.
type ResultsCache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	ttl        time.Duration
	maxEntries int
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewResultsCache creates a cache with a janitor goroutine. ttl<=0
// disables expiry; maxEntries<=0 disables the size bound.
func NewResultsCache(ttl time.Duration, maxEntries int) *ResultsCache {
	c := &ResultsCache{
		entries:    make(map[string]*cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		stop:       make(chan struct{}),
	}
	if ttl > 0 {
		go c.janitor()
	}
	return c
}

func (c *ResultsCache) janitor() {
	interval := c.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-c.ttl)
			c.mu.Lock()
			for uuid, entry := range c.entries {
				if entry.updatedAt.Before(cutoff) {
					delete(c.entries, uuid)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Put upserts one job outcome under uuid.
func (c *ResultsCache) Put(uuid, job string, outcome JobOutcome) {
	c.mu.Lock()
	entry, ok := c.entries[uuid]
	if !ok {
		entry = &cacheEntry{jobs: make(map[string]JobOutcome)}
		c.entries[uuid] = entry
	}
	entry.updatedAt = time.Now()
	if !ok && c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		c.evictOldestLocked(uuid)
	}
	c.mu.Unlock()

	entry.mu.Lock()
	entry.jobs[job] = outcome
	entry.mu.Unlock()
}

// evictOldestLocked drops the least recently updated entry, never the
// one just inserted under keep. Caller holds the cache lock.
func (c *ResultsCache) evictOldestLocked(keep string) {
	var oldestUUID string
	var oldestAt time.Time
	first := true
	for uuid, entry := range c.entries {
		if uuid == keep {
			continue
		}
		if first || entry.updatedAt.Before(oldestAt) {
			oldestUUID, oldestAt = uuid, entry.updatedAt
			first = false
		}
	}
	if oldestUUID != "" {
		delete(c.entries, oldestUUID)
	}
}

// Get returns a copy of every job outcome cached under uuid.
func (c *ResultsCache) Get(uuid string) (map[string]JobOutcome, bool) {
	c.mu.RLock()
	entry, ok := c.entries[uuid]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make(map[string]JobOutcome, len(entry.jobs))
	for job, outcome := range entry.jobs {
		out[job] = outcome
	}
	return out, true
}

// Lookup returns the outcomes for uuid when every named job is present.
func (c *ResultsCache) Lookup(uuid string, jobs []string) (map[string]JobOutcome, bool) {
	all, ok := c.Get(uuid)
	if !ok {
		return nil, false
	}
	out := make(map[string]JobOutcome, len(jobs))
	for _, job := range jobs {
		outcome, ok := all[job]
		if !ok {
			return nil, false
		}
		out[job] = outcome
	}
	return out, true
}

// Len reports the number of cached UUIDs.
func (c *ResultsCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the janitor.
func (c *ResultsCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}
