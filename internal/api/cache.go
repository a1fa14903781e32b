package api

import (
	"strings"
	"sync"
	"time"

	"github.com/user/llmeter/internal/provider"
)

// snapshot is one FetchAll pass over a specific set of enabled providers.
type snapshot struct {
	results   []provider.Result
	fetchedAt time.Time
}

// Cache keeps the latest snapshot per enabled-provider set, so enabling or
// disabling a provider never serves results fetched for the old set.
type Cache struct {
	mu        sync.Mutex
	snapshots map[string]snapshot
	ttl       time.Duration
	now       func() time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		snapshots: make(map[string]snapshot),
		ttl:       ttl,
		now:       time.Now,
	}
}

func cacheKey(ids []string) string {
	return strings.Join(ids, ",")
}

// Get returns the results fetched for ids and their age, if still fresh.
func (c *Cache) Get(ids []string) ([]provider.Result, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(ids)
	snap, ok := c.snapshots[key]
	if !ok {
		return nil, 0, false
	}
	age := c.now().Sub(snap.fetchedAt)
	if age > c.ttl {
		delete(c.snapshots, key)
		return nil, 0, false
	}
	return snap.results, age, true
}

// Set stores results for ids and drops snapshots for any other set.
func (c *Cache) Set(ids []string, results []provider.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(ids)
	for k := range c.snapshots {
		if k != key {
			delete(c.snapshots, k)
		}
	}
	c.snapshots[key] = snapshot{results: results, fetchedAt: c.now()}
}
