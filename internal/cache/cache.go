// Package cache provides the in-process read cache that sits in front of
// the data files.
//
// Entries never expire on their own. Writers invalidate exactly the keys a
// mutation can affect, and readers that load from disk publish results with
// [Cache.SetIfUnchanged] so a load that raced a write cannot put the
// pre-write view back after the writer invalidated it:
//
//	gen := c.Generation()
//	v := loadFromDisk()
//	c.SetIfUnchanged(key, v, gen) // dropped if anything was invalidated meanwhile
//
// The cache is an accelerator, never a source of truth.
package cache

import (
	"strings"
	"sync"
)

// Observer receives hit/miss notifications. *metrics.Metrics satisfies it.
type Observer interface {
	ObserveCache(cache string, hit bool)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Invalidations uint64
	Entries       int
}

// Cache is a concurrency-safe key/value cache. The zero value is not
// usable; call [New].
type Cache[V any] struct {
	name     string
	observer Observer

	mu      sync.RWMutex
	entries map[string]V
	gen     uint64
	stats   Stats
}

// New returns an empty cache. name labels metrics; observer may be nil.
func New[V any](name string, observer Observer) *Cache[V] {
	return &Cache[V]{
		name:     name,
		observer: observer,
		entries:  make(map[string]V),
	}
}

// Get returns the value for key and whether it was present.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	v, ok := c.entries[key]

	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.ObserveCache(c.name, ok)
	}

	return v, ok
}

// Set stores v under key unconditionally.
func (c *Cache[V]) Set(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = v
}

// Generation returns a counter that changes on every invalidation.
func (c *Cache[V]) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.gen
}

// SetIfUnchanged stores v only if no invalidation happened since gen was
// obtained from [Cache.Generation]. Reports whether v was stored.
func (c *Cache[V]) SetIfUnchanged(key string, v V, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		return false
	}

	c.entries[key] = v

	return true
}

// Invalidate removes keys. Missing keys are ignored.
func (c *Cache[V]) Invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range keys {
		delete(c.entries, k)
	}

	c.gen++
	c.stats.Invalidations++
}

// InvalidatePrefix removes every key starting with prefix.
func (c *Cache[V]) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}

	c.gen++
	c.stats.Invalidations++
}

// Clear removes all entries.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries)

	c.gen++
	c.stats.Invalidations++
}

// Len returns the number of entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Stats returns a snapshot of the counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.stats
	s.Entries = len(c.entries)

	return s
}
