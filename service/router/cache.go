package router

import (
	"sync"
	"time"

	"github.com/viant/taskpool/internal/clock"
	"github.com/viant/taskpool/model/route"
)

// routeCache is a bounded route-decision cache with least-frequently-used
// eviction: the entry with the lowest use count goes first, oldest insertion
// breaking ties. This deliberately differs from the allocation cache's
// recency-based policy; routing decisions are worth keeping while they keep
// being asked for, not merely because they were asked for recently.
type routeCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*routeEntry
}

type routeEntry struct {
	options    *route.Options
	useCount   int
	insertedAt time.Time
}

func newRouteCache(maxSize int) *routeCache {
	return &routeCache{
		maxSize: maxSize,
		items:   make(map[string]*routeEntry),
	}
}

func (c *routeCache) get(key string) (*route.Options, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.items[key]; ok {
		entry.useCount++
		return entry.options, true
	}
	return nil, false
}

func (c *routeCache) put(key string, options *route.Options) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.items[key]; ok {
		entry.options = options
		return
	}
	if len(c.items) >= c.maxSize {
		c.evictLeastUsed()
	}
	c.items[key] = &routeEntry{options: options, insertedAt: clock.Now()}
}

func (c *routeCache) evictLeastUsed() {
	var victim string
	var victimEntry *routeEntry
	for key, entry := range c.items {
		if victimEntry == nil ||
			entry.useCount < victimEntry.useCount ||
			(entry.useCount == victimEntry.useCount && entry.insertedAt.Before(victimEntry.insertedAt)) {
			victim = key
			victimEntry = entry
		}
	}
	if victimEntry != nil {
		delete(c.items, victim)
	}
}

func (c *routeCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*routeEntry)
}

func (c *routeCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
