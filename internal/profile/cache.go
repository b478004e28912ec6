package profile

import (
	"sync"
	"time"

	"stallfront/internal/domain"
)

// Cache is a small in-process cache for freshly onboarded profiles. An entry
// is valid only while younger than TTL and only for the route that populated
// it: it optimizes the "just navigated here" pattern, not general
// memoization, so a read from any other route is a miss even inside the TTL.
type Cache struct {
	TTL time.Duration
	Now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	profile domain.VendorProfile
	stamp   time.Time
	route   string
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{TTL: ttl, entries: make(map[string]cacheEntry)}
}

func (c *Cache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Get returns the cached profile for the vendor if the entry is fresh and
// was populated from the same route. Expired entries are evicted on read.
func (c *Cache) Get(vendorID, route string) (domain.VendorProfile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[vendorID]
	if !ok {
		return domain.VendorProfile{}, false
	}
	if c.now().Sub(e.stamp) >= c.TTL {
		delete(c.entries, vendorID)
		return domain.VendorProfile{}, false
	}
	if e.route != route {
		return domain.VendorProfile{}, false
	}
	return e.profile, true
}

func (c *Cache) Put(vendorID string, profile domain.VendorProfile, route string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]cacheEntry)
	}
	c.entries[vendorID] = cacheEntry{profile: profile, stamp: c.now(), route: route}
}

func (c *Cache) Invalidate(vendorID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, vendorID)
}
