package permit

import (
	"sync"
	"time"
)

// DefaultCacheTTL keeps verdicts hot without letting permission changes
// linger invisibly; invalidation events shorten it further.
const DefaultCacheTTL = 5 * time.Minute

// DefaultSweepInterval is how often the background sweep evicts expired
// entries independent of invalidation events.
const DefaultSweepInterval = time.Minute

// CacheKey is the composite decision-cache key. Using a struct key keeps
// tenant isolation structural: an entry written under one tenant can never
// be read under another.
type CacheKey struct {
	Principal    string
	Tenant       string
	ResourceType string
	Action       string
	ResourceID   string
}

// NewCacheKey is the single key constructor used by every write, read and
// invalidation path. An empty tenant maps to GlobalTenant.
func NewCacheKey(principal, tenant, resourceType, action, resourceID string) CacheKey {
	if tenant == "" {
		tenant = GlobalTenant
	}
	return CacheKey{
		Principal:    principal,
		Tenant:       tenant,
		ResourceType: resourceType,
		Action:       action,
		ResourceID:   resourceID,
	}
}

type cacheEntry struct {
	granted   bool
	expiresAt time.Time
}

// DecisionCache maps composite keys to boolean verdicts with per-entry
// expiry and pattern-based invalidation by principal or tenant. Safe for
// concurrent use.
type DecisionCache struct {
	mu      sync.RWMutex
	entries map[CacheKey]cacheEntry
	ttl     time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewDecisionCache builds a cache with the given default TTL and starts the
// background sweeper. ttl <= 0 selects DefaultCacheTTL; sweepInterval <= 0
// selects DefaultSweepInterval. Call Close to stop the sweeper.
func NewDecisionCache(ttl, sweepInterval time.Duration) *DecisionCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	c := &DecisionCache{
		entries: make(map[CacheKey]cacheEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go c.sweeper(sweepInterval)
	return c
}

// Get returns the cached verdict for key, if present and unexpired.
// Expired entries are deleted on read rather than served.
func (c *DecisionCache) Get(key CacheKey) (bool, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return false, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		// a concurrent Set may have refreshed the entry since the read
		if cur, present := c.entries[key]; present && time.Now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return false, false
	}
	return entry.granted, true
}

// Set stores a verdict. ttl <= 0 uses the cache default.
func (c *DecisionCache) Set(key CacheKey, granted bool, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{granted: granted, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// InvalidateByPrincipal evicts every entry whose key names the principal.
func (c *DecisionCache) InvalidateByPrincipal(principal string) {
	c.mu.Lock()
	for k := range c.entries {
		if k.Principal == principal {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// InvalidateByTenant evicts every entry whose key names the tenant.
func (c *DecisionCache) InvalidateByTenant(tenant string) {
	if tenant == "" {
		tenant = GlobalTenant
	}
	c.mu.Lock()
	for k := range c.entries {
		if k.Tenant == tenant {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *DecisionCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[CacheKey]cacheEntry)
	c.mu.Unlock()
}

// Len reports the current entry count.
func (c *DecisionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the background sweeper. The cache remains usable afterwards;
// expired entries are then evicted on read only.
func (c *DecisionCache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *DecisionCache) sweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep(time.Now())
		case <-c.stopCh:
			return
		}
	}
}

func (c *DecisionCache) sweep(now time.Time) {
	c.mu.Lock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}
