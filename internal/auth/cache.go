package auth

import (
	"sync"
	"time"

	"github.com/kalambet/aury/internal/storage"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	profile  storage.Profile
	cachedAt time.Time
}

// profileCache holds recently resolved profiles keyed by user id.
// Profiles are read-only to the service, so entries only expire.
type profileCache struct {
	clock Clock
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func newProfileCache(clock Clock, ttl time.Duration) *profileCache {
	return &profileCache{
		clock:   clock,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func (c *profileCache) get(userID string) (storage.Profile, bool) {
	if c.ttl <= 0 {
		return storage.Profile{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[userID]
	if !ok || !c.clock.Now().Before(e.cachedAt.Add(c.ttl)) {
		return storage.Profile{}, false
	}
	return e.profile, true
}

func (c *profileCache) put(p storage.Profile) {
	if c.ttl <= 0 {
		return
	}
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[p.ID] = cacheEntry{profile: p, cachedAt: now}

	// Drop expired entries so the map tracks active users only.
	for id, e := range c.entries {
		if !now.Before(e.cachedAt.Add(c.ttl)) {
			delete(c.entries, id)
		}
	}
}

func (c *profileCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
