package secrets

import (
	"sync"
	"time"
)

type cachedSecret struct {
	value     string
	canonical string
	storedAt  time.Time
}

// secretCache keys values by canonical reference and version.
type secretCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cachedSecret
}

func (c *secretCache) get(key string, now time.Time) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok || (c.ttl > 0 && now.Sub(entry.storedAt) >= c.ttl) {
		return "", false
	}
	return entry.value, true
}

func (c *secretCache) put(key, canonical, value string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedSecret{value: value, canonical: canonical, storedAt: now}
}

// drop removes every version of canonical.
func (c *secretCache) drop(canonical string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if entry.canonical == canonical {
			delete(c.entries, key)
		}
	}
}
