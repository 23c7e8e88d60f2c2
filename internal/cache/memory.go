package cache

import (
	"context"
	"sync"
	"time"

	"github.com/opencrafts-io/interventoria/internal/permissions"
)

type memoryEntry struct {
	subject    string
	grants     permissions.GrantSet
	expiryTime time.Time
}

// MemoryGrantCache is a process-local grant cache used when Redis is not
// configured.
type MemoryGrantCache struct {
	entries   map[string]memoryEntry
	bySubject map[string]map[string]struct{}
	mutex     sync.RWMutex
	now       func() time.Time
}

func NewMemoryGrantCache() *MemoryGrantCache {
	return &MemoryGrantCache{
		entries:   make(map[string]memoryEntry),
		bySubject: make(map[string]map[string]struct{}),
		now:       time.Now,
	}
}

func (c *MemoryGrantCache) Get(_ context.Context, key string) (permissions.GrantSet, bool, error) {
	c.mutex.RLock()
	entry, found := c.entries[key]
	c.mutex.RUnlock()

	if found && c.now().Before(entry.expiryTime) {
		return entry.grants, true, nil
	}
	return permissions.GrantSet{}, false, nil
}

func (c *MemoryGrantCache) Set(_ context.Context, subject, key string, grants permissions.GrantSet, ttl time.Duration) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if old, found := c.entries[key]; found && old.subject != subject {
		c.unindex(old.subject, key)
	}
	c.entries[key] = memoryEntry{subject: subject, grants: grants, expiryTime: c.now().Add(ttl)}

	keys, found := c.bySubject[subject]
	if !found {
		keys = make(map[string]struct{})
		c.bySubject[subject] = keys
	}
	keys[key] = struct{}{}
	return nil
}

func (c *MemoryGrantCache) DeleteSubject(_ context.Context, subject string) error {
	c.mutex.Lock()
	for key := range c.bySubject[subject] {
		delete(c.entries, key)
	}
	delete(c.bySubject, subject)
	c.mutex.Unlock()
	return nil
}

// Prune removes expired entries.
func (c *MemoryGrantCache) Prune() {
	now := c.now()
	c.mutex.Lock()
	for key, entry := range c.entries {
		if now.After(entry.expiryTime) {
			delete(c.entries, key)
			c.unindex(entry.subject, key)
		}
	}
	c.mutex.Unlock()
}

// unindex must be called with the write lock held.
func (c *MemoryGrantCache) unindex(subject, key string) {
	keys := c.bySubject[subject]
	delete(keys, key)
	if len(keys) == 0 {
		delete(c.bySubject, subject)
	}
}
