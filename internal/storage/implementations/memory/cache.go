package memory

import (
	"context"
	"sync"
	"time"

	"github.com/inferloop/tsforecast/pkg/errors"
)

const storageType = "memory"

type entry struct {
	value   []byte
	expires time.Time
}

// Cache is an in-process interfaces.Cache used when Redis is disabled.
// Expired entries are dropped lazily on read.
type Cache struct {
	ttl     time.Duration
	entries map[string]entry
	mu      sync.RWMutex
	now     func() time.Time
}

// NewCache creates an empty cache. A zero ttl keeps entries forever.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns a copy of the cached value
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		ok = false
	}
	if !ok {
		return nil, errors.NewStorageNotFoundError(storageType, key)
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores a copy of value
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

// Delete removes key
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Close drops every entry
func (c *Cache) Close() error {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
	return nil
}
