package settings

import (
	"context"
	"sync"
	"time"
)

// Cache is a read-through cache in front of the Store. Entries expire
// after the TTL; a Put replaces the cached object wholesale so readers
// never observe a half-applied update.
type Cache struct {
	store *Store
	ttl   time.Duration
	obs   Observer

	entries map[string]cacheEntry
	mu      sync.RWMutex
	now     func() time.Time
}

// Observer receives cache hit/miss notifications. The metrics
// collector satisfies this interface.
type Observer interface {
	RecordSettingsCacheHit()
	RecordSettingsCacheMiss()
}

type cacheEntry struct {
	settings Settings
	loadedAt time.Time
}

// NewCache wraps the store. A non-positive TTL disables expiry.
func NewCache(store *Store, ttl time.Duration) *Cache {
	return &Cache{
		store:   store,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// WithObserver 挂接命中/未命中观察者，返回自身便于链式调用。
func (c *Cache) WithObserver(obs Observer) *Cache {
	c.obs = obs
	return c
}

// Get returns the project's settings, hitting the store only on a miss
// or after expiry.
func (c *Cache) Get(ctx context.Context, projectID string) (Settings, error) {
	c.mu.RLock()
	entry, ok := c.entries[projectID]
	c.mu.RUnlock()

	if ok && (c.ttl <= 0 || c.now().Sub(entry.loadedAt) < c.ttl) {
		if c.obs != nil {
			c.obs.RecordSettingsCacheHit()
		}
		return entry.settings, nil
	}

	if c.obs != nil {
		c.obs.RecordSettingsCacheMiss()
	}

	loaded, err := c.store.Get(ctx, projectID)
	if err != nil {
		return Settings{}, err
	}

	c.mu.Lock()
	c.entries[projectID] = cacheEntry{settings: loaded, loadedAt: c.now()}
	c.mu.Unlock()
	return loaded, nil
}

// Put writes through to the store and replaces the cached entry.
func (c *Cache) Put(ctx context.Context, projectID string, in Settings) (Settings, error) {
	saved, err := c.store.Put(ctx, projectID, in)
	if err != nil {
		return Settings{}, err
	}

	c.mu.Lock()
	c.entries[projectID] = cacheEntry{settings: saved, loadedAt: c.now()}
	c.mu.Unlock()
	return saved, nil
}

// Invalidate drops a project's cached entry.
func (c *Cache) Invalidate(projectID string) {
	c.mu.Lock()
	delete(c.entries, projectID)
	c.mu.Unlock()
}
