package availability

import (
	"context"
	"strings"
	"sync"
	"time"

	"salonbook/internal/models"
)

// Cache holds rendered availability views for a short time.
type Cache interface {
	Get(ctx context.Context, key string) ([]models.SlotView, bool)
	Set(ctx context.Context, key string, views []models.SlotView, ttl time.Duration)
	Invalidate(ctx context.Context, key string) error
	InvalidatePattern(ctx context.Context, prefix string) error
}

type memoryEntry struct {
	views   []models.SlotView
	expires time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]models.SlotView, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return append([]models.SlotView(nil), e.views...), true
}

func (c *MemoryCache) Set(_ context.Context, key string, views []models.SlotView, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = memoryEntry{views: append([]models.SlotView(nil), views...), expires: c.now().Add(ttl)}
	c.mu.Unlock()
}

func (c *MemoryCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) InvalidatePattern(_ context.Context, prefix string) error {
	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
	return nil
}

// Len reports the number of entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
