package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hivemesh/relay/internal/model"
)

// InMemoryDecisionCache implements DecisionCache using an in-memory map
type InMemoryDecisionCache struct {
	mu      sync.RWMutex
	data    map[string]*cacheItem
	maxSize int
	logger  *zap.Logger
}

type cacheItem struct {
	perms     model.PermissionSet
	expiresAt time.Time
}

// NewInMemoryDecisionCache creates a new in-memory decision cache
func NewInMemoryDecisionCache(maxSize int, logger *zap.Logger) *InMemoryDecisionCache {
	cache := &InMemoryDecisionCache{
		data:    make(map[string]*cacheItem),
		maxSize: maxSize,
		logger:  logger,
	}

	go cache.cleanup()

	return cache
}

// Get retrieves a cached permission set
func (c *InMemoryDecisionCache) Get(ctx context.Context, key string) (model.PermissionSet, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.data[key]
	if !exists {
		return nil, ErrNotFound
	}
	if time.Now().After(item.expiresAt) {
		return nil, ErrNotFound
	}

	return item.perms, nil
}

// Set stores a permission set with TTL
func (c *InMemoryDecisionCache) Set(ctx context.Context, key string, perms model.PermissionSet, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.data) >= c.maxSize {
		// Prefer evicting an expired entry, otherwise any entry.
		evicted := false
		now := time.Now()
		for k, v := range c.data {
			if now.After(v.expiresAt) {
				delete(c.data, k)
				evicted = true
				break
			}
		}
		if !evicted {
			for k := range c.data {
				delete(c.data, k)
				break
			}
		}
	}

	c.data[key] = &cacheItem{
		perms:     perms,
		expiresAt: time.Now().Add(ttl),
	}

	return nil
}

// Delete removes an entry from the cache
func (c *InMemoryDecisionCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
	return nil
}

// Ping reports cache availability; the in-memory cache is always available
func (c *InMemoryDecisionCache) Ping(ctx context.Context) error {
	return nil
}

// cleanup periodically removes expired entries
func (c *InMemoryDecisionCache) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for key, item := range c.data {
			if now.After(item.expiresAt) {
				delete(c.data, key)
			}
		}
		c.mu.Unlock()
	}
}

// Size returns the number of items in the cache
func (c *InMemoryDecisionCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
