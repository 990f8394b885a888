package pipeline

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/chatelio/chatelio-backend/internal/logger"
)

// BuildFunc constructs a fresh Handle for one tenant and model. Builds are
// expected to be expensive (remote probes, seeding), which is what the cache
// and single-flight exist to amortize.
type BuildFunc func(ctx context.Context, tenantID, model string) (*Handle, error)

// Cache holds built pipeline handles keyed by tenant and model. Concurrent
// misses for the same key share one build; Invalidate evicts every model
// variant of a tenant at once.
//
// Eviction during a build is handled with per-tenant epochs: a build that
// started before an invalidation may finish and serve its own caller, but its
// result is not stored, so the next request rebuilds against fresh state.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Handle
	epochs  map[string]uint64

	group  singleflight.Group
	build  BuildFunc
	builds atomic.Int64
	log    *logger.Logger
}

func NewCache(build BuildFunc, log *logger.Logger) *Cache {
	return &Cache{
		entries: make(map[string]*Handle),
		epochs:  make(map[string]uint64),
		build:   build,
		log:     log.With("component", "pipeline_cache"),
	}
}

func cacheKey(tenantID, model string) string {
	return tenantID + "|" + model
}

// Get returns the cached handle for (tenantID, model), building it exactly
// once across concurrent callers on a miss.
func (c *Cache) Get(ctx context.Context, tenantID, model string) (*Handle, error) {
	key := cacheKey(tenantID, model)

	c.mu.Lock()
	if h, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return h, nil
	}
	epoch := c.epochs[tenantID]
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A racing flight may have stored between our miss and here.
		c.mu.Lock()
		if h, ok := c.entries[key]; ok {
			c.mu.Unlock()
			return h, nil
		}
		c.mu.Unlock()

		h, err := c.build(ctx, tenantID, model)
		if err != nil {
			return nil, err
		}
		c.builds.Add(1)

		c.mu.Lock()
		if c.epochs[tenantID] == epoch {
			c.entries[key] = h
		} else {
			c.log.Debug("handle built after invalidation, not cached", "tenant_id", tenantID, "model", model)
		}
		c.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// Invalidate evicts every cached handle of the tenant and bumps its epoch so
// in-flight builds do not repopulate the cache with pre-invalidation state.
func (c *Cache) Invalidate(tenantID string) {
	prefix := tenantID + "|"

	c.mu.Lock()
	c.epochs[tenantID]++
	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			c.group.Forget(key)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.log.Info("pipeline cache invalidated", "tenant_id", tenantID, "evicted", removed)
	}
}

// BuildCount reports how many builds have completed, for coherence checks.
func (c *Cache) BuildCount() int64 {
	return c.builds.Load()
}

// Len reports the number of cached handles.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
