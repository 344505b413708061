package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/kjstillabower/city-weather-service/internal/models"
)

// Cache is the hot tier. Get returns (value, true, nil) on hit, (zero, false, nil)
// on miss and (zero, false, err) when the backing store could not answer.
// Callers decide how to degrade on error; implementations never swallow it.
type Cache interface {
	Get(ctx context.Context, key string) (models.Observation, bool, error)
	Set(ctx context.Context, key string, value models.Observation, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Flush(ctx context.Context) error
}

// InMemoryCache implements Cache on top of go-cache. Safe for concurrent use;
// expired entries are purged by a janitor every cleanupInterval.
type InMemoryCache struct {
	items *gocache.Cache
}

// NewInMemoryCache creates an in-process cache. defaultTTL applies when Set is
// called with a non-positive ttl.
func NewInMemoryCache(defaultTTL, cleanupInterval time.Duration) *InMemoryCache {
	return &InMemoryCache{
		items: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get implements Cache.Get.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.Observation, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Observation{}, false, err
	}
	v, ok := c.items.Get(key)
	if !ok {
		return models.Observation{}, false, nil
	}
	obs, ok := v.(models.Observation)
	return obs, ok, nil
}

// Set implements Cache.Set.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.Observation, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	c.items.Set(key, value, ttl)
	return nil
}

// Delete implements Cache.Delete. Deleting a missing key is not an error.
func (c *InMemoryCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.items.Delete(key)
	return nil
}

// Flush implements Cache.Flush.
func (c *InMemoryCache) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.items.Flush()
	return nil
}
