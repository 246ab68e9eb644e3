package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter"

	"github.com/okian/raidsync/pkg/metrics"
)

// Default cache configuration constants.
const (
	DefaultTTL      = time.Minute
	DefaultCapacity = 10_000
	signingKeyEntry = "\x00signing_key"
)

// Cache is a read-through TTL cache in front of a Source. Lookup failures
// are not cached.
type Cache struct {
	source Source
	cache  otter.Cache[string, string]
}

// NewCache wraps source. Non-positive ttl or capacity select the defaults.
func NewCache(source Source, ttl time.Duration, capacity int) (*Cache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c, err := otter.MustBuilder[string, string](capacity).
		Cost(func(string, string) uint32 { return 1 }).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build secrets cache: %w", err)
	}
	return &Cache{source: source, cache: c}, nil
}

// SigningKey implements Source.
func (c *Cache) SigningKey(ctx context.Context) (string, error) {
	return c.lookup(signingKeyEntry, func() (string, error) { return c.source.SigningKey(ctx) })
}

// Salt implements Source.
func (c *Cache) Salt(ctx context.Context, identity string) (string, error) {
	return c.lookup("salt:"+identity, func() (string, error) { return c.source.Salt(ctx, identity) })
}

// Invalidate drops the cached salt of identity.
func (c *Cache) Invalidate(identity string) {
	c.cache.Delete("salt:" + identity)
}

// Close releases the cache.
func (c *Cache) Close() {
	c.cache.Close()
}

func (c *Cache) lookup(key string, load func() (string, error)) (string, error) {
	if v, ok := c.cache.Get(key); ok {
		metrics.RecordSecretsLookup("hit")
		return v, nil
	}
	v, err := load()
	if err != nil {
		metrics.RecordSecretsLookup("error")
		return "", err
	}
	metrics.RecordSecretsLookup("miss")
	c.cache.Set(key, v)
	return v, nil
}
