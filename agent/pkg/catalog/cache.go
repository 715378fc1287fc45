package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultCacheTTL = 5 * time.Minute

	schemaCacheKey = "schema"
)

// Source describes the schema of a live data source.
type Source interface {
	Describe(ctx context.Context) (*Schema, error)
}

// Cached memoizes a Source for a fixed TTL. Concurrent misses share one
// underlying Describe call.
type Cached struct {
	log    *slog.Logger
	source Source
	cache  *ttlcache.Cache[string, *Schema]
	group  singleflight.Group
}

// NewCached wraps source with a TTL cache. A zero ttl uses DefaultCacheTTL.
func NewCached(log *slog.Logger, source Source, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{
		log:    log,
		source: source,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, *Schema](ttl),
		),
	}
}

// Describe returns the cached schema, refreshing it from the source when the
// entry is missing or expired.
func (c *Cached) Describe(ctx context.Context) (*Schema, error) {
	if item := c.cache.Get(schemaCacheKey); item != nil {
		return item.Value(), nil
	}

	v, err, _ := c.group.Do(schemaCacheKey, func() (any, error) {
		schema, err := c.source.Describe(ctx)
		if err != nil {
			return nil, err
		}
		c.cache.Set(schemaCacheKey, schema, ttlcache.DefaultTTL)
		if c.log != nil {
			c.log.Debug("catalog: schema cached", "tables", len(schema.Tables))
		}
		return schema, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe schema: %w", err)
	}
	return v.(*Schema), nil
}

// Invalidate drops the cached schema.
func (c *Cached) Invalidate() {
	c.cache.Delete(schemaCacheKey)
}
