package tenancy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedDirectory is a cache-aside decorator over Directory backed by Redis.
// Only positive mappings are cached; misses always reach the backing store so a
// newly provisioned number resolves immediately. Redis failures degrade to the
// backing store.
type CachedDirectory struct {
	next Directory
	rdb  redis.Cmdable
	ttl  time.Duration
	log  *slog.Logger
}

func NewCachedDirectory(next Directory, rdb redis.Cmdable, ttl time.Duration, log *slog.Logger) *CachedDirectory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &CachedDirectory{next: next, rdb: rdb, ttl: ttl, log: log}
}

const existsMarker = "1"

func (c *CachedDirectory) TenantExists(ctx context.Context, tenantID string) (bool, error) {
	key := "tenancy:tenant:" + tenantID
	if v, ok := c.get(ctx, key); ok {
		return v == existsMarker, nil
	}
	ok, err := c.next.TenantExists(ctx, tenantID)
	if err != nil || !ok {
		return ok, err
	}
	c.set(ctx, key, existsMarker)
	return true, nil
}

func (c *CachedDirectory) TenantByProviderNumberID(ctx context.Context, id string) (string, bool, error) {
	return c.cached(ctx, "tenancy:provider_number:"+id, func() (string, bool, error) {
		return c.next.TenantByProviderNumberID(ctx, id)
	})
}

func (c *CachedDirectory) TenantByPhoneNumber(ctx context.Context, e164 string) (string, bool, error) {
	return c.cached(ctx, "tenancy:phone:"+e164, func() (string, bool, error) {
		return c.next.TenantByPhoneNumber(ctx, e164)
	})
}

func (c *CachedDirectory) TenantTimezone(ctx context.Context, tenantID string) (string, error) {
	return c.next.TenantTimezone(ctx, tenantID)
}

func (c *CachedDirectory) cached(ctx context.Context, key string, load func() (string, bool, error)) (string, bool, error) {
	if v, ok := c.get(ctx, key); ok {
		return v, true, nil
	}
	tenantID, found, err := load()
	if err != nil || !found {
		return tenantID, found, err
	}
	c.set(ctx, key, tenantID)
	return tenantID, true, nil
}

func (c *CachedDirectory) get(ctx context.Context, key string) (string, bool) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("tenancy cache read failed", "key", key, "err", err)
		}
		return "", false
	}
	return v, true
}

func (c *CachedDirectory) set(ctx context.Context, key, value string) {
	if err := c.rdb.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.log.Warn("tenancy cache write failed", "key", key, "err", err)
	}
}
