package tenancy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/assistext/assistext/internal/phone"
	"github.com/assistext/assistext/pkg/logging"
)

const defaultCacheTTL = 5 * time.Minute

// CachingResolver is a Redis read-through cache in front of another Resolver.
// Redis failures fall through to the backing resolver. Misses are not cached so
// a newly attached number resolves immediately.
type CachingResolver struct {
	next   Resolver
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachingResolver wraps next with a Redis cache.
func NewCachingResolver(next Resolver, client *redis.Client, ttl time.Duration, logger *logging.Logger) *CachingResolver {
	if next == nil {
		panic("tenancy: backing resolver cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachingResolver{next: next, redis: client, ttl: ttl, logger: logger}
}

func (c *CachingResolver) key(e164 string) string {
	return fmt.Sprintf("tenant:number:%s", e164)
}

// ResolveByNumber implements Resolver.
func (c *CachingResolver) ResolveByNumber(ctx context.Context, number string) (*Tenant, error) {
	e164 := phone.NormalizeE164(number)
	if e164 == "" {
		return nil, ErrTenantNotFound
	}
	if c.redis != nil {
		data, err := c.redis.Get(ctx, c.key(e164)).Bytes()
		switch {
		case err == nil:
			var t Tenant
			if jsonErr := json.Unmarshal(data, &t); jsonErr == nil {
				return &t, nil
			}
			c.logger.Warn("tenant cache entry corrupt", "number", phone.Mask(e164))
		case !errors.Is(err, redis.Nil):
			c.logger.Warn("tenant cache read failed", "error", err)
		}
	}

	tenant, err := c.next.ResolveByNumber(ctx, e164)
	if err != nil {
		return nil, err
	}
	if c.redis != nil {
		if data, jsonErr := json.Marshal(tenant); jsonErr == nil {
			if setErr := c.redis.Set(ctx, c.key(e164), data, c.ttl).Err(); setErr != nil {
				c.logger.Warn("tenant cache write failed", "error", setErr)
			}
		}
	}
	return tenant, nil
}

// Invalidate drops the cached entry for a number.
func (c *CachingResolver) Invalidate(ctx context.Context, number string) error {
	if c.redis == nil {
		return nil
	}
	e164 := phone.NormalizeE164(number)
	if err := c.redis.Del(ctx, c.key(e164)).Err(); err != nil {
		return fmt.Errorf("tenancy: invalidate cache: %w", err)
	}
	return nil
}
