package refdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/switchyardhq/switchyard/pkg/models"
)

const defaultTTL = 15 * time.Minute

// RedisCache stores reference items in Redis, one key per
// tenant/namespace/name, JSON encoded.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache wraps a Redis client. A non-positive ttl falls back to the
// default.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(tenantID, namespace, name string) string {
	return fmt.Sprintf("refdata:%s:%s:%s", tenantID, namespace, strings.ToLower(name))
}

// Lookup implements Cache.
func (c *RedisCache) Lookup(ctx context.Context, tenantID, namespace, name string) (*models.ReferenceItem, error) {
	payload, err := c.client.Get(ctx, cacheKey(tenantID, namespace, name)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotCached
		}

		return nil, fmt.Errorf("refdata lookup %s/%s: %w", namespace, name, err)
	}

	var item models.ReferenceItem
	if err := json.Unmarshal(payload, &item); err != nil {
		return nil, fmt.Errorf("refdata decode %s/%s: %w", namespace, name, err)
	}

	return &item, nil
}

// Put implements Cache.
func (c *RedisCache) Put(ctx context.Context, tenantID, namespace string, items []models.ReferenceItem) error {
	pipe := c.client.Pipeline()

	for _, item := range items {
		payload, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("refdata encode %s/%s: %w", namespace, item.Name, err)
		}

		pipe.Set(ctx, cacheKey(tenantID, namespace, item.Name), payload, c.ttl)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("refdata put %s: %w", namespace, err)
	}

	return nil
}
