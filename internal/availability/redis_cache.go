package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"salonbook/internal/models"
)

// RedisCache shares availability views between service instances.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache namespaces every key with prefix.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]models.SlotView, bool) {
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		return nil, false
	}
	var views []models.SlotView
	if err := json.Unmarshal([]byte(val), &views); err != nil {
		return nil, false
	}
	return views, true
}

func (c *RedisCache) Set(ctx context.Context, key string, views []models.SlotView, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(views)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.prefix+key, data, ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}

// InvalidatePattern deletes every key starting with prefix.
func (c *RedisCache) InvalidatePattern(ctx context.Context, prefix string) error {
	match := escapeGlob(c.prefix+prefix) + "*"
	iter := c.client.Scan(ctx, 0, match, 100).Iterator()

	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("delete cache keys: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cache keys: %w", err)
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("delete cache keys: %w", err)
		}
	}
	return nil
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
