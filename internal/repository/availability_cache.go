package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yswin-stack/campusride/internal/service"
)

// availabilityTTL bounds staleness of cached availability. Capacity moves
// fast around peak windows, so the cache only has to absorb bursts.
const availabilityTTL = 30 * time.Second

// dateIndexKey is the Redis SET holding every cache key written for a
// service date, so one hold or cancellation can drop them all at once.
func dateIndexKey(date string) string {
	return fmt.Sprintf("avail-index:%s", date)
}

// AvailabilityCache is the Redis fast path in front of availability
// search. Every Redis failure degrades to a miss; the search itself is the
// source of truth.
type AvailabilityCache struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewAvailabilityCache creates an availability cache on the given client.
func NewAvailabilityCache(client *redis.Client, logger *zap.SugaredLogger) *AvailabilityCache {
	return &AvailabilityCache{client: client, logger: logger}
}

// GetWindows returns the cached result for a search key, if present.
func (c *AvailabilityCache) GetWindows(ctx context.Context, key string) ([]service.ArrivalWindow, bool) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warnw("availability cache read failed", "key", key, "error", err)
		return nil, false
	}

	var windows []service.ArrivalWindow
	if err := json.Unmarshal(payload, &windows); err != nil {
		c.logger.Warnw("availability cache payload corrupt", "key", key, "error", err)
		return nil, false
	}
	return windows, true
}

// SetWindows caches a search result and registers the key in the date
// index. The key embeds the date as its second segment (see cacheKey in
// the availability service).
func (c *AvailabilityCache) SetWindows(ctx context.Context, key string, windows []service.ArrivalWindow) {
	payload, err := json.Marshal(windows)
	if err != nil {
		c.logger.Warnw("availability cache encode failed", "key", key, "error", err)
		return
	}

	date := dateOfKey(key)
	pipe := c.client.Pipeline()
	pipe.Set(ctx, key, payload, availabilityTTL)
	if date != "" {
		pipe.SAdd(ctx, dateIndexKey(date), key)
		pipe.Expire(ctx, dateIndexKey(date), 2*availabilityTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warnw("availability cache write failed", "key", key, "error", err)
	}
}

// InvalidateDate drops every cached search result for a service date.
func (c *AvailabilityCache) InvalidateDate(ctx context.Context, date string) {
	index := dateIndexKey(date)
	keys, err := c.client.SMembers(ctx, index).Result()
	if err != nil && err != redis.Nil {
		c.logger.Warnw("availability cache invalidate failed", "date", date, "error", err)
		return
	}
	keys = append(keys, index)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warnw("availability cache invalidate failed", "date", date, "error", err)
	}
}

// dateOfKey extracts the service date segment from an availability cache
// key of the form "avail:<date>:...".
func dateOfKey(key string) string {
	const prefix = "avail:"
	if len(key) < len(prefix)+10 || key[:len(prefix)] != prefix {
		return ""
	}
	return key[len(prefix) : len(prefix)+10]
}
