package traveltime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores travel-time entries in Redis as JSON values keyed by the
// bucketed pair key. Entries expire after a fixed TTL so stale road
// conditions age out without manual invalidation.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 14 * 24 * time.Hour
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) GetBatch(ctx context.Context, keys []Key) (map[Key]Entry, error) {
	if len(keys) == 0 {
		return map[Key]Entry{}, nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	vals, err := c.rdb.MGet(ctx, names...).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[Key]Entry, len(keys))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var e Entry
		if json.Unmarshal([]byte(s), &e) != nil {
			continue
		}
		out[keys[i]] = e
	}
	return out, nil
}

func (c *RedisCache) PutBatch(ctx context.Context, entries map[Key]Entry) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := c.rdb.Pipeline()
	for k, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			continue
		}
		pipe.Set(ctx, k.String(), b, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
