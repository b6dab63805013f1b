package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pneumoscan/pneumoscan/internal/model"
)

const statsKey = "stats:v1"

// ErrCacheMiss indicates the key is not cached.
var ErrCacheMiss = errors.New("cache miss")

// GetStats returns cached statistics or ErrCacheMiss.
func (c *Cache) GetStats(ctx context.Context) (*model.Stats, error) {
	raw, err := c.client.Get(ctx, statsKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var stats model.Stats
	if err := json.Unmarshal(raw, &stats); err != nil {
		// Treat corrupt entries as a miss so the caller recomputes.
		return nil, ErrCacheMiss
	}
	return &stats, nil
}

// SetStats caches statistics for ttl.
func (c *Cache) SetStats(ctx context.Context, stats *model.Stats, ttl time.Duration) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	if err := c.client.Set(ctx, statsKey, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// InvalidateStats drops cached statistics.
func (c *Cache) InvalidateStats(ctx context.Context) error {
	if err := c.client.Del(ctx, statsKey).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
