package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trial-match-server/internal/domain"
)

// TrialCache wraps Redis with caching for fetched trial records
type TrialCache struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewTrialCache creates a new trial record cache
func NewTrialCache(config domain.CacheConfig) (*TrialCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = config.PoolSize
	opts.PoolTimeout = config.PoolTimeout
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &TrialCache{
		redis:      client,
		defaultTTL: config.DefaultTTL,
	}, nil
}

// cachedTrialRecord wraps a record with cache metadata
type cachedTrialRecord struct {
	Record    *domain.TrialRecord `json:"record"`
	CachedAt  time.Time           `json:"cached_at"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// GetTrial retrieves a cached trial record. The second return value
// reports whether the cache held a live entry.
func (c *TrialCache) GetTrial(ctx context.Context, trialID string) (*domain.TrialRecord, bool, error) {
	key := trialKey(trialID)

	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil // Cache miss
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get trial cache: %w", err)
	}

	var cached cachedTrialRecord
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		// Remove corrupted cache entry
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	return cached.Record, true, nil
}

// SetTrial caches a trial record
func (c *TrialCache) SetTrial(ctx context.Context, record *domain.TrialRecord, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	cached := cachedTrialRecord{
		Record:    record,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}
	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to encode trial record: %w", err)
	}

	if err := c.redis.Set(ctx, trialKey(record.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set trial cache: %w", err)
	}
	return nil
}

// Close closes the underlying Redis connection
func (c *TrialCache) Close() error {
	return c.redis.Close()
}

func trialKey(trialID string) string {
	return fmt.Sprintf("registry:trial:%s", trialID)
}
