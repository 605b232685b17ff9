package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const cacheOpTimeout = 500 * time.Millisecond

// ContextCache caches external context snapshots (sentiment, fear &
// greed) in Redis with a TTL. Every failure degrades to a miss so a
// Redis outage never blocks a cycle.
type ContextCache struct {
	client *redis.Client
	ttl    time.Duration
}

// ContextEntry is one cached snapshot with its capture time
type ContextEntry struct {
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewContextCache creates the cache. A nil client returns nil; all
// methods are nil-safe so callers need no enabled check.
func NewContextCache(client *redis.Client, ttl time.Duration) *ContextCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ContextCache{client: client, ttl: ttl}
}

// Get retrieves a cached snapshot. Misses and errors both return false.
func (c *ContextCache) Get(ctx context.Context, kind string) (map[string]interface{}, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	cacheCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, c.key(kind)).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("kind", kind).Msg("Context cache get failed, treating as miss")
		}
		return nil, false
	}

	var entry ContextEntry
	if err := json.Unmarshal([]byte(cached), &entry); err != nil {
		log.Warn().Err(err).Str("kind", kind).Msg("Failed to unmarshal cached context")
		return nil, false
	}
	return entry.Payload, true
}

// Set stores a snapshot with the configured TTL
func (c *ContextCache) Set(ctx context.Context, kind string, payload map[string]interface{}) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	data, err := json.Marshal(ContextEntry{Payload: payload, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal context entry: %w", err)
	}

	cacheCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	if err := c.client.Set(cacheCtx, c.key(kind), data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("kind", kind).Msg("Failed to cache context snapshot")
		return err
	}
	return nil
}

func (c *ContextCache) key(kind string) string {
	return "tradewind:context:" + kind
}
