package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheConfig configures the optional Redis-backed duplicate accelerator.
type CacheConfig struct {
	RedisURL string
	Prefix   string
	TTL      time.Duration
}

// DefaultCacheConfig returns sane defaults for the accelerator.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		RedisURL: "redis://localhost:6379/0",
		Prefix:   "feedmailer",
		TTL:      10 * time.Minute,
	}
}

// Cache records (feedID, emailMessageID) pairs already proven duplicate by
// the Store, to cut repeated-poll Store round trips on accounts with slow
// backends. It may only ever cache the positive result: a cache hit always
// means "skip, proven duplicate." It never caches duplicate-free, since
// that result can go stale the moment the Store gains the row (or loses it
// to retention) and would manufacture a false negative that lets a
// duplicate slip past the Store's own check. A cache miss always falls
// through to the Store, and Redis unavailability degrades silently to
// Store-only operation.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCache connects to Redis. A nil, nil return means the accelerator is
// disabled (no RedisURL configured); callers should treat that as normal,
// not an error.
func NewCache(cfg CacheConfig) (*Cache, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("dedupe: invalid redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("dedupe: redis unreachable: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCacheConfig().TTL
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultCacheConfig().Prefix
	}

	return &Cache{client: client, prefix: prefix, ttl: ttl}, nil
}

func (c *Cache) key(feedID, messageID string) string {
	return fmt.Sprintf("%s:dupe:%s:%s", c.prefix, feedID, messageID)
}

// KnownDuplicate reports (value, ok): ok is false on any cache miss or
// Redis error, in which case the caller must fall through to the Store. A
// true value means the Store has already confirmed this message as a
// duplicate; a cache miss never implies duplicate-free.
func (c *Cache) KnownDuplicate(ctx context.Context, feedID, messageID string) (known bool, ok bool) {
	if c == nil || c.client == nil {
		return false, false
	}
	n, err := c.client.Exists(ctx, c.key(feedID, messageID)).Result()
	if err != nil {
		return false, false
	}
	return n > 0, n > 0
}

// MarkDuplicate records that the Store has confirmed messageID as a
// duplicate in feedID, for the cache's TTL window. Errors are swallowed: a
// failed write here only costs a future cache miss, never correctness.
func (c *Cache) MarkDuplicate(ctx context.Context, feedID, messageID string) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Set(ctx, c.key(feedID, messageID), "1", c.ttl)
}

// Close releases the underlying Redis connection.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
