package device

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// BlockCache remembers users known to be blocked. The repository stays authoritative:
// the cache answers only when a repository read fails, and an entry the repository
// contradicts is evicted.
type BlockCache interface {
	IsBlocked(ctx context.Context, userID uuid.UUID) (bool, error)
	MarkBlocked(ctx context.Context, userID uuid.UUID) error
	Clear(ctx context.Context, userID uuid.UUID) error
}

// NoOpBlockCache never remembers anything
type NoOpBlockCache struct{}

func (NoOpBlockCache) IsBlocked(ctx context.Context, userID uuid.UUID) (bool, error) {
	return false, nil
}
func (NoOpBlockCache) MarkBlocked(ctx context.Context, userID uuid.UUID) error { return nil }
func (NoOpBlockCache) Clear(ctx context.Context, userID uuid.UUID) error       { return nil }

const (
	blockedKeyPrefix       = "device:blocked:"
	DefaultBlockedCacheTTL = 24 * time.Hour
)

// RedisBlockCache stores blocked-user flags with a TTL
type RedisBlockCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBlockCache creates a blocked-user cache backed by redis
func NewRedisBlockCache(client *redis.Client, ttl time.Duration) *RedisBlockCache {
	if ttl <= 0 {
		ttl = DefaultBlockedCacheTTL
	}
	return &RedisBlockCache{client: client, ttl: ttl}
}

func (c *RedisBlockCache) IsBlocked(ctx context.Context, userID uuid.UUID) (bool, error) {
	n, err := c.client.Exists(ctx, blockedKeyPrefix+userID.String()).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisBlockCache) MarkBlocked(ctx context.Context, userID uuid.UUID) error {
	return c.client.Set(ctx, blockedKeyPrefix+userID.String(), "1", c.ttl).Err()
}

func (c *RedisBlockCache) Clear(ctx context.Context, userID uuid.UUID) error {
	return c.client.Del(ctx, blockedKeyPrefix+userID.String()).Err()
}

// ConnectRedis initializes a redis client from a redis:// URL or host:port
func ConnectRedis(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, err
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}
