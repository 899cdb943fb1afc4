package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/payops/recon/internal/application/recon"
	infraconfig "github.com/payops/recon/internal/infrastructure/config"
)

const (
	keyPrefix      = "recon:"
	scanBatchSize  = 100
	connectTimeout = 5 * time.Second
)

// RedisReadCache caches rendered read-model payloads (overview, stats)
// between sync cycles. Transport errors are absorbed: a broken cache
// degrades to always-miss instead of failing reads.
type RedisReadCache struct {
	client     *redis.Client
	ownsClient bool
	ttl        time.Duration
	logger     *zap.Logger
}

// NewRedisReadCache connects a new client from configuration and
// verifies the connection before returning.
func NewRedisReadCache(cfg *infraconfig.RedisConfig, logger *zap.Logger) (*RedisReadCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisReadCache{
		client:     client,
		ownsClient: true,
		ttl:        cfg.TTL,
		logger:     logger,
	}, nil
}

// NewRedisReadCacheWithClient wraps an existing client, useful when
// sharing a connection pool across components.
func NewRedisReadCacheWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisReadCache {
	return &RedisReadCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Get returns the cached payload for key, or a miss.
func (c *RedisReadCache) Get(ctx context.Context, key string) ([]byte, bool) {
	payload, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Read cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return payload, true
}

// Set stores payload under key with the configured TTL.
func (c *RedisReadCache) Set(ctx context.Context, key string, payload []byte) {
	if err := c.client.Set(ctx, keyPrefix+key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("Read cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// InvalidateAll drops every cached payload. SCAN instead of KEYS so a
// large keyspace cannot block Redis.
func (c *RedisReadCache) InvalidateAll(ctx context.Context) {
	var cursor uint64
	var deleted int64

	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyPrefix+"*", scanBatchSize).Result()
		if err != nil {
			c.logger.Warn("Read cache scan failed", zap.Error(err))
			return
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				c.logger.Warn("Read cache delete failed", zap.Error(err))
				return
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	c.logger.Debug("Read cache invalidated", zap.Int64("deleted", deleted))
}

// Close releases the client when this cache owns it.
func (c *RedisReadCache) Close() error {
	if c.ownsClient {
		return c.client.Close()
	}
	return nil
}

// NoopReadCache is the disabled-cache implementation: every read misses
// and writes vanish. Wired when Redis is not configured.
type NoopReadCache struct{}

// NewNoopReadCache creates a new noop read cache
func NewNoopReadCache() *NoopReadCache {
	return &NoopReadCache{}
}

// Get always misses.
func (NoopReadCache) Get(ctx context.Context, key string) ([]byte, bool) { return nil, false }

// Set discards the payload.
func (NoopReadCache) Set(ctx context.Context, key string, payload []byte) {}

// InvalidateAll does nothing.
func (NoopReadCache) InvalidateAll(ctx context.Context) {}

var (
	_ recon.ReadCache = (*RedisReadCache)(nil)
	_ recon.ReadCache = (*NoopReadCache)(nil)
)
