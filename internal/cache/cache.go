package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/postcraft/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrCacheMiss = errors.New("cache miss")

const keyPrefix = "postcraft:"

// Cache is a JSON lookaside cache backed by Redis, or by an in-memory TTL
// map when Redis is not reachable.
type Cache struct {
	client *redis.Client
	mem    *memoryStore

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

func New(addr string, sweepInterval time.Duration, logger *zap.SugaredLogger, m *metrics.Metrics) *Cache {
	if addr == "" {
		return NewMemory(sweepInterval, logger, m)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warnw("redis unavailable; using in-memory cache", "addr", addr, "error", err)
		_ = client.Close()
		return NewMemory(sweepInterval, logger, m)
	}

	return &Cache{client: client, logger: logger, metrics: m}
}

func NewMemory(sweepInterval time.Duration, logger *zap.SugaredLogger, m *metrics.Metrics) *Cache {
	return &Cache{
		mem:     newMemoryStore(sweepInterval, time.Now),
		logger:  logger,
		metrics: m,
	}
}

func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	data, err := c.get(ctx, keyPrefix+key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			c.metrics.RecordCache(false)
		}
		return err
	}
	c.metrics.RecordCache(true)

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

func (c *Cache) get(ctx context.Context, key string) ([]byte, error) {
	if c.client != nil {
		val, err := c.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, ErrCacheMiss
			}
			c.logger.Errorw("cache get error", "key", key, "error", err)
			return nil, fmt.Errorf("cache get error: %w", err)
		}
		return val, nil
	}
	return c.mem.get(key)
}

func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}

	if c.client != nil {
		if err := c.client.Set(ctx, keyPrefix+key, data, ttl).Err(); err != nil {
			c.logger.Errorw("cache set error", "key", key, "error", err)
			return fmt.Errorf("cache set error: %w", err)
		}
		return nil
	}
	c.mem.set(keyPrefix+key, data, ttl)
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = keyPrefix + k
	}

	if c.client != nil {
		if err := c.client.Del(ctx, prefixed...).Err(); err != nil {
			return fmt.Errorf("cache delete error: %w", err)
		}
		return nil
	}
	c.mem.delete(prefixed...)
	return nil
}

func (c *Cache) IsInMemoryMode() bool {
	return c.client == nil
}

func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	c.mem.close()
	return nil
}

// GetOrSet returns the cached value for key, or calls load and caches its
// result for ttl. Cache failures other than a miss fall through to load.
func GetOrSet[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var cached T
	err := c.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warnw("cache read failed; loading from source", "key", key, "error", err)
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}

	if err := c.Set(ctx, key, value, ttl); err != nil {
		c.logger.Warnw("cache write failed", "key", key, "error", err)
	}
	return value, nil
}
