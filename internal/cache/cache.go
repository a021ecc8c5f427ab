package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iiifstudio/backend/internal/logger"
)

// Cache is a redis-backed manifest body cache. Manifests change rarely
// and are fetched repeatedly (preview, submit, retry), so a short TTL
// saves a lot of polite-crawler round trips.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// New connects to redis at addr. ttl <= 0 defaults to one hour.
func New(addr string, ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Cache{
		client: client,
		ttl:    ttl,
		log:    logger.Default().WithComponent("cache"),
	}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Client exposes the underlying redis client for health checks
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Get implements manifest.Cache
func (c *Cache) Get(ctx context.Context, url string) ([]byte, bool) {
	val, err := c.client.Get(ctx, cacheKey(url)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.log.Warn(ctx, "cache read failed", map[string]interface{}{
			"url":   url,
			"error": err.Error(),
		})
		return nil, false
	}
	return val, true
}

// Set implements manifest.Cache. Failures are logged and swallowed so
// a degraded redis never affects downloads.
func (c *Cache) Set(ctx context.Context, url string, body []byte) {
	if err := c.client.Set(ctx, cacheKey(url), body, c.ttl).Err(); err != nil {
		c.log.Warn(ctx, "cache write failed", map[string]interface{}{
			"url":   url,
			"error": err.Error(),
		})
	}
}

// Ping reports cache health
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func cacheKey(url string) string {
	return "manifest:" + url
}
