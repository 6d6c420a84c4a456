// Package rendercache stores rendered userpage HTML in Redis, keyed by a
// digest of the BBCode source and the renderer version.
package rendercache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "userpage:html:"

	// DefaultTTL is how long rendered HTML stays cached.
	DefaultTTL = 10 * time.Minute
)

// Connect parses a redis:// URL and pings the server before returning.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// Cache is a read-through cache for rendered HTML. A nil *Cache is valid
// and never caches. Redis errors are logged and treated as misses.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	version string
	logger  *slog.Logger
}

// New wraps client. Changing version invalidates every existing entry.
func New(client *redis.Client, version string, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, version: version, logger: logger}
}

// Key returns the cache key for src rendered by the given version.
func Key(version, src string) string {
	h := sha256.New()
	h.Write([]byte(version))
	h.Write([]byte{0})
	h.Write([]byte(src))
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached HTML for src.
func (c *Cache) Get(ctx context.Context, src string) (string, bool) {
	if c == nil {
		return "", false
	}

	key := Key(c.version, src)
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		c.logger.WarnContext(ctx, "render cache get failed", slog.String("key", key), slog.String("error", err.Error()))
		return "", false
	}
	return val, true
}

// Set stores html for src.
func (c *Cache) Set(ctx context.Context, src, html string) {
	if c == nil {
		return
	}

	key := Key(c.version, src)
	if err := c.client.Set(ctx, key, html, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "render cache set failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// GetOrRender returns the cached HTML for src, or renders and stores it.
// hit reports whether the value came from the cache.
func (c *Cache) GetOrRender(ctx context.Context, src string, render func(string) string) (html string, hit bool) {
	if html, ok := c.Get(ctx, src); ok {
		return html, true
	}

	html = render(src)
	c.Set(ctx, src, html)
	return html, false
}

// Ping reports whether Redis is reachable. A nil cache is always healthy.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
