package rendercache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client, "v1", ttl, nil), mr
}

func TestKey(t *testing.T) {
	k := Key("v1", "[b]x[/b]")
	assert.True(t, strings.HasPrefix(k, keyPrefix))
	assert.Len(t, strings.TrimPrefix(k, keyPrefix), 64)

	assert.Equal(t, k, Key("v1", "[b]x[/b]"))
	assert.NotEqual(t, k, Key("v2", "[b]x[/b]"))
	assert.NotEqual(t, k, Key("v1", "[b]y[/b]"))
	assert.NotEqual(t, Key("v1", "ab"), Key("v1a", "b"))
}

func TestGetOrRender(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	calls := 0
	render := func(src string) string {
		calls++
		return "<p>" + src + "</p>"
	}

	html, hit := c.GetOrRender(ctx, "hello", render)
	assert.Equal(t, "<p>hello</p>", html)
	assert.False(t, hit)

	html, hit = c.GetOrRender(ctx, "hello", render)
	assert.Equal(t, "<p>hello</p>", html)
	assert.True(t, hit)
	assert.Equal(t, 1, calls)

	key := Key("v1", "hello")
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Minute, mr.TTL(key))

	mr.FastForward(2 * time.Minute)
	_, hit = c.GetOrRender(ctx, "hello", render)
	assert.False(t, hit)
	assert.Equal(t, 2, calls)
}

func TestDefaultTTL(t *testing.T) {
	c, mr := newTestCache(t, 0)
	c.Set(context.Background(), "src", "html")
	assert.Equal(t, DefaultTTL, mr.TTL(Key("v1", "src")))
}

func TestRedisDownIsAMiss(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()
	mr.Close()

	_, ok := c.Get(ctx, "x")
	assert.False(t, ok)

	html, hit := c.GetOrRender(ctx, "x", strings.ToUpper)
	assert.Equal(t, "X", html)
	assert.False(t, hit)
	assert.Error(t, c.Ping(ctx))
}

func TestNilCache(t *testing.T) {
	var c *Cache
	ctx := context.Background()

	_, ok := c.Get(ctx, "x")
	assert.False(t, ok)
	c.Set(ctx, "x", "y")

	html, hit := c.GetOrRender(ctx, "x", strings.ToUpper)
	assert.Equal(t, "X", html)
	assert.False(t, hit)
	assert.NoError(t, c.Ping(ctx))
	assert.NoError(t, c.Close())
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	defer client.Close()

	_, err = Connect(context.Background(), "not-a-url")
	assert.Error(t, err)
}
