package whitelist_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/storefront-auth/token/whitelist"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type backend struct {
	name    string
	wl      whitelist.Whitelist
	advance func(time.Duration)
}

func setupBackends(t *testing.T) []backend {
	t.Helper()

	memClock := &clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	mem := whitelist.NewInMemory(whitelist.WithNowFunc(memClock.Now))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	redisClock := &clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	rw := whitelist.NewRedis(rdb, whitelist.WithPrefix("test:wl:"), whitelist.WithRedisNowFunc(redisClock.Now))

	return []backend{
		{name: "memory", wl: mem, advance: memClock.Advance},
		{name: "redis", wl: rw, advance: func(d time.Duration) {
			redisClock.Advance(d)
			mr.FastForward(d)
		}},
	}
}

func TestWhitelist(t *testing.T) {
	ctx := context.Background()

	for _, b := range setupBackends(t) {
		t.Run(b.name, func(t *testing.T) {
			base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

			t.Run("set then get", func(t *testing.T) {
				require.NoError(t, b.wl.Set(ctx, "r1", "token-a", base.Add(10*time.Minute)))
				entry, ok := b.wl.TryGet(ctx, "r1")
				require.True(t, ok)
				require.Equal(t, "token-a", entry.Token)
				require.True(t, entry.ExpiresAt.Equal(base.Add(10*time.Minute)))
			})

			t.Run("set replaces existing entry", func(t *testing.T) {
				require.NoError(t, b.wl.Set(ctx, "r1", "token-b", base.Add(20*time.Minute)))
				entry, ok := b.wl.TryGet(ctx, "r1")
				require.True(t, ok)
				require.Equal(t, "token-b", entry.Token)
			})

			t.Run("unknown id not found", func(t *testing.T) {
				_, ok := b.wl.TryGet(ctx, "missing")
				require.False(t, ok)
			})

			t.Run("remove is idempotent", func(t *testing.T) {
				require.NoError(t, b.wl.Set(ctx, "r2", "token-c", base.Add(time.Hour)))
				require.NoError(t, b.wl.Remove(ctx, "r2"))
				require.NoError(t, b.wl.Remove(ctx, "r2"))
				_, ok := b.wl.TryGet(ctx, "r2")
				require.False(t, ok)
			})

			t.Run("past expiry is never stored", func(t *testing.T) {
				require.NoError(t, b.wl.Set(ctx, "r3", "token-d", base.Add(time.Hour)))
				require.NoError(t, b.wl.Set(ctx, "r3", "token-e", base.Add(-time.Second)))
				_, ok := b.wl.TryGet(ctx, "r3")
				require.False(t, ok)
			})

			t.Run("entry expires", func(t *testing.T) {
				require.NoError(t, b.wl.Set(ctx, "r4", "token-f", base.Add(30*time.Minute)))
				b.advance(29 * time.Minute)
				_, ok := b.wl.TryGet(ctx, "r4")
				require.True(t, ok)

				b.advance(2 * time.Minute)
				_, ok = b.wl.TryGet(ctx, "r4")
				require.False(t, ok)
			})

			t.Run("clear removes everything", func(t *testing.T) {
				now := base.Add(31 * time.Minute)
				require.NoError(t, b.wl.Set(ctx, "r5", "x", now.Add(time.Hour)))
				require.NoError(t, b.wl.Set(ctx, "r6", "y", now.Add(time.Hour)))
				require.NoError(t, b.wl.Clear(ctx))
				_, ok := b.wl.TryGet(ctx, "r5")
				require.False(t, ok)
				_, ok = b.wl.TryGet(ctx, "r6")
				require.False(t, ok)
			})
		})
	}
}

func TestInMemoryCleanup(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	wl := whitelist.NewInMemory(whitelist.WithNowFunc(c.Now))

	require.NoError(t, wl.Set(ctx, "short", "a", c.Now().Add(time.Minute)))
	require.NoError(t, wl.Set(ctx, "long", "b", c.Now().Add(time.Hour)))
	require.Equal(t, 2, wl.Len())

	c.Advance(2 * time.Minute)
	require.Equal(t, 1, wl.Cleanup())
	require.Equal(t, 1, wl.Len())

	_, ok := wl.TryGet(ctx, "long")
	require.True(t, ok)
}

func TestInMemoryRunJanitorStopsOnCancel(t *testing.T) {
	wl := whitelist.NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		wl.RunJanitor(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestInMemoryConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	wl := whitelist.NewInMemory()
	expiry := time.Now().Add(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = wl.Set(ctx, "shared", "tok", expiry)
			wl.TryGet(ctx, "shared")
			wl.Cleanup()
		}()
	}
	wg.Wait()

	_, ok := wl.TryGet(ctx, "shared")
	require.True(t, ok)
}

func TestRedisLen(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	wl := whitelist.NewRedis(rdb)
	require.NoError(t, wl.Set(ctx, "a", "x", time.Now().Add(time.Hour)))
	require.NoError(t, wl.Set(ctx, "b", "y", time.Now().Add(time.Hour)))
	require.NoError(t, rdb.Set(ctx, "unrelated", "z", 0).Err())

	require.Equal(t, 2, wl.Len())
}

func TestRedisUnavailableReportsNotFound(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	wl := whitelist.NewRedis(rdb)
	require.NoError(t, wl.Set(context.Background(), "a", "x", time.Now().Add(time.Hour)))
	mr.Close()

	_, ok := wl.TryGet(context.Background(), "a")
	require.False(t, ok)
}
