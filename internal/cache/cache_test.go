package cache

import (
	"context"
	"errors"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/config"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(config.CacheConfig{Backend: "memory", MaxEntries: 128}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoryStore_SetGetExpire(t *testing.T) {
	store := newMemoryStore(16, time.Minute)
	ctx := context.Background()

	store.Set(ctx, "k1", []byte("v1"), 30*time.Millisecond)
	got, ok := store.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), got)

	time.Sleep(50 * time.Millisecond)
	_, ok = store.Get(ctx, "k1")
	assert.False(t, ok, "entry must expire after its TTL")
}

func TestMemoryStore_DeletePrefix(t *testing.T) {
	store := newMemoryStore(16, time.Minute)
	ctx := context.Background()

	store.Set(ctx, "entities:a", []byte("1"), time.Minute)
	store.Set(ctx, "entities:b", []byte("2"), time.Minute)
	store.Set(ctx, "overview:a", []byte("3"), time.Minute)

	removed := store.DeletePrefix(ctx, "entities:")
	assert.Equal(t, 2, removed)

	_, ok := store.Get(ctx, "entities:a")
	assert.False(t, ok)
	_, ok = store.Get(ctx, "overview:a")
	assert.True(t, ok)
}

func TestMemoryStore_EvictsAtCapacity(t *testing.T) {
	store := newMemoryStore(2, time.Minute)
	ctx := context.Background()

	store.Set(ctx, "a", []byte("1"), time.Minute)
	store.Set(ctx, "b", []byte("2"), time.Minute)
	store.Set(ctx, "c", []byte("3"), time.Minute)

	_, okA := store.Get(ctx, "a")
	_, okC := store.Get(ctx, "c")
	assert.False(t, okA, "oldest entry evicted")
	assert.True(t, okC)
}

func TestGetOrFill_MissThenHit(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()
	fills := 0

	fill := func(context.Context) ([]byte, error) {
		fills++
		return []byte("payload"), nil
	}

	got, hit, err := c.GetOrFill(ctx, ClassEntities, "campaigns?range=last-30-days", fill)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []byte("payload"), got)

	got, hit, err = c.GetOrFill(ctx, ClassEntities, "campaigns?range=last-30-days", fill)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []byte("payload"), got)
	assert.Equal(t, 1, fills)
}

func TestGetOrFill_PropagatesFillError(t *testing.T) {
	c := testCache(t)
	boom := errors.New("db down")

	_, _, err := c.GetOrFill(context.Background(), ClassOverview, "overview", func(context.Context) ([]byte, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	// A failed fill must not poison the cache.
	got, hit, err := c.GetOrFill(context.Background(), ClassOverview, "overview", func(context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []byte("ok"), got)
}

func TestGetOrFill_CoalescesConcurrentMisses(t *testing.T) {
	c := testCache(t)
	var fills atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	fill := func(context.Context) ([]byte, error) {
		fills.Add(1)
		close(started)
		<-release
		return []byte("slow"), nil
	}
	fastFill := func(context.Context) ([]byte, error) {
		fills.Add(1)
		return []byte("slow"), nil
	}

	var wg stdsync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, _ = c.GetOrFill(context.Background(), ClassAnalytics, "ts:m1", fill)
	}()
	<-started

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, _, err := c.GetOrFill(context.Background(), ClassAnalytics, "ts:m1", fastFill)
			assert.NoError(t, err)
			assert.Equal(t, []byte("slow"), got)
		}()
	}
	time.Sleep(20 * time.Millisecond) // let the followers queue on singleflight
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fills.Load(), "concurrent misses share one fill")
}

func TestInvalidateForEntity(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	c.Put(ctx, ClassOverview, "overview", []byte("o"))
	c.Put(ctx, ClassEntities, "campaigns", []byte("c"))
	c.Put(ctx, ClassAnalytics, "ts:m1", []byte("a"))

	c.InvalidateForEntity(ctx, "campaigns")
	_, hitOverview, _ := c.GetOrFill(ctx, ClassOverview, "overview", fillConst("x"))
	assert.False(t, hitOverview)
	got, hitAnalytics, _ := c.GetOrFill(ctx, ClassAnalytics, "ts:m1", fillConst("x"))
	assert.True(t, hitAnalytics, "campaign sync leaves analytics entries alone")
	assert.Equal(t, []byte("a"), got)

	c.InvalidateForEntity(ctx, "events")
	_, hitAnalytics, _ = c.GetOrFill(ctx, ClassAnalytics, "ts:m1", fillConst("x"))
	assert.False(t, hitAnalytics, "event sync drops analytics entries")
}

func fillConst(s string) func(context.Context) ([]byte, error) {
	return func(context.Context) ([]byte, error) { return []byte(s), nil }
}

func TestRedisStore_RoundTripAndPrefix(t *testing.T) {
	srv := miniredis.RunT(t)
	store, err := newRedisStore(config.CacheConfig{Backend: "redis", RedisAddr: srv.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	store.Set(ctx, "entities:a", []byte("1"), time.Minute)
	store.Set(ctx, "overview:a", []byte("2"), time.Minute)

	got, ok := store.Get(ctx, "entities:a")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), got)

	removed := store.DeletePrefix(ctx, "entities:")
	assert.Equal(t, 1, removed)
	_, ok = store.Get(ctx, "entities:a")
	assert.False(t, ok)
	_, ok = store.Get(ctx, "overview:a")
	assert.True(t, ok)
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	srv := miniredis.RunT(t)
	store, err := newRedisStore(config.CacheConfig{Backend: "redis", RedisAddr: srv.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	store.Set(ctx, "k", []byte("v"), time.Second)
	srv.FastForward(2 * time.Second)
	_, ok := store.Get(ctx, "k")
	assert.False(t, ok)
}

func TestWriteBackQueue_RunsTasks(t *testing.T) {
	q := NewWriteBackQueue(1, 8, zap.NewNop())
	q.Start(context.Background())

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		require.True(t, q.Enqueue(func(context.Context) { ran.Add(1) }))
	}
	require.True(t, q.Drain(time.Second))
	assert.Equal(t, int32(5), ran.Load())
}

func TestWriteBackQueue_DropsOnOverflow(t *testing.T) {
	q := NewWriteBackQueue(1, 1, zap.NewNop())
	// Not started: the single slot fills, the second enqueue drops.
	assert.True(t, q.Enqueue(func(context.Context) {}))
	assert.False(t, q.Enqueue(func(context.Context) {}))
}

func TestWriteBackQueue_RecoversFromPanic(t *testing.T) {
	q := NewWriteBackQueue(1, 8, zap.NewNop())
	q.Start(context.Background())

	var ran atomic.Int32
	q.Enqueue(func(context.Context) { panic("task blew up") })
	q.Enqueue(func(context.Context) { ran.Add(1) })

	require.True(t, q.Drain(time.Second))
	assert.Equal(t, int32(1), ran.Load(), "worker survives a panicking task")
}
