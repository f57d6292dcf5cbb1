package cache

import (
	"context"
	"strconv"
	"testing"
)

// benchmarkPut measures Put performance with a steady eviction rate.
func benchmarkPut(b *testing.B, c *Cache[string, string]) {
	ctx := context.Background()
	keys := make([]string, 4096)
	for i := range keys {
		keys[i] = strconv.Itoa(i)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Put(ctx, keys[i%len(keys)], "val")
	}
}

// benchmarkGet measures Get performance on a hot key.
func benchmarkGet(b *testing.B, c *Cache[string, string]) {
	ctx := context.Background()
	c.Put(ctx, "key", "val")
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok := c.Get(ctx, "key"); !ok {
			b.Fatalf("get failed")
		}
	}
}

func newBenchCache(b *testing.B, opts ...Option[string, string]) *Cache[string, string] {
	b.Helper()
	c, err := New(opts...)
	if err != nil {
		b.Fatalf("new cache: %v", err)
	}
	b.Cleanup(c.Close)
	return c
}

func BenchmarkCachePut(b *testing.B) {
	benchmarkPut(b, newBenchCache(b, WithMaxCapacity[string, string](1024)))
}

func BenchmarkCacheGet(b *testing.B) {
	benchmarkGet(b, newBenchCache(b, WithMaxCapacity[string, string](1024)))
}

func BenchmarkCacheGetParallel(b *testing.B) {
	c := newBenchCache(b, WithMaxCapacity[string, string](1024))
	ctx := context.Background()
	for i := 0; i < 1024; i++ {
		c.Put(ctx, strconv.Itoa(i), "val")
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			c.Get(ctx, strconv.Itoa(i%1024))
			i++
		}
	})
}

func BenchmarkCacheLoad(b *testing.B) {
	c := newBenchCache(b,
		WithMaxCapacity[string, string](64),
		WithLoaderFunc[string, string](func(_ context.Context, k string) (string, error) {
			return k, nil
		}),
	)
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get(ctx, strconv.Itoa(i))
	}
}
