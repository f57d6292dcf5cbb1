package adapter

import (
	"context"
	"fmt"

	"github.com/mirkobrombin/go-lrucache/v1/cache"
	lcerrors "github.com/mirkobrombin/go-lrucache/v1/errors"
)

// Loader turns a Store into a cache loader. A key missing from the store
// fails the load with ErrNotFound so the cache reports it as absent.
func Loader[T any](s Store[T]) cache.Loader[string, T] {
	return cache.LoaderFunc[string, T](func(ctx context.Context, key string) (T, error) {
		v, ok, err := s.Get(ctx, key)
		if err != nil {
			return v, fmt.Errorf("adapter: load %q: %w", key, err)
		}
		if !ok {
			return v, fmt.Errorf("adapter: load %q: %w", key, lcerrors.ErrNotFound)
		}
		return v, nil
	})
}

// Warmup copies up to limit keys from s into c and returns how many it
// stored. A limit <= 0 copies every key; the cache still only keeps as many
// as its capacity allows.
func Warmup[T any](ctx context.Context, c *cache.Cache[string, T], s Store[T], limit int) (int, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("adapter: warmup: %w", err)
	}
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	n := 0
	for _, k := range keys {
		v, ok, err := s.Get(ctx, k)
		if err != nil {
			return n, fmt.Errorf("adapter: warmup %q: %w", k, err)
		}
		if !ok {
			continue
		}
		c.Put(ctx, k, v)
		n++
	}
	return n, nil
}
