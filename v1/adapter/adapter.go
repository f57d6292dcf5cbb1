package adapter

import (
	"context"
	"errors"
	"sort"
	"sync"

	redis "github.com/redis/go-redis/v9"

	lcerrors "github.com/mirkobrombin/go-lrucache/v1/errors"
)

// Store is a key/value source a cache can load from.
//
// T represents the type of values stored in the adapter.
type Store[T any] interface {
	// Get retrieves the value for a key from the storage.
	// The boolean return indicates whether the key was found.
	Get(ctx context.Context, key string) (T, bool, error)
	// Set stores the value for a key into the storage.
	Set(ctx context.Context, key string, value T) error
	// Keys returns the keys available in the store. Warmup uses it to
	// prefill a cache.
	Keys(ctx context.Context) ([]string, error)
}

// InMemoryStore is a simple Store implementation backed by a map.
type InMemoryStore[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// NewInMemoryStore returns a new InMemoryStore.
func NewInMemoryStore[T any]() *InMemoryStore[T] {
	return &InMemoryStore[T]{items: make(map[string]T)}
}

// Get implements Store.Get.
func (s *InMemoryStore[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := ctxErr(ctx); err != nil {
		return zero, false, err
	}
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return zero, false, nil
	}
	return v, true, nil
}

// Set implements Store.Set.
func (s *InMemoryStore[T]) Set(ctx context.Context, key string, value T) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
	return nil
}

// Keys implements Store.Keys. Keys are returned sorted.
func (s *InMemoryStore[T]) Keys(ctx context.Context) ([]string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

// ctxErr returns the mapped context error, if any.
func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return mapErr(err)
	}
	return nil
}

// mapErr translates backend errors into the package sentinels.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return lcerrors.ErrTimeout
	case errors.Is(err, redis.ErrClosed):
		return lcerrors.ErrConnectionClosed
	default:
		return err
	}
}
