package cache

import "context"

// Loader produces the value for a key on a cache miss or when the cached
// entry went stale. A returned error means no value is available; the cache
// records the failure and reports the key as absent. A panic inside Load is
// recovered and treated the same way.
type Loader[K comparable, V any] interface {
	Load(ctx context.Context, key K) (V, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Load implements Loader.
func (f LoaderFunc[K, V]) Load(ctx context.Context, key K) (V, error) {
	return f(ctx, key)
}
