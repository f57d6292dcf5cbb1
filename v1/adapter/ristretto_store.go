package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// ErrKeysUnsupported is returned by stores that cannot enumerate their keys.
var ErrKeysUnsupported = errors.New("adapter: store cannot list keys")

// RistrettoStore is a Store backed by a ristretto cache. It is meant as a
// large, admission-controlled second tier behind a small LRU: values that
// fell out of the LRU can be loaded back from here.
//
// Ristretto may drop writes under contention, so a Set is not guaranteed
// to be visible to a later Get.
type RistrettoStore[T any] struct {
	c    *ristretto.Cache
	ttl  time.Duration
	cost func(T) int64
}

// RistrettoOption configures a RistrettoStore.
type RistrettoOption[T any] func(*ristrettoStoreOptions[T])

type ristrettoStoreOptions[T any] struct {
	cfg  ristretto.Config
	ttl  time.Duration
	cost func(T) int64
}

// WithRistrettoConfig replaces the ristretto configuration.
func WithRistrettoConfig[T any](cfg ristretto.Config) RistrettoOption[T] {
	return func(o *ristrettoStoreOptions[T]) {
		o.cfg = cfg
	}
}

// WithRistrettoTTL bounds how long values stay in the store. Zero keeps
// them until ristretto evicts them.
func WithRistrettoTTL[T any](ttl time.Duration) RistrettoOption[T] {
	return func(o *ristrettoStoreOptions[T]) {
		o.ttl = ttl
	}
}

// WithRistrettoCost sets the cost function. By default every value costs 1,
// so MaxCost is an entry count.
func WithRistrettoCost[T any](fn func(T) int64) RistrettoOption[T] {
	return func(o *ristrettoStoreOptions[T]) {
		o.cost = fn
	}
}

// NewRistrettoStore returns a RistrettoStore. The default configuration
// holds about 100k entries.
func NewRistrettoStore[T any](opts ...RistrettoOption[T]) (*RistrettoStore[T], error) {
	o := ristrettoStoreOptions[T]{
		cfg: ristretto.Config{
			NumCounters:        1e6,
			MaxCost:            1e5,
			BufferItems:        64,
			IgnoreInternalCost: true,
		},
		cost: func(T) int64 { return 1 },
	}
	for _, opt := range opts {
		opt(&o)
	}
	rc, err := ristretto.NewCache(&o.cfg)
	if err != nil {
		return nil, fmt.Errorf("adapter: ristretto: %w", err)
	}
	return &RistrettoStore[T]{c: rc, ttl: o.ttl, cost: o.cost}, nil
}

// Get implements Store.Get.
func (s *RistrettoStore[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := ctxErr(ctx); err != nil {
		return zero, false, err
	}
	v, ok := s.c.Get(key)
	if !ok {
		return zero, false, nil
	}
	val, _ := v.(T)
	return val, true, nil
}

// Set implements Store.Set. It waits for ristretto's write buffer so the
// value is readable once Set returns, unless admission rejected it.
func (s *RistrettoStore[T]) Set(ctx context.Context, key string, value T) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.c.SetWithTTL(key, value, s.cost(value), s.ttl)
	s.c.Wait()
	return nil
}

// Keys always fails: ristretto only keeps key hashes.
func (s *RistrettoStore[T]) Keys(context.Context) ([]string, error) {
	return nil, ErrKeysUnsupported
}

// Close releases the ristretto goroutines.
func (s *RistrettoStore[T]) Close() {
	s.c.Close()
}
