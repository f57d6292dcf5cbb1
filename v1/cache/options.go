package cache

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	lcerrors "github.com/mirkobrombin/go-lrucache/v1/errors"
)

// DefaultMaxCapacity is the capacity used when none is configured.
const DefaultMaxCapacity = 20

// Config holds the settings of a Cache. It is read once by NewWithConfig
// and never changes afterwards.
type Config[K comparable, V any] struct {
	// MaxCapacity is the maximum number of entries. It must be positive and
	// at most math.MaxInt32.
	MaxCapacity int
	// Expiration is how long an entry may go unaccessed before it is stale.
	// Use NoExpiration for entries that never go stale.
	Expiration time.Duration
	// Loader, when set, is called on misses and stale entries.
	Loader Loader[K, V]
	// RemovalListener, when set, is told about every entry leaving the cache.
	RemovalListener RemovalListener[K]
	// StatsResetInterval, when positive, zeroes the statistics periodically.
	StatsResetInterval time.Duration
	// SweepInterval, when positive, removes stale entries periodically even
	// if they are never read again.
	SweepInterval time.Duration
	// UnlockedLoads runs the Loader without holding the cache lock.
	UnlockedLoads bool

	Clock  Clock
	Stats  *Stats
	Logger *slog.Logger

	// Name identifies the cache in metrics and traces.
	Name            string
	MetricsRegistry prometheus.Registerer
	Tracing         bool
}

// DefaultConfig returns the configuration used by New before options apply.
func DefaultConfig[K comparable, V any]() Config[K, V] {
	return Config[K, V]{
		MaxCapacity: DefaultMaxCapacity,
		Expiration:  NoExpiration,
		Name:        "default",
	}
}

// Validate reports the first invalid setting.
func (c Config[K, V]) Validate() error {
	if c.MaxCapacity <= 0 || c.MaxCapacity > math.MaxInt32 {
		return fmt.Errorf("lrucache: max capacity %d: %w", c.MaxCapacity, lcerrors.ErrInvalidCapacity)
	}
	if c.Expiration <= 0 {
		return fmt.Errorf("lrucache: expiration %v: %w", c.Expiration, lcerrors.ErrInvalidExpiration)
	}
	if c.StatsResetInterval < 0 {
		return fmt.Errorf("lrucache: stats reset interval %v: %w", c.StatsResetInterval, lcerrors.ErrInvalidInterval)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("lrucache: sweep interval %v: %w", c.SweepInterval, lcerrors.ErrInvalidInterval)
	}
	return nil
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Config[K, V])

// WithMaxCapacity sets the maximum number of entries.
func WithMaxCapacity[K comparable, V any](n int) Option[K, V] {
	return func(c *Config[K, V]) {
		c.MaxCapacity = n
	}
}

// WithExpiration sets how long an entry may go unaccessed before it is
// considered stale.
func WithExpiration[K comparable, V any](d time.Duration) Option[K, V] {
	return func(c *Config[K, V]) {
		c.Expiration = d
	}
}

// WithLoader sets the loader used on misses and stale entries.
func WithLoader[K comparable, V any](l Loader[K, V]) Option[K, V] {
	return func(c *Config[K, V]) {
		c.Loader = l
	}
}

// WithLoaderFunc is WithLoader for plain functions.
func WithLoaderFunc[K comparable, V any](fn LoaderFunc[K, V]) Option[K, V] {
	return WithLoader[K, V](fn)
}

// WithRemovalListener sets the callback told about removed entries.
func WithRemovalListener[K comparable, V any](fn RemovalListener[K]) Option[K, V] {
	return func(c *Config[K, V]) {
		c.RemovalListener = fn
	}
}

// WithStatsResetInterval zeroes the statistics every d. A zero duration
// disables the periodic reset.
func WithStatsResetInterval[K comparable, V any](d time.Duration) Option[K, V] {
	return func(c *Config[K, V]) {
		c.StatsResetInterval = d
	}
}

// WithSweepInterval removes stale entries every d. A zero duration disables
// the sweeper and leaves expiration purely lazy.
func WithSweepInterval[K comparable, V any](d time.Duration) Option[K, V] {
	return func(c *Config[K, V]) {
		c.SweepInterval = d
	}
}

// WithUnlockedLoads releases the cache lock while the loader runs.
// Concurrent loads of the same key are collapsed into one call, and a value
// written by Put while the load was in flight takes precedence over the
// loaded one.
func WithUnlockedLoads[K comparable, V any]() Option[K, V] {
	return func(c *Config[K, V]) {
		c.UnlockedLoads = true
	}
}

// WithClock replaces the time source, mostly for tests.
func WithClock[K comparable, V any](clock Clock) Option[K, V] {
	return func(c *Config[K, V]) {
		c.Clock = clock
	}
}

// WithStats makes the cache record into s instead of private counters.
func WithStats[K comparable, V any](s *Stats) Option[K, V] {
	return func(c *Config[K, V]) {
		c.Stats = s
	}
}

// WithLogger sets the logger. The default is slog.Default.
func WithLogger[K comparable, V any](l *slog.Logger) Option[K, V] {
	return func(c *Config[K, V]) {
		c.Logger = l
	}
}

// WithName names the cache in metrics and traces.
func WithName[K comparable, V any](name string) Option[K, V] {
	return func(c *Config[K, V]) {
		c.Name = name
	}
}

// WithMetrics enables Prometheus metrics collection using the provided registerer.
func WithMetrics[K comparable, V any](reg prometheus.Registerer) Option[K, V] {
	return func(c *Config[K, V]) {
		c.MetricsRegistry = reg
	}
}

// WithTracing enables OpenTelemetry tracing for cache operations.
func WithTracing[K comparable, V any]() Option[K, V] {
	return func(c *Config[K, V]) {
		c.Tracing = true
	}
}
