package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	lcerrors "github.com/mirkobrombin/go-lrucache/v1/errors"
	"github.com/mirkobrombin/go-lrucache/v1/maintenance"
	"github.com/mirkobrombin/go-lrucache/v1/metrics"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-lrucache/v1/cache")

// Results reported on spans.
const (
	resultHit        = "hit"
	resultMiss       = "miss"
	resultExpired    = "expired"
	resultLoaded     = "loaded"
	resultReloaded   = "reloaded"
	resultLoadFailed = "load_failed"
	resultStored     = "stored"
	resultRemoved    = "removed"
)

// Cache is a bounded, concurrency-safe LRU cache with lazy expiration and
// optional read-through loading.
//
// Every operation runs under a single mutex: lookups move entries in the
// recency index, so there is no read-only path.
type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	index map[K]handle
	order *recencyIndex[K, V]
	seq   uint64

	capacity  int
	policy    ExpirationPolicy
	loader    Loader[K, V]
	onRemoval RemovalListener[K]
	clock     Clock
	stats     *Stats
	logger    *slog.Logger

	name         string
	metrics      *metrics.CacheMetrics
	traceEnabled bool

	unlockedLoads bool
	loads         singleflight.Group
	// flights maps keys with a load in progress to their singleflight token.
	flights   map[K]string
	flightSeq uint64

	runner    *maintenance.Runner
	closeOnce sync.Once
}

// New returns a Cache configured by opts on top of DefaultConfig.
func New[K comparable, V any](opts ...Option[K, V]) (*Cache[K, V], error) {
	cfg := DefaultConfig[K, V]()
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig returns a Cache for cfg, or an error if cfg is invalid.
//
// When cfg asks for periodic statistics resets or sweeps, the cache starts
// background goroutines for them; call Close to stop them.
func NewWithConfig[K comparable, V any](cfg Config[K, V]) (*Cache[K, V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Cache[K, V]{
		index:         make(map[K]handle, min(cfg.MaxCapacity, maxPrealloc)),
		order:         newRecencyIndex[K, V](cfg.MaxCapacity),
		capacity:      cfg.MaxCapacity,
		policy:        ExpireAfterAccess(cfg.Expiration),
		loader:        cfg.Loader,
		onRemoval:     cfg.RemovalListener,
		clock:         cfg.Clock,
		stats:         cfg.Stats,
		logger:        cfg.Logger,
		name:          cfg.Name,
		traceEnabled:  cfg.Tracing,
		unlockedLoads: cfg.UnlockedLoads,
		flights:       make(map[K]string),
	}
	if c.clock == nil {
		c.clock = systemClock
	}
	if c.stats == nil {
		c.stats = NewStats()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if cfg.MetricsRegistry != nil {
		m, err := metrics.NewCacheMetrics(cfg.MetricsRegistry, c.name, func() float64 {
			return float64(c.Size())
		})
		if err != nil {
			return nil, fmt.Errorf("lrucache: %w", err)
		}
		c.metrics = m
	}
	if err := c.startMaintenance(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache[K, V]) startMaintenance(cfg Config[K, V]) error {
	if cfg.StatsResetInterval <= 0 && cfg.SweepInterval <= 0 {
		return nil
	}
	c.runner = maintenance.NewRunner(c.logger)
	var jobs []maintenance.Job
	if cfg.StatsResetInterval > 0 {
		jobs = append(jobs, maintenance.Job{
			Name:     c.name + "/stats-reset",
			Interval: cfg.StatsResetInterval,
			Run:      func(context.Context) { c.ResetStats() },
		})
	}
	if cfg.SweepInterval > 0 {
		jobs = append(jobs, maintenance.Job{
			Name:     c.name + "/sweep",
			Interval: cfg.SweepInterval,
			Run:      func(context.Context) { c.Sweep() },
		})
	}
	for _, job := range jobs {
		if err := c.runner.Schedule(job); err != nil {
			c.runner.Stop()
			return fmt.Errorf("lrucache: %w", err)
		}
	}
	return nil
}

// Put stores value under key and marks it as the most recently used entry.
// Overwriting an existing key counts as neither hit nor miss. If the insert
// grows the cache past its capacity, the least recently used entry is
// evicted.
func (c *Cache[K, V]) Put(ctx context.Context, key K, value V) {
	_, done := c.startOp(ctx, "Cache.Put", "put")
	c.mu.Lock()
	defer func() {
		c.mu.Unlock()
		done(resultStored)
	}()
	c.put(key, value, c.clock.Now())
}

// Get returns the value for key. The boolean is false when the key is
// absent, stale with no way to reload it, or the loader failed.
//
// ctx is handed to the loader; Get itself never aborts on cancellation.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, bool) {
	ctx, done := c.startOp(ctx, "Cache.Get", "get")
	var (
		v      V
		ok     bool
		result string
	)
	defer func() { done(result) }()
	if c.unlockedLoads {
		v, ok, result = c.getUnlocked(ctx, key)
	} else {
		v, ok, result = c.getLocked(ctx, key)
	}
	return v, ok
}

func (c *Cache[K, V]) getLocked(ctx context.Context, key K) (V, bool, string) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	h, ok := c.index[key]
	if !ok {
		c.recordMiss(false)
		if c.loader == nil {
			c.recordNoLoader()
			return zero, false, resultMiss
		}
		v, err := c.load(ctx, key)
		if err != nil {
			return zero, false, resultLoadFailed
		}
		c.put(key, v, c.clock.Now())
		return v, true, resultLoaded
	}

	e := c.order.at(h)
	if c.policy.Expired(e.lastAccess, now) {
		c.recordMiss(true)
		if c.loader == nil {
			c.remove(h, RemovalExpired)
			return zero, false, resultExpired
		}
		v, err := c.load(ctx, key)
		if err != nil {
			c.remove(h, RemovalExpired)
			return zero, false, resultLoadFailed
		}
		c.refresh(h, v, c.clock.Now())
		return v, true, resultReloaded
	}

	c.stats.recordHit()
	c.metrics.Hit()
	e.lastAccess = now
	c.order.moveToBack(h)
	return e.value, true, resultHit
}

// getUnlocked is Get for caches built WithUnlockedLoads. The loader runs
// outside the lock; afterwards the entry is looked up again and a value
// written in the meantime wins over the loaded one.
func (c *Cache[K, V]) getUnlocked(ctx context.Context, key K) (V, bool, string) {
	var zero V
	c.mu.Lock()
	now := c.clock.Now()
	h, present := c.index[key]
	var seen uint64
	if present {
		e := c.order.at(h)
		if !c.policy.Expired(e.lastAccess, now) {
			c.stats.recordHit()
			c.metrics.Hit()
			e.lastAccess = now
			c.order.moveToBack(h)
			v := e.value
			c.mu.Unlock()
			return v, true, resultHit
		}
		seen = e.seq
	}
	c.recordMiss(present)
	if c.loader == nil {
		result := resultMiss
		if present {
			c.remove(h, RemovalExpired)
			result = resultExpired
		} else {
			c.recordNoLoader()
		}
		c.mu.Unlock()
		return zero, false, result
	}
	token := c.flightToken(key)
	c.mu.Unlock()

	// Concurrent callers for the same key share one loader call, made with
	// the context of the first caller.
	res, err, _ := c.loads.Do(token, func() (any, error) {
		v, err := c.load(ctx, key)
		c.mu.Lock()
		if c.flights[key] == token {
			delete(c.flights, key)
		}
		c.mu.Unlock()
		return v, err
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	now = c.clock.Now()
	h, ok := c.index[key]
	if ok {
		e := c.order.at(h)
		written := !present || e.seq != seen
		if written && !c.policy.Expired(e.lastAccess, now) {
			e.lastAccess = now
			c.order.moveToBack(h)
			return e.value, true, resultLoaded
		}
	}
	if err != nil {
		if ok && present && c.order.at(h).seq == seen {
			c.remove(h, RemovalExpired)
		}
		return zero, false, resultLoadFailed
	}
	v, _ := res.(V)
	c.put(key, v, now)
	if present {
		return v, true, resultReloaded
	}
	return v, true, resultLoaded
}

// Invalidate removes key and reports whether it was present. Explicit
// removals are not counted as evictions.
func (c *Cache[K, V]) Invalidate(ctx context.Context, key K) bool {
	_, done := c.startOp(ctx, "Cache.Invalidate", "invalidate")
	c.mu.Lock()
	h, ok := c.index[key]
	if ok {
		c.drop(h, RemovalInvalidated)
	}
	c.mu.Unlock()
	if ok {
		done(resultRemoved)
	} else {
		done(resultMiss)
	}
	return ok
}

// Peek returns the value of key without counting a request, refreshing its
// recency or calling the loader. Stale entries are reported as absent.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	e := c.order.at(h)
	if c.policy.Expired(e.lastAccess, c.clock.Now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Size returns the number of cached entries, stale ones included.
func (c *Cache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.len
}

// Keys returns the cached keys from least to most recently used.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]K, 0, c.order.len)
	c.order.each(func(_ handle, e *entry[K, V]) bool {
		keys = append(keys, e.key)
		return true
	})
	return keys
}

// Stats returns a snapshot of the counters.
func (c *Cache[K, V]) Stats() StatsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats.Snapshot()
}

// ResetStats zeroes the counters without touching the entries.
func (c *Cache[K, V]) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Reset()
}

// Reset drops every entry and zeroes the counters. The cache stays usable.
func (c *Cache[K, V]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []K
	if c.onRemoval != nil && c.order.len > 0 {
		removed = make([]K, 0, c.order.len)
		c.order.each(func(_ handle, e *entry[K, V]) bool {
			removed = append(removed, e.key)
			return true
		})
	}
	clear(c.index)
	c.order.reset()
	c.stats.Reset()
	for _, key := range removed {
		c.onRemoval(key, RemovalReset)
	}
}

// Sweep removes every stale entry and returns how many it removed. It is
// the hook used by the periodic sweeper; expiration otherwise only happens
// when a stale key is read.
func (c *Cache[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	// The index is ordered by last access, so the first fresh entry ends the scan.
	for h := c.order.front(); h != nilHandle; h = c.order.front() {
		if !c.policy.Expired(c.order.at(h).lastAccess, now) {
			break
		}
		c.stats.recordExpiration()
		c.metrics.Expiration()
		c.remove(h, RemovalExpired)
		removed++
	}
	if removed > 0 {
		c.logger.Debug("lrucache: swept stale entries", "cache", c.name, "removed", removed)
	}
	return removed
}

// Close stops the background maintenance started by the cache. The cache
// itself keeps working. Close is safe to call more than once.
func (c *Cache[K, V]) Close() {
	c.closeOnce.Do(func() {
		if c.runner != nil {
			c.runner.Stop()
		}
	})
}

// put inserts or overwrites key. The caller holds c.mu.
func (c *Cache[K, V]) put(key K, value V, now time.Time) {
	if h, ok := c.index[key]; ok {
		c.refresh(h, value, now)
		return
	}
	h := c.order.pushBack(key, value, now)
	c.seq++
	c.order.at(h).seq = c.seq
	c.index[key] = h
	if c.order.len > c.capacity {
		c.remove(c.order.front(), RemovalEvicted)
	}
}

// refresh replaces the value in h and makes it the most recent entry.
func (c *Cache[K, V]) refresh(h handle, value V, now time.Time) {
	e := c.order.at(h)
	e.value = value
	e.lastAccess = now
	c.seq++
	e.seq = c.seq
	c.order.moveToBack(h)
}

// remove evicts h, counting it as an eviction.
func (c *Cache[K, V]) remove(h handle, reason RemovalReason) {
	c.stats.recordEviction()
	c.metrics.Eviction()
	c.drop(h, reason)
}

// drop unlinks h from both the lookup table and the recency index and
// notifies the removal listener.
func (c *Cache[K, V]) drop(h handle, reason RemovalReason) {
	key := c.order.at(h).key
	delete(c.index, key)
	c.order.release(h)
	c.logger.Debug("lrucache: entry removed", "cache", c.name, "key", key, "reason", reason.String())
	if c.onRemoval != nil {
		c.onRemoval(key, reason)
	}
}

// flightToken returns the singleflight token of key, starting a new flight
// when none is in progress. Callers hold c.mu.
func (c *Cache[K, V]) flightToken(key K) string {
	if token, ok := c.flights[key]; ok {
		return token
	}
	c.flightSeq++
	token := strconv.FormatUint(c.flightSeq, 10)
	c.flights[key] = token
	return token
}

// load calls the loader and records the outcome. A panicking loader counts
// as a failed load.
func (c *Cache[K, V]) load(ctx context.Context, key K) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero V
			v, err = zero, fmt.Errorf("lrucache: %w: %v", lcerrors.ErrLoaderPanic, r)
			c.stats.recordLoadError()
			c.metrics.Load(false)
			c.logger.Error("lrucache: loader panicked", "cache", c.name, "key", key, "panic", r)
		}
	}()
	v, err = c.loader.Load(ctx, key)
	if err != nil {
		c.stats.recordLoadError()
		c.metrics.Load(false)
		c.logger.Warn("lrucache: load failed", "cache", c.name, "key", key, "error", err)
		return v, err
	}
	c.stats.recordLoadSuccess()
	c.metrics.Load(true)
	return v, nil
}

func (c *Cache[K, V]) recordMiss(expired bool) {
	c.stats.recordMiss(expired)
	c.metrics.Miss()
	if expired {
		c.metrics.Expiration()
	}
}

func (c *Cache[K, V]) recordNoLoader() {
	c.stats.recordNoLoader()
	c.metrics.LoadUnavailable()
}

// startOp opens a span and starts the latency clock for op. The returned
// function closes both and must be called exactly once.
func (c *Cache[K, V]) startOp(ctx context.Context, spanName, op string) (context.Context, func(result string)) {
	if !c.traceEnabled && c.metrics == nil {
		return ctx, func(string) {}
	}
	start := time.Now()
	var span trace.Span
	if c.traceEnabled {
		ctx, span = tracer.Start(ctx, spanName, trace.WithAttributes(attribute.String("lrucache.name", c.name)))
	}
	return ctx, func(result string) {
		latency := time.Since(start)
		c.metrics.ObserveLatency(op, latency)
		if span != nil {
			span.SetAttributes(
				attribute.String("lrucache.result", result),
				attribute.Int64("lrucache.latency_ms", latency.Milliseconds()),
			)
			span.End()
		}
	}
}

