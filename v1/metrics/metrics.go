package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lrucache"

// CacheMetrics holds the Prometheus collectors of one cache instance. Every
// collector carries a constant "cache" label with the instance name.
//
// A nil *CacheMetrics is valid and records nothing.
type CacheMetrics struct {
	requests     prometheus.Counter
	hits         prometheus.Counter
	misses       prometheus.Counter
	loads        prometheus.Counter
	loadFailures prometheus.Counter
	evictions    prometheus.Counter
	expirations  prometheus.Counter
	latency      *prometheus.HistogramVec
	size         prometheus.GaugeFunc
}

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// NewCacheMetrics builds and registers the collectors for the cache called
// name. size is sampled on every scrape to report the live entry count.
func NewCacheMetrics(reg prometheus.Registerer, name string, size func() float64) (*CacheMetrics, error) {
	labels := prometheus.Labels{"cache": name}
	counter := func(metric, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		})
	}
	m := &CacheMetrics{
		requests:     counter("requests_total", "Total number of cache lookups"),
		hits:         counter("hits_total", "Total number of cache hits"),
		misses:       counter("misses_total", "Total number of cache misses, stale entries included"),
		loads:        counter("loads_total", "Total number of loader invocations"),
		loadFailures: counter("load_failures_total", "Total number of lookups the loader could not satisfy"),
		evictions:    counter("evictions_total", "Total number of entries removed by the cache"),
		expirations:  counter("expirations_total", "Total number of entries found stale"),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "operation_latency_seconds",
			Help:        "Latency of cache operations",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"op"}),
		size: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "entries",
			Help:        "Current number of cached entries",
			ConstLabels: labels,
		}, size),
	}
	for _, c := range []prometheus.Collector{
		m.requests, m.hits, m.misses, m.loads, m.loadFailures,
		m.evictions, m.expirations, m.latency, m.size,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register cache %q metrics: %w", name, err)
		}
	}
	return m, nil
}

// Hit records a lookup served from the cache.
func (m *CacheMetrics) Hit() {
	if m == nil {
		return
	}
	m.requests.Inc()
	m.hits.Inc()
}

// Miss records a lookup that found no fresh entry.
func (m *CacheMetrics) Miss() {
	if m == nil {
		return
	}
	m.requests.Inc()
	m.misses.Inc()
}

// Load records a loader invocation and whether it produced a value.
func (m *CacheMetrics) Load(ok bool) {
	if m == nil {
		return
	}
	m.loads.Inc()
	if !ok {
		m.loadFailures.Inc()
	}
}

// LoadUnavailable records a miss that had no loader to fall back on.
func (m *CacheMetrics) LoadUnavailable() {
	if m == nil {
		return
	}
	m.loadFailures.Inc()
}

func (m *CacheMetrics) Eviction() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

func (m *CacheMetrics) Expiration() {
	if m == nil {
		return
	}
	m.expirations.Inc()
}

// ObserveLatency records how long op took.
func (m *CacheMetrics) ObserveLatency(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(op).Observe(d.Seconds())
}
