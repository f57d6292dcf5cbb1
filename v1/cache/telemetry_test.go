package cache

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMetricsFollowOperations(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newTestCache(t,
		WithMaxCapacity[string, int](1),
		WithName[string, int]("users"),
		WithMetrics[string, int](reg),
	)
	ctx := context.Background()
	c.Put(ctx, "a", 1)
	c.Get(ctx, "a")
	c.Get(ctx, "b")
	c.Put(ctx, "b", 2)

	expected := map[string]float64{
		"lrucache_requests_total":      2,
		"lrucache_hits_total":          1,
		"lrucache_misses_total":        1,
		"lrucache_load_failures_total": 1,
		"lrucache_evictions_total":     1,
		"lrucache_entries":             1,
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	got := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				got[mf.GetName()] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				got[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	for name, want := range expected {
		if got[name] != want {
			t.Fatalf("%s: expected %v, got %v", name, want, got[name])
		}
	}
	n, err := testutil.GatherAndCount(reg, "lrucache_operation_latency_seconds")
	if err != nil {
		t.Fatalf("gather latency: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected latency series for get and put, got %d", n)
	}
}

func TestMetricsRegistrationConflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	newTestCache(t, WithName[string, int]("dup"), WithMetrics[string, int](reg))
	if _, err := New(WithName[string, int]("dup"), WithMetrics[string, int](reg)); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestTracingRecordsResults(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	c := newTestCache(t, WithTracing[string, int](), WithName[string, int]("traced"))
	ctx := context.Background()
	c.Put(ctx, "a", 1)
	c.Get(ctx, "a")
	c.Get(ctx, "missing")

	spans := sr.Ended()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	want := []struct{ name, result string }{
		{"Cache.Put", resultStored},
		{"Cache.Get", resultHit},
		{"Cache.Get", resultMiss},
	}
	for i, w := range want {
		s := spans[i]
		if s.Name() != w.name {
			t.Fatalf("span %d: expected %s, got %s", i, w.name, s.Name())
		}
		attrs := map[attribute.Key]attribute.Value{}
		for _, kv := range s.Attributes() {
			attrs[kv.Key] = kv.Value
		}
		if got := attrs["lrucache.result"].AsString(); got != w.result {
			t.Fatalf("span %d: expected result %s, got %s", i, w.result, got)
		}
		if got := attrs["lrucache.name"].AsString(); got != "traced" {
			t.Fatalf("span %d: expected cache name, got %q", i, got)
		}
		if _, ok := attrs["lrucache.latency_ms"]; !ok {
			t.Fatalf("span %d: missing latency attribute", i)
		}
	}
}
