package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	natsserver "github.com/nats-io/nats-server/v2/test"

	"github.com/mirkobrombin/go-lrucache/v1/config"
	"github.com/mirkobrombin/go-lrucache/v1/notify"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Cache.MaxCapacity = 1
	return &app{cfg: cfg, logger: discardLogger()}
}

// exercise writes through, reads back and checks the eviction event arrives
// on the configured bus.
func exercise(t *testing.T, a *app, backend string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := a.openCache(backend, nil)
	if err != nil {
		t.Fatalf("openCache(%s): %v", backend, err)
	}
	events, err := notify.Subscribe(ctx, c.Bus, a.cfg.Bus.Topic)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := c.Store.Set(ctx, "a", "1"); err != nil {
		t.Fatalf("Store.Set: %v", err)
	}
	if v, ok := c.Get(ctx, "a"); !ok || v != "1" {
		t.Fatalf("expected 1 from %s, got %q ok=%v", backend, v, ok)
	}
	c.Put(ctx, "b", "2")

	select {
	case ev := <-events:
		if ev.Key != "a" || ev.Reason != "evicted" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-ctx.Done():
		t.Fatal("timeout waiting for eviction event")
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOpenCacheMemory(t *testing.T) {
	exercise(t, newTestApp(t), "memory")
}

func TestOpenCacheRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	a := newTestApp(t)
	a.cfg.Redis.Addr = mr.Addr()
	a.cfg.Redis.KeyPrefix = "cli:"
	a.cfg.Bus.Kind = "redis"
	exercise(t, a, "redis")
	if !mr.Exists("cli:a") {
		t.Fatal("expected value stored under the prefix")
	}
}

func TestOpenCacheSQLiteWithNATS(t *testing.T) {
	s := natsserver.RunRandClientPortServer()
	defer s.Shutdown()

	a := newTestApp(t)
	a.cfg.SQL.DSN = "file:" + t.Name() + "?mode=memory&cache=shared"
	a.cfg.Bus.Kind = "nats"
	a.cfg.Bus.NATSURL = s.ClientURL()
	exercise(t, a, "sqlite")
}

func TestOpenCacheErrors(t *testing.T) {
	a := newTestApp(t)
	if _, err := a.openCache("tape", nil); err == nil {
		t.Fatal("expected unknown backend error")
	}
	a.cfg.Bus.Kind = "kafka"
	a.cfg.Bus.KafkaBrokers = nil
	if _, err := a.openCache("memory", nil); err == nil {
		t.Fatal("expected kafka broker error")
	}
}
