package syncbus

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	lcerrors "github.com/mirkobrombin/go-lrucache/v1/errors"
)

func newRedisBus(t *testing.T) (*RedisBus, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := NewRedisBus(client)
	t.Cleanup(func() {
		_ = bus.Close()
		_ = client.Close()
		mr.Close()
	})
	return bus, client
}

func TestRedisBusPublishSubscribeFlowAndMetrics(t *testing.T) {
	bus, _ := newRedisBus(t)
	ctx := context.Background()
	ch, err := bus.Subscribe(ctx, "removals")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(ctx, "removals", []byte(`{"key":"a"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := string(receive(t, ch)); got != `{"key":"a"}` {
		t.Fatalf("unexpected payload %q", got)
	}
	metrics := bus.Metrics()
	if metrics.Published != 1 {
		t.Fatalf("expected published 1 got %d", metrics.Published)
	}
	if metrics.Delivered != 1 {
		t.Fatalf("expected delivered 1 got %d", metrics.Delivered)
	}
}

func TestRedisBusSharesOneSubscription(t *testing.T) {
	bus, _ := newRedisBus(t)
	ctx := context.Background()
	a, _ := bus.Subscribe(ctx, "t")
	b, _ := bus.Subscribe(ctx, "t")
	bus.mu.Lock()
	n := len(bus.subs)
	bus.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected 1 redis subscription, got %d", n)
	}
	_ = bus.Publish(ctx, "t", []byte("x"))
	receive(t, a)
	receive(t, b)

	if err := bus.Unsubscribe(ctx, "t", a); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	bus.mu.Lock()
	_, stillOpen := bus.subs["t"]
	bus.mu.Unlock()
	if !stillOpen {
		t.Fatal("redis subscription closed while a subscriber remains")
	}
}

func TestRedisBusContextBasedUnsubscribe(t *testing.T) {
	bus, _ := newRedisBus(t)
	subCtx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(subCtx, "key")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	expectClosed(t, ch)
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if _, ok := bus.subs["key"]; ok {
		t.Fatal("subscription still present after context cancel")
	}
}

func TestRedisBusClosedClient(t *testing.T) {
	bus, client := newRedisBus(t)
	_ = client.Close()
	err := bus.Publish(context.Background(), "t", []byte("x"))
	if !errors.Is(err, lcerrors.ErrConnectionClosed) {
		t.Fatalf("expected connection closed, got %v", err)
	}
	if _, err := bus.Subscribe(context.Background(), "t"); err == nil {
		t.Fatal("expected subscribe to fail")
	}
	if bus.f.has("t") {
		t.Fatal("failed subscribe left a subscriber behind")
	}
}
