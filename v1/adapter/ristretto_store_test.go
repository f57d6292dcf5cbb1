package adapter_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mirkobrombin/go-lrucache/v1/adapter"
)

func newRistrettoStore[T any](t *testing.T, opts ...adapter.RistrettoOption[T]) *adapter.RistrettoStore[T] {
	t.Helper()
	s, err := adapter.NewRistrettoStore[T](opts...)
	if err != nil {
		t.Fatalf("NewRistrettoStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestRistrettoStoreGetSet(t *testing.T) {
	s := newRistrettoStore[string](t)
	ctx := context.Background()
	if err := s.Set(ctx, "foo", "bar"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok, err := s.Get(ctx, "foo"); err != nil || !ok || v != "bar" {
		t.Fatalf("Get: expected bar, got %v ok=%v err=%v", v, ok, err)
	}
	if _, ok, _ := s.Get(ctx, "missing"); ok {
		t.Fatalf("expected missing key to be absent")
	}
}

func TestRistrettoStoreKeysUnsupported(t *testing.T) {
	s := newRistrettoStore[int](t)
	if _, err := s.Keys(context.Background()); !errors.Is(err, adapter.ErrKeysUnsupported) {
		t.Fatalf("expected ErrKeysUnsupported, got %v", err)
	}
}

func TestRistrettoStoreCanceledContext(t *testing.T) {
	s := newRistrettoStore[int](t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Set(ctx, "k", 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
