// Package validator checks cached values against their backing store.
package validator

import (
	"context"
	"log/slog"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/mirkobrombin/go-lrucache/v1/adapter"
	"github.com/mirkobrombin/go-lrucache/v1/cache"
)

// Mode defines validator behaviour.
type Mode int

const (
	// ModeNoop only counts mismatches.
	ModeNoop Mode = iota
	// ModeAlert counts and logs mismatches.
	ModeAlert
	// ModeAutoHeal invalidates mismatching entries so the next read goes
	// back to the store.
	ModeAutoHeal
)

// Validator periodically compares cache and storage values.
type Validator[T any] struct {
	cache      *cache.Cache[string, T]
	store      adapter.Store[T]
	mode       Mode
	interval   time.Duration
	logger     *slog.Logger
	scans      atomic.Uint64
	mismatches atomic.Uint64
}

// New creates a new Validator.
func New[T any](c *cache.Cache[string, T], s adapter.Store[T], mode Mode, interval time.Duration, logger *slog.Logger) *Validator[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator[T]{cache: c, store: s, mode: mode, interval: interval, logger: logger}
}

// Run starts the validation loop and blocks until ctx is done.
func (v *Validator[T]) Run(ctx context.Context) {
	if v.store == nil || v.interval <= 0 {
		return
	}
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.Scan(ctx)
		}
	}
}

// Scan checks every fresh cached entry once and returns the number of
// mismatches found. A key the store no longer holds is a mismatch.
func (v *Validator[T]) Scan(ctx context.Context) int {
	v.scans.Add(1)
	found := 0
	for _, k := range v.cache.Keys() {
		if ctx.Err() != nil {
			break
		}
		cv, ok := v.cache.Peek(k)
		if !ok {
			continue
		}
		sv, present, err := v.store.Get(ctx, k)
		if err != nil {
			v.logger.Debug("validator: store read failed", "key", k, "error", err)
			continue
		}
		if present && reflect.DeepEqual(cv, sv) {
			continue
		}
		found++
		v.mismatches.Add(1)
		switch v.mode {
		case ModeAlert:
			v.logger.Warn("validator: cached value differs from store", "key", k, "in_store", present)
		case ModeAutoHeal:
			v.cache.Invalidate(ctx, k)
		}
	}
	return found
}

// Metrics returns number of mismatches detected.
func (v *Validator[T]) Metrics() uint64 {
	return v.mismatches.Load()
}

// Scans returns how many scans ran.
func (v *Validator[T]) Scans() uint64 {
	return v.scans.Load()
}
