package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-lrucache/v1/cache"
)

type demoOptions struct {
	capacity   int
	expiration time.Duration
	simulate   bool
	tracing    bool
}

func demoCmd(a *app) *cobra.Command {
	opts := demoOptions{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Walk through eviction, loading and expiration step by step",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.tracing = a.cfg.Telemetry.Tracing
			return runDemo(cmd.Context(), cmd.OutOrStdout(), a.logger, opts)
		},
	}
	cmd.Flags().IntVar(&opts.capacity, "capacity", 10, "Maximum number of entries")
	cmd.Flags().DurationVar(&opts.expiration, "expiration", 5*time.Second, "Expire entries not accessed for this long")
	cmd.Flags().BoolVar(&opts.simulate, "simulate", false, "Advance a virtual clock instead of sleeping")
	return cmd
}

// manualClock only moves when advanced.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func runDemo(ctx context.Context, w io.Writer, logger *slog.Logger, opts demoOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cacheOpts := []cache.Option[string, string]{
		cache.WithName[string, string]("demo"),
		cache.WithMaxCapacity[string, string](opts.capacity),
		cache.WithExpiration[string, string](opts.expiration),
		cache.WithLogger[string, string](logger),
		cache.WithLoaderFunc[string, string](func(_ context.Context, key string) (string, error) {
			return "val-" + key, nil
		}),
		cache.WithRemovalListener[string, string](func(key string, reason cache.RemovalReason) {
			fmt.Fprintf(w, "  removed %s (%s)\n", key, reason)
		}),
	}
	if opts.tracing {
		cacheOpts = append(cacheOpts, cache.WithTracing[string, string]())
	}

	// The virtual clock scales the pauses with the configured expiration.
	scale := func(ms int64) time.Duration {
		return time.Duration(ms) * opts.expiration / 5000
	}
	var clock *manualClock
	if opts.simulate {
		clock = &manualClock{now: time.Unix(0, 0)}
		cacheOpts = append(cacheOpts, cache.WithClock[string, string](clock))
	}
	pause := func(d time.Duration) error {
		fmt.Fprintf(w, "sleeping %v\n", d)
		if clock != nil {
			clock.advance(d)
			return nil
		}
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c, err := cache.New(cacheOpts...)
	if err != nil {
		return err
	}
	defer c.Close()

	show := func(title string) {
		fmt.Fprintf(w, "%s\n  keys: %v\n", title, c.Keys())
	}
	get := func(key string) string {
		v, _ := c.Get(ctx, key)
		return v
	}

	for i := 1; i <= opts.capacity; i++ {
		c.Put(ctx, fmt.Sprintf("key-%d", i), fmt.Sprintf("value-%d", i))
	}
	show("cache after filling it:")

	get("key-1")
	show("cache after accessing key-1:")

	for i := opts.capacity + 1; i <= 2*opts.capacity; i++ {
		c.Put(ctx, fmt.Sprintf("key-%d", i), fmt.Sprintf("value-%d", i))
	}
	show("cache after inserting past capacity:")

	fmt.Fprintf(w, "loaded key-1000: %s\n", get("key-1000"))
	show("cache after loading key-1000:")

	if err := pause(scale(4000)); err != nil {
		return err
	}
	for _, key := range []string{"key-12", "key-1", "key-13"} {
		get(key)
		show(fmt.Sprintf("cache after accessing %s:", key))
	}

	if err := pause(scale(3000)); err != nil {
		return err
	}
	for _, key := range []string{"key-100", "key-200"} {
		c.Put(ctx, key, "value-"+key[len("key-"):])
		show(fmt.Sprintf("cache after putting %s:", key))
	}

	if err := pause(scale(6000)); err != nil {
		return err
	}
	fmt.Fprintf(w, "reloaded key-100: %s\n", get("key-100"))
	show("cache after reloading key-100:")

	st := c.Stats()
	fmt.Fprintf(w, "stats: requests=%d hits=%d misses=%d loads=%d evictions=%d expirations=%d hit_rate=%.2f\n",
		st.Requests, st.Hits, st.Misses, st.Loads, st.Evictions, st.Expirations, st.HitRate())

	c.Reset()
	show("cache after reset:")
	return nil
}
