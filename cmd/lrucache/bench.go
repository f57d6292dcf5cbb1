package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-lrucache/v1/adapter"
	"github.com/mirkobrombin/go-lrucache/v1/cache"
	"github.com/mirkobrombin/go-lrucache/v1/config"
	lcerrors "github.com/mirkobrombin/go-lrucache/v1/errors"
)

type benchOptions struct {
	concurrency int
	requests    int
	keys        int
	dataSize    int
	writeRatio  float64
	targets     string
	redisAddr   string
}

type benchTarget struct {
	get     func(ctx context.Context, key string) error
	set     func(ctx context.Context, key string, val []byte) error
	stats   func() cache.StatsSnapshot
	cleanup func()
}

func benchCmd(a *app) *cobra.Command {
	opts := benchOptions{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run concurrent Get/Put load against the cache and other stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.redisAddr == "" {
				opts.redisAddr = a.cfg.Redis.Addr
			}
			return runBench(cmd.Context(), cmd.OutOrStdout(), a.cfg, a.logger, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "c", 50, "Concurrent clients")
	cmd.Flags().IntVarP(&opts.requests, "requests", "n", 100000, "Total number of requests")
	cmd.Flags().IntVarP(&opts.keys, "keys", "k", 1000, "Number of distinct keys")
	cmd.Flags().IntVarP(&opts.dataSize, "data-size", "d", 256, "Payload size in bytes")
	cmd.Flags().Float64Var(&opts.writeRatio, "write-ratio", 0.1, "Fraction of requests that are writes")
	cmd.Flags().StringVar(&opts.targets, "target", "lrucache,lrucache-unlocked,ristretto", "Targets: lrucache, lrucache-unlocked, lrucache-redis, ristretto, redis")
	cmd.Flags().StringVar(&opts.redisAddr, "redis-addr", "", "Redis address (defaults to the configured one)")
	return cmd
}

func runBench(ctx context.Context, w io.Writer, cfg *config.Config, logger *slog.Logger, opts benchOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.concurrency <= 0 || opts.requests <= 0 || opts.keys <= 0 {
		return errors.New("bench: concurrency, requests and keys must be positive")
	}

	payload := make([]byte, opts.dataSize)
	for i := range payload {
		payload[i] = 'x'
	}

	fmt.Fprintf(w, "| %-18s | %-10s | %-12s | %-12s | %-8s |\n", "Target", "Ops/sec", "Avg Latency", "P99 Latency", "Hit rate")
	fmt.Fprintln(w, "|:---|:---|:---|:---|:---|")

	for _, name := range strings.Split(opts.targets, ",") {
		name = strings.TrimSpace(name)
		t, err := newBenchTarget(name, cfg, logger, payload, opts)
		if err != nil {
			logger.Warn("bench: skipping target", "target", name, "error", err)
			fmt.Fprintf(w, "| %-18s | %-10s | %-12s | %-12s | %-8s |\n", name, "ERROR", "-", "-", "-")
			continue
		}
		runTarget(ctx, w, name, t, payload, opts)
		if t.cleanup != nil {
			t.cleanup()
		}
	}
	return nil
}

func newBenchTarget(name string, cfg *config.Config, logger *slog.Logger, payload []byte, opts benchOptions) (*benchTarget, error) {
	cacheTarget := func(extra ...cache.Option[string, []byte]) (*benchTarget, error) {
		cacheOpts := append(config.CacheOptions[[]byte](cfg.Cache),
			cache.WithName[string, []byte]("bench-"+name),
			cache.WithLogger[string, []byte](logger),
		)
		c, err := cache.New(append(cacheOpts, extra...)...)
		if err != nil {
			return nil, err
		}
		return &benchTarget{
			get: func(ctx context.Context, k string) error {
				if _, ok := c.Get(ctx, k); !ok {
					return lcerrors.ErrNotFound
				}
				return nil
			},
			set: func(ctx context.Context, k string, v []byte) error {
				c.Put(ctx, k, v)
				return nil
			},
			stats:   c.Stats,
			cleanup: c.Close,
		}, nil
	}
	source := cache.LoaderFunc[string, []byte](func(context.Context, string) ([]byte, error) {
		return payload, nil
	})

	switch name {
	case "lrucache":
		return cacheTarget(cache.WithLoader[string, []byte](source))
	case "lrucache-unlocked":
		return cacheTarget(cache.WithLoader[string, []byte](source), cache.WithUnlockedLoads[string, []byte]())
	case "lrucache-redis":
		client := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		store := adapter.NewRedisStore[[]byte](client, adapter.WithRedisCodec(adapter.ByteCodec{}))
		t, err := cacheTarget(cache.WithLoader[string, []byte](adapter.Loader[[]byte](store)))
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		closeCache := t.cleanup
		t.set = func(ctx context.Context, k string, v []byte) error {
			return store.Set(ctx, k, v)
		}
		t.cleanup = func() {
			closeCache()
			_ = client.Close()
		}
		return t, nil
	case "ristretto":
		store, err := adapter.NewRistrettoStore[[]byte]()
		if err != nil {
			return nil, err
		}
		return storeTarget(store, store.Close), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		store := adapter.NewRedisStore[[]byte](client, adapter.WithRedisCodec(adapter.ByteCodec{}))
		return storeTarget(store, func() { _ = client.Close() }), nil
	default:
		return nil, fmt.Errorf("unknown target %q", name)
	}
}

func storeTarget(s adapter.Store[[]byte], cleanup func()) *benchTarget {
	return &benchTarget{
		get: func(ctx context.Context, k string) error {
			_, ok, err := s.Get(ctx, k)
			if err == nil && !ok {
				err = lcerrors.ErrNotFound
			}
			return err
		},
		set:     s.Set,
		cleanup: cleanup,
	}
}

func runTarget(ctx context.Context, w io.Writer, name string, t *benchTarget, payload []byte, opts benchOptions) {
	keyName := func(i int) string { return fmt.Sprintf("bench:%d", i) }

	// Warmup
	for i := 0; i < opts.keys; i++ {
		if err := t.set(ctx, keyName(i), payload); err != nil {
			fmt.Fprintf(w, "| %-18s | %-10s | %-12s | %-12s | %-8s |\n", name, "ERROR", "-", "-", "-")
			return
		}
	}

	var (
		wg   sync.WaitGroup
		ops  atomic.Int64
		mu   sync.Mutex
		lats []time.Duration
	)
	chunk := opts.requests / opts.concurrency
	if chunk == 0 {
		chunk = 1
	}

	start := time.Now()
	for i := 0; i < opts.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]time.Duration, 0, chunk)
			for j := 0; j < chunk; j++ {
				k := keyName(rand.IntN(opts.keys))
				began := time.Now()
				var err error
				if rand.Float64() < opts.writeRatio {
					err = t.set(ctx, k, payload)
				} else {
					err = t.get(ctx, k)
				}
				local = append(local, time.Since(began))
				if err == nil || errors.Is(err, lcerrors.ErrNotFound) {
					ops.Add(1)
				}
			}
			mu.Lock()
			lats = append(lats, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	if ops.Load() == 0 {
		fmt.Fprintf(w, "| %-18s | %-10s | %-12s | %-12s | %-8s |\n", name, "ERROR", "-", "-", "-")
		return
	}

	slices.Sort(lats)
	p99 := lats[len(lats)*99/100]
	throughput := float64(ops.Load()) / elapsed.Seconds()
	avg := elapsed / time.Duration(ops.Load())

	hitRate := "-"
	if t.stats != nil {
		hitRate = fmt.Sprintf("%.2f", t.stats().HitRate())
	}
	fmt.Fprintf(w, "| %-18s | %-10.0f | %-12v | %-12v | %-8s |\n", name, throughput, avg, p99, hitRate)
}
