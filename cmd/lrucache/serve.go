package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-lrucache/v1/metrics"
	"github.com/mirkobrombin/go-lrucache/v1/notify"
	"github.com/mirkobrombin/go-lrucache/v1/presets"
	"github.com/mirkobrombin/go-lrucache/v1/validator"
)

// maxValueSize caps PUT bodies.
const maxValueSize = 1 << 20

func serveCmd(a *app) *cobra.Command {
	var (
		httpAddr         string
		backend          string
		validateInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the cache over HTTP and expose Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if httpAddr == "" {
				httpAddr = a.cfg.Telemetry.MetricsAddr
			}
			reg := metrics.NewRegistry()
			c, err := a.openCache(backend, reg)
			if err != nil {
				return err
			}

			if validateInterval > 0 {
				vctx, stop := context.WithCancel(context.Background())
				defer stop()
				v := validator.New[string](c.Cache, c.Store, validator.ModeAutoHeal, validateInterval, a.logger)
				go v.Run(vctx)
			}

			srv := &http.Server{
				Addr:              httpAddr,
				Handler:           newHTTPHandler(c, reg, a.logger),
				ReadHeaderTimeout: 5 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("lrucache: serving", "addr", httpAddr, "backend", backend)
				errCh <- srv.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case err = <-errCh:
			case <-sigCh:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				err = srv.Shutdown(ctx)
			}
			if errors.Is(err, http.ErrServerClosed) {
				err = nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return errors.Join(err, c.Close(ctx))
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP address (defaults to telemetry.metrics_addr)")
	cmd.Flags().StringVar(&backend, "backend", "memory", "Value source: memory or redis")
	cmd.Flags().DurationVar(&validateInterval, "validate-interval", 0, "Drop entries that drifted from the store every interval (0 disables)")
	return cmd
}

func newHTTPHandler(c *presets.Cache[string], reg *prometheus.Registry, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("GET /events", notify.SSEHandler(c.Bus, c.Publisher.Topic()))
	mux.Handle("GET /events/ws", notify.WebSocketHandler(c.Bus, c.Publisher.Topic()))

	mux.HandleFunc("GET /cache/{key}", func(w http.ResponseWriter, r *http.Request) {
		v, ok := c.Get(r.Context(), r.PathValue("key"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, v)
	})
	mux.HandleFunc("PUT /cache/{key}", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxValueSize+1))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(body) > maxValueSize {
			http.Error(w, "value too large", http.StatusRequestEntityTooLarge)
			return
		}
		key := r.PathValue("key")
		if err := c.Store.Set(r.Context(), key, string(body)); err != nil {
			logger.Warn("lrucache: store write failed", "key", key, "error", err)
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		c.Put(r.Context(), key, string(body))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("DELETE /cache/{key}", func(w http.ResponseWriter, r *http.Request) {
		if !c.Invalidate(r.Context(), r.PathValue("key")) {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /keys", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, c.Keys())
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, c.Stats())
	})
	mux.HandleFunc("POST /reset", func(w http.ResponseWriter, r *http.Request) {
		c.Reset()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("lrucache: write response", "error", err)
	}
}
