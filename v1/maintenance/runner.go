// Package maintenance runs periodic housekeeping jobs, such as resetting
// cache statistics or sweeping stale entries, on their own goroutines.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lcerrors "github.com/mirkobrombin/go-lrucache/v1/errors"
)

// Job is a task run every Interval until the runner stops.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Runner owns the goroutines of the scheduled jobs.
type Runner struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	mu      sync.Mutex
	stopped bool
}

// NewRunner returns an idle Runner. A nil logger falls back to slog.Default.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{ctx: ctx, cancel: cancel, logger: logger}
}

// Schedule starts running job every job.Interval.
func (r *Runner) Schedule(job Job) error {
	if job.Interval <= 0 {
		return fmt.Errorf("maintenance job %q: %w", job.Name, lcerrors.ErrInvalidInterval)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return fmt.Errorf("maintenance job %q: %w", job.Name, lcerrors.ErrClosed)
	}
	r.wg.Add(1)
	go r.loop(job)
	return nil
}

func (r *Runner) loop(job Job) {
	defer r.wg.Done()
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	r.logger.Debug("maintenance job started", "job", job.Name, "interval", job.Interval)
	for {
		select {
		case <-ticker.C:
			job.Run(r.ctx)
		case <-r.ctx.Done():
			return
		}
	}
}

// Stop cancels all jobs and waits for them to return. It is safe to call
// Stop more than once.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}
