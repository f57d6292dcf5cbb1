package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	lcerrors "github.com/mirkobrombin/go-lrucache/v1/errors"
)

func TestRunnerRunsJobPeriodically(t *testing.T) {
	r := NewRunner(nil)
	t.Cleanup(r.Stop)

	var runs atomic.Int32
	err := r.Schedule(Job{
		Name:     "count",
		Interval: 5 * time.Millisecond,
		Run:      func(context.Context) { runs.Add(1) },
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for runs.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected at least 3 runs, got %d", runs.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRunnerStopHaltsJobs(t *testing.T) {
	r := NewRunner(nil)
	var runs atomic.Int32
	if err := r.Schedule(Job{Name: "count", Interval: 2 * time.Millisecond, Run: func(context.Context) { runs.Add(1) }}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	r.Stop()
	r.Stop()

	after := runs.Load()
	time.Sleep(10 * time.Millisecond)
	if runs.Load() != after {
		t.Fatalf("job ran after Stop: %d -> %d", after, runs.Load())
	}

	err := r.Schedule(Job{Name: "late", Interval: time.Millisecond, Run: func(context.Context) {}})
	if !errors.Is(err, lcerrors.ErrClosed) {
		t.Fatalf("expected ErrClosed after Stop, got %v", err)
	}
}

func TestRunnerRejectsNonPositiveInterval(t *testing.T) {
	r := NewRunner(nil)
	defer r.Stop()
	err := r.Schedule(Job{Name: "bad", Interval: 0, Run: func(context.Context) {}})
	if !errors.Is(err, lcerrors.ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
}
