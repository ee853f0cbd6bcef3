package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSchedulerRunsJobOnInterval(t *testing.T) {
	var runs int32
	job := Job{
		Name:     "tick",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	}

	s := New([]Job{job}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	s.Run(ctx)

	if got := atomic.LoadInt32(&runs); got < 2 {
		t.Fatalf("expected at least 2 runs in 55ms at 10ms interval, got %d", got)
	}
}

func TestSchedulerSkipsOverlappingRun(t *testing.T) {
	var concurrent int32
	var maxConcurrent int32
	job := Job{
		Name:     "slow",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			n := atomic.AddInt32(&concurrent, 1)
			if n > atomic.LoadInt32(&maxConcurrent) {
				atomic.StoreInt32(&maxConcurrent, n)
			}
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&concurrent, -1)
			return nil
		},
	}

	s := New([]Job{job}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	s.Run(ctx)

	if got := atomic.LoadInt32(&maxConcurrent); got > 1 {
		t.Fatalf("expected single-flight execution, saw %d concurrent runs", got)
	}
}

func TestSuperviseRestartsAfterError(t *testing.T) {
	var calls int32
	loop := func(ctx context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return context.DeadlineExceeded
		}
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	Supervise(ctx, "test-loop", SupervisorConfig{
		BackoffBase:     time.Millisecond,
		BackoffCap:      5 * time.Millisecond,
		RapidFailWindow: time.Nanosecond, // effectively disable rapid-fail escalation
		MaxRapidFails:   1000,
	}, loop, nil, zerolog.Nop())

	if atomic.LoadInt32(&calls) < 3 {
		t.Fatalf("expected at least 3 restart attempts, got %d", calls)
	}
}

func TestSuperviseEscalatesOnRapidFailures(t *testing.T) {
	var fatalCalled int32
	loop := func(ctx context.Context) error {
		return context.DeadlineExceeded
	}

	onFatal := func(err error, rapidFails int) {
		atomic.StoreInt32(&fatalCalled, 1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	Supervise(ctx, "always-fails", SupervisorConfig{
		BackoffBase:     time.Millisecond,
		BackoffCap:      2 * time.Millisecond,
		RapidFailWindow: time.Second,
		MaxRapidFails:   3,
	}, loop, onFatal, zerolog.Nop())

	if atomic.LoadInt32(&fatalCalled) != 1 {
		t.Fatal("expected onFatal to be invoked after repeated rapid failures")
	}
}

func TestSupervisePanicRecovery(t *testing.T) {
	var calls int32
	loop := func(ctx context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			panic("boom")
		}
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	Supervise(ctx, "panics-once", SupervisorConfig{
		BackoffBase:     time.Millisecond,
		BackoffCap:      5 * time.Millisecond,
		RapidFailWindow: time.Nanosecond,
		MaxRapidFails:   1000,
	}, loop, nil, zerolog.Nop())

	if atomic.LoadInt32(&calls) < 2 {
		t.Fatal("expected loop to restart after panic")
	}
}
