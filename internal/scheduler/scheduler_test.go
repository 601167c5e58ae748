package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestScheduler_RunsJobWithDeadline(t *testing.T) {
	s := New(zap.NewNop())

	ran := make(chan bool, 1)
	err := s.Add("@every 1s", "tick", 5*time.Second, func(ctx context.Context) {
		_, ok := ctx.Deadline()
		select {
		case ran <- ok:
		default:
		}
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	s.Start()
	defer s.Stop(context.Background())

	select {
	case hasDeadline := <-ran:
		if !hasDeadline {
			t.Error("job context should carry the timeout")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := New(zap.NewNop())
	if err := s.Add("every now and then", "bad", 0, func(context.Context) {}); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	s := New(zap.NewNop())

	var running, maxRunning int32
	s.Add("@every 1s", "slow", 0, func(ctx context.Context) {
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		select {
		case <-time.After(2500 * time.Millisecond):
		case <-ctx.Done():
		}
		atomic.AddInt32(&running, -1)
	})

	s.Start()
	time.Sleep(3500 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if got := atomic.LoadInt32(&maxRunning); got != 1 {
		t.Errorf("expected at most one concurrent run, saw %d", got)
	}
}

func TestScheduler_StopCancelsOnDeadline(t *testing.T) {
	s := New(zap.NewNop())

	started := make(chan struct{})
	cancelled := make(chan struct{})
	s.Add("@every 1s", "stuck", 0, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	})
	s.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	select {
	case <-cancelled:
	default:
		t.Error("running job should have been cancelled")
	}
}
