package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type countingRunner struct{ calls atomic.Int32 }

func (r *countingRunner) RunOnce(ctx context.Context) (int, error) {
	r.calls.Add(1)
	return 0, nil
}

type countingSweeper struct {
	calls   atomic.Int32
	timeout atomic.Int64
}

func (s *countingSweeper) SweepStale(ctx context.Context, timeout time.Duration) (int, error) {
	s.calls.Add(1)
	s.timeout.Store(int64(timeout))
	return 0, nil
}

func TestSchedulerRunsJobs(t *testing.T) {
	runner := &countingRunner{}
	sweeper := &countingSweeper{}
	s := NewScheduler(Config{
		TaskPollSpec: "@every 1s",
		SweepSpec:    "@every 1s",
		UsageTimeout: 30 * time.Minute,
	}, runner, sweeper, nil, zap.NewNop())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && (runner.calls.Load() == 0 || sweeper.calls.Load() == 0) {
		time.Sleep(50 * time.Millisecond)
	}
	s.Stop()

	if runner.calls.Load() == 0 || sweeper.calls.Load() == 0 {
		t.Fatalf("jobs did not run: tasks=%d sweep=%d", runner.calls.Load(), sweeper.calls.Load())
	}
	if time.Duration(sweeper.timeout.Load()) != 30*time.Minute {
		t.Fatalf("sweeper got timeout %s", time.Duration(sweeper.timeout.Load()))
	}
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := NewScheduler(Config{TaskPollSpec: "not a spec", SweepSpec: "@every 1m"}, &countingRunner{}, &countingSweeper{}, nil, zap.NewNop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected an error for an invalid spec")
	}
}
