package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
)

type stubSweeper struct {
	olderThan time.Duration
	swept     int64
	err       error
	calls     int
}

func (s *stubSweeper) FailStaleJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.calls++
	s.olderThan = olderThan
	return s.swept, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStaleSweepUsesPayloadWindow(t *testing.T) {
	sweeper := &stubSweeper{swept: 2}
	job := NewStaleSweepJob(sweeper, discardLogger(), nil)

	task, err := NewStaleSweepTask(StaleSweepPayload{OlderThanMinutes: 30})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if sweeper.calls != 1 {
		t.Fatalf("expected one sweep, got %d", sweeper.calls)
	}
	if sweeper.olderThan != 30*time.Minute {
		t.Fatalf("expected 30m window, got %s", sweeper.olderThan)
	}
}

func TestStaleSweepDefaultsWindow(t *testing.T) {
	sweeper := &stubSweeper{}
	job := NewStaleSweepJob(sweeper, discardLogger(), nil)

	task, err := NewStaleSweepTask(StaleSweepPayload{})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if sweeper.olderThan != time.Duration(defaultStaleAfterMinutes)*time.Minute {
		t.Fatalf("expected default window, got %s", sweeper.olderThan)
	}
}

func TestStaleSweepPropagatesError(t *testing.T) {
	sweeper := &stubSweeper{err: errors.New("boom")}
	job := NewStaleSweepJob(sweeper, discardLogger(), nil)

	task, _ := NewStaleSweepTask(StaleSweepPayload{OlderThanMinutes: 10})
	if err := job.Handle(context.Background(), task); err == nil {
		t.Fatal("expected error")
	}
}

func TestStaleSweepSkipsBadPayload(t *testing.T) {
	sweeper := &stubSweeper{}
	job := NewStaleSweepJob(sweeper, discardLogger(), nil)

	task := asynq.NewTask(TaskCloseStaleSweep, []byte("{not json"))
	if err := job.Handle(context.Background(), task); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	if sweeper.calls != 0 {
		t.Fatalf("sweeper must not run on bad payload, got %d calls", sweeper.calls)
	}
}
