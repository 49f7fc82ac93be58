package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
)

type stubFinalizeEnqueuer struct {
	months  []string
	tenants []string
	failFor map[string]error
}

func (s *stubFinalizeEnqueuer) EnqueueFinalize(ctx context.Context, tenantID, monthKey string) (string, error) {
	if err, ok := s.failFor[tenantID]; ok {
		return "", err
	}
	s.tenants = append(s.tenants, tenantID)
	s.months = append(s.months, monthKey)
	return "task-" + tenantID, nil
}

func fixedClock(value string) func() time.Time {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return ts }
}

func TestMonthlyEnqueuesPreviousMonth(t *testing.T) {
	enq := &stubFinalizeEnqueuer{}
	job := NewMonthlyJob(enq, discardLogger(), nil).WithNow(fixedClock("2026-03-01T06:00:00Z"))

	task, err := NewMonthlyTask(MonthlyPayload{Tenants: []string{"tenant-1", "tenant-2"}})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(enq.tenants) != 2 {
		t.Fatalf("expected 2 enqueues, got %d", len(enq.tenants))
	}
	for _, month := range enq.months {
		if month != "2026-02" {
			t.Fatalf("expected month 2026-02, got %s", month)
		}
	}
}

func TestMonthlyJanuaryRollsToPreviousYear(t *testing.T) {
	enq := &stubFinalizeEnqueuer{}
	job := NewMonthlyJob(enq, discardLogger(), nil).WithNow(fixedClock("2026-01-15T00:00:00Z"))

	task, _ := NewMonthlyTask(MonthlyPayload{Tenants: []string{"tenant-1"}})
	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if enq.months[0] != "2025-12" {
		t.Fatalf("expected month 2025-12, got %s", enq.months[0])
	}
}

func TestMonthlyContinuesPastFailedTenant(t *testing.T) {
	enq := &stubFinalizeEnqueuer{failFor: map[string]error{"tenant-1": errors.New("queue down")}}
	job := NewMonthlyJob(enq, discardLogger(), nil).WithNow(fixedClock("2026-03-01T06:00:00Z"))

	task, _ := NewMonthlyTask(MonthlyPayload{Tenants: []string{"tenant-1", "tenant-2"}})
	err := job.Handle(context.Background(), task)
	if err == nil {
		t.Fatal("expected error when a tenant fails to enqueue")
	}
	if len(enq.tenants) != 1 || enq.tenants[0] != "tenant-2" {
		t.Fatalf("expected tenant-2 still enqueued, got %v", enq.tenants)
	}
}

func TestMonthlyNoTenantsIsNoOp(t *testing.T) {
	enq := &stubFinalizeEnqueuer{}
	job := NewMonthlyJob(enq, discardLogger(), nil)

	task, _ := NewMonthlyTask(MonthlyPayload{})
	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(enq.tenants) != 0 {
		t.Fatalf("expected no enqueues, got %v", enq.tenants)
	}
}

func TestMonthlySkipsBadPayload(t *testing.T) {
	enq := &stubFinalizeEnqueuer{}
	job := NewMonthlyJob(enq, discardLogger(), nil)

	task := asynq.NewTask(TaskCloseMonthly, []byte("{not json"))
	if err := job.Handle(context.Background(), task); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}
