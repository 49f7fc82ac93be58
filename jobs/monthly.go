package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/clearledger/clearledger/internal/jobs"
)

// FinalizeEnqueuer submits finalize runs to the queue.
type FinalizeEnqueuer interface {
	EnqueueFinalize(ctx context.Context, tenantID, monthKey string) (string, error)
}

// MonthlyJob fans out finalize runs for the previous calendar month across
// the configured tenants. Scheduled shortly after month start so late
// bookings from the final days have landed.
type MonthlyJob struct {
	Enqueuer FinalizeEnqueuer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics

	now func() time.Time
}

// NewMonthlyJob wires dependencies for the monthly fan-out handler.
func NewMonthlyJob(enqueuer FinalizeEnqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *MonthlyJob {
	return &MonthlyJob{Enqueuer: enqueuer, Logger: logger, Metrics: metrics, now: time.Now}
}

// WithNow overrides the clock.
func (j *MonthlyJob) WithNow(now func() time.Time) *MonthlyJob {
	j.now = now
	return j
}

// Handle processes close:monthly tasks. Enqueue failures for one tenant do
// not block the rest; the task fails afterwards so remaining tenants retry.
func (j *MonthlyJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Enqueuer == nil {
		return errors.New("monthly close: handler not configured")
	}
	var payload MonthlyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if len(payload.Tenants) == 0 {
		return nil
	}

	tracker := j.metrics().Track(TaskCloseMonthly)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	monthKey := previousMonthKey(j.now().UTC())
	var failed int
	for _, tenantID := range payload.Tenants {
		if tenantID == "" {
			continue
		}
		taskID, err := j.Enqueuer.EnqueueFinalize(ctx, tenantID, monthKey)
		if err != nil {
			failed++
			j.logger().Error("monthly close enqueue",
				slog.String("tenant", tenantID),
				slog.String("month", monthKey),
				slog.Any("error", err))
			continue
		}
		j.logger().Info("monthly close enqueued",
			slog.String("tenant", tenantID),
			slog.String("month", monthKey),
			slog.String("task_id", taskID))
	}
	if failed > 0 {
		resultErr = errors.New("monthly close: some tenants failed to enqueue")
	}
	return resultErr
}

func previousMonthKey(now time.Time) string {
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return firstOfMonth.AddDate(0, -1, 0).Format("2006-01")
}

func (j *MonthlyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *MonthlyJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
