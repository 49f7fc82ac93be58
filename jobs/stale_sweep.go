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

const defaultStaleAfterMinutes = 60

// StaleJobSweeper flips abandoned RUNNING jobs to FAILED.
type StaleJobSweeper interface {
	FailStaleJobs(ctx context.Context, olderThan time.Duration) (int64, error)
}

// StaleSweepJob periodically reclaims finalize jobs whose worker died.
type StaleSweepJob struct {
	Sweeper StaleJobSweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStaleSweepJob wires dependencies for the sweep handler.
func NewStaleSweepJob(sweeper StaleJobSweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *StaleSweepJob {
	return &StaleSweepJob{Sweeper: sweeper, Logger: logger, Metrics: metrics}
}

// Handle processes close:sweep-stale tasks.
func (j *StaleSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sweeper == nil {
		return errors.New("stale sweep: handler not configured")
	}
	var payload StaleSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.OlderThanMinutes <= 0 {
		payload.OlderThanMinutes = defaultStaleAfterMinutes
	}

	tracker := j.metrics().Track(TaskCloseStaleSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	swept, err := j.Sweeper.FailStaleJobs(ctx, time.Duration(payload.OlderThanMinutes)*time.Minute)
	if err != nil {
		resultErr = err
		j.logger().Error("stale sweep", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddStaleSwept(swept)
	if swept > 0 {
		j.logger().Warn("stale finalize jobs reclaimed", slog.Int64("count", swept))
	}
	return resultErr
}

func (j *StaleSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *StaleSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
