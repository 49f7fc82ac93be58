package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/clearledger/clearledger/internal/finalize"
	jobmetrics "github.com/clearledger/clearledger/internal/jobs"
	"github.com/clearledger/clearledger/internal/ledger"
	"github.com/clearledger/clearledger/internal/platform/cache"
	"github.com/clearledger/clearledger/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// FinalizeJob executes queued finalize runs.
type FinalizeJob struct {
	Service *finalize.Service
	Cache   *cache.JSONCache
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewFinalizeJob wires dependencies for the finalize handler.
func NewFinalizeJob(service *finalize.Service, jsonCache *cache.JSONCache, logger *slog.Logger, metrics *jobmetrics.Metrics) *FinalizeJob {
	return &FinalizeJob{Service: service, Cache: jsonCache, Logger: logger, Metrics: metrics}
}

// Handle processes close:finalize tasks.
func (j *FinalizeJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("finalize job: handler not configured")
	}
	var payload FinalizePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	month, err := ledger.ParseMonthKey(payload.MonthKey)
	if err != nil {
		// A malformed month never becomes valid on retry.
		j.logger().Error("finalize job: bad month key", slog.String("month", payload.MonthKey), slog.Any("error", err))
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskCloseFinalize)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("tenant", payload.TenantID), slog.String("month", payload.MonthKey))
	logger.Info("starting finalize run")

	outcome, err := j.Service.Finalize(ctx, payload.TenantID, month)
	if err != nil {
		if errors.Is(err, shared.ErrFinalizeInProgress) {
			// Another worker holds the job; a retry would only collide again.
			logger.Info("finalize already in progress, skipping")
			return asynq.SkipRetry
		}
		var tagged *shared.Error
		if errors.As(err, &tagged) && !tagged.Retryable {
			resultErr = err
			logger.Error("finalize failed terminally", slog.String("code", tagged.Code), slog.Any("error", err))
			return asynq.SkipRetry
		}
		resultErr = err
		logger.Error("finalize failed", slog.Any("error", err))
		return resultErr
	}

	if outcome.Reused {
		logger.Info("finalize reused prior outputs", slog.String("lock_hash", outcome.Job.PeriodLockHash))
		return resultErr
	}

	bankWithout, invoiceWithout, partial, over := outcome.Mismatches.Counts()
	metrics := j.metrics()
	metrics.AddMismatches("bank_tx_without_invoice", payload.TenantID, bankWithout)
	metrics.AddMismatches("invoice_without_bank_tx", payload.TenantID, invoiceWithout)
	metrics.AddMismatches("partial_payment", payload.TenantID, partial)
	metrics.AddMismatches("overpayment", payload.TenantID, over)

	if err := j.Cache.Bump(ctx); err != nil {
		logger.Warn("finalize cache bump", slog.Any("error", err))
	}

	logger.Info("completed finalize run",
		slog.String("lock_hash", outcome.Job.PeriodLockHash),
		slog.Int("timeline_entries", len(outcome.Timeline)),
		slog.Int("friction_score", outcome.Friction.Score))
	return resultErr
}

func (j *FinalizeJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *FinalizeJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
