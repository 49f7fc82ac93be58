package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/clearledger/clearledger/internal/app"
	"github.com/clearledger/clearledger/internal/finalize"
	"github.com/clearledger/clearledger/internal/platform/cache"
	"github.com/clearledger/clearledger/internal/platform/db"
	"github.com/clearledger/clearledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	jsonCache := cache.NewJSONCache(redisClient, cfg.ReadModelCacheTTL)

	asOfDays, err := cfg.AsOfDays()
	if err != nil {
		logger.Error("parse as-of days", slog.Any("error", err))
		os.Exit(1)
	}
	vatBuckets, err := cfg.VATBuckets()
	if err != nil {
		logger.Error("parse vat buckets", slog.Any("error", err))
		os.Exit(1)
	}

	store := finalize.NewRepository(pool)
	closeService := finalize.NewService(store, finalize.Config{
		Currency:       cfg.DefaultCurrency,
		AsOfDays:       asOfDays,
		VATRateBuckets: vatBuckets,
	}, logger)

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	finalizeJob := jobs.NewFinalizeJob(closeService, jsonCache, logger, nil)
	sweepJob := jobs.NewStaleSweepJob(store, logger, nil)
	monthlyJob := jobs.NewMonthlyJob(queueClient, logger, nil)

	sweepTask, err := jobs.NewStaleSweepTask(jobs.StaleSweepPayload{
		OlderThanMinutes: int(cfg.StaleJobAfter.Minutes()),
	})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	cron := []jobs.CronRegistration{
		{Spec: "*/15 * * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
	}
	if tenants := cfg.Tenants(); len(tenants) > 0 {
		monthlyTask, err := jobs.NewMonthlyTask(jobs.MonthlyPayload{Tenants: tenants})
		if err != nil {
			logger.Error("build monthly task", slog.Any("error", err))
			os.Exit(1)
		}
		// First of the month, 06:00 UTC.
		cron = append(cron, jobs.CronRegistration{Spec: "0 6 1 * *", Task: monthlyTask, Options: []asynq.Option{asynq.MaxRetry(2)}})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCloseFinalize, Handler: finalizeJob.Handle},
			{Type: jobs.TaskCloseStaleSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskCloseMonthly, Handler: monthlyJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
