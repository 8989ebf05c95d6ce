package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/cablegrid/cablegrid/internal/app"
	"github.com/cablegrid/cablegrid/internal/billing"
	jobmetrics "github.com/cablegrid/cablegrid/internal/jobs"
	"github.com/cablegrid/cablegrid/internal/platform/db"
	"github.com/cablegrid/cablegrid/jobs"
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

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	summaryCache := billing.NewSummaryCache(redisClient, cfg.SummaryCacheTTL)
	billingRepo := billing.NewRepository(pool)
	billingService := billing.NewService(billingRepo, summaryCache, logger, billing.ServiceConfig{
		OverflowCap: cfg.BillingOverflowCap,
		Location:    cfg.Location(),
	})

	recurringJob := jobs.NewRecurringBillsJob(billingService, logger, jobmetrics.NewMetrics(nil))

	recurringTask, err := jobs.NewRecurringBillsTask("")
	if err != nil {
		logger.Error("build recurring task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskBillingRecurring, Handler: recurringJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.BillingRecurringCron, Task: recurringTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
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
