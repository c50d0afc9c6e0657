package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-construction/internal/app"
	"github.com/odyssey-erp/odyssey-construction/internal/estimates"
	jobmetrics "github.com/odyssey-erp/odyssey-construction/internal/jobs"
	"github.com/odyssey-erp/odyssey-construction/internal/observability"
	"github.com/odyssey-erp/odyssey-construction/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-construction/internal/platform/db"
	"github.com/odyssey-erp/odyssey-construction/jobs"
)

func main() {
	if app.SkipStartup() {
		slog.Default().Info("worker startup skipped", slog.String("env", app.SkipStartupEnv))
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	estimateService := estimates.NewService(
		estimates.NewRepository(pool),
		estimates.NewCache(redisClient, cfg.CacheTTL),
		estimates.ServiceConfig{
			Precision: cfg.CurrencyPrecision,
			Currency:  cfg.DefaultCurrency,
			Logger:    logger,
			Recorder:  metrics,
		},
	)
	recomputeJob := jobs.NewEstimateRecomputeJob(estimateService, logger, jobmetrics.NewMetrics(metrics.Registerer()))

	nightlyTask, err := jobs.NewEstimateRecomputeTask(jobs.EstimateRecomputePayload{
		DocumentID: jobs.RecomputeAll,
		Reason:     "nightly",
	})
	if err != nil {
		logger.Error("build recompute task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskEstimateRecompute, Handler: recomputeJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.RecomputeCron, Task: nightlyTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	mux := chi.NewRouter()
	mux.Method(http.MethodGet, "/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("starting worker metrics server", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
