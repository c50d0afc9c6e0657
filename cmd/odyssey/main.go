package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-construction/internal/app"
	"github.com/odyssey-erp/odyssey-construction/internal/estimates"
	estimateshttp "github.com/odyssey-erp/odyssey-construction/internal/estimates/http"
	"github.com/odyssey-erp/odyssey-construction/internal/observability"
	"github.com/odyssey-erp/odyssey-construction/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-construction/internal/platform/db"
	"github.com/odyssey-erp/odyssey-construction/jobs"
)

func main() {
	if app.SkipStartup() {
		slog.Default().Info("startup skipped", slog.String("env", app.SkipStartupEnv))
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if err := db.Migrate(ctx, dbpool, logger); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		os.Exit(1)
	}

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

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	lang, err := language.Parse(cfg.ExportLanguage)
	if err != nil {
		logger.Warn("unknown export language, using english", slog.String("language", cfg.ExportLanguage))
		lang = language.English
	}

	estimateCache := estimates.NewCache(redisClient, cfg.CacheTTL)
	estimateService := estimates.NewService(estimates.NewRepository(dbpool), estimateCache, estimates.ServiceConfig{
		Precision: cfg.CurrencyPrecision,
		Currency:  cfg.DefaultCurrency,
		Language:  lang,
		Logger:    logger,
		Enqueuer:  jobClient,
		Recorder:  metrics,
	})
	if err := estimateCache.ListenForInvalidation(ctx, func(id string) {
		logger.Debug("estimate cache invalidated", slog.String("document_id", id))
	}); err != nil {
		logger.Warn("subscribe cache invalidation", slog.Any("error", err))
	}

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		EstimateHandler: estimateshttp.NewHandler(logger, estimateService),
		JobHandler:      jobs.NewHandler(inspector, logger),
		Metrics:         metrics,
		Checks: map[string]app.Pinger{
			"postgres": app.PingFunc(dbpool.Ping),
			"redis": app.PingFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
