package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-construction/internal/jobs"
)

// ErrDocumentGone marks a recompute target that no longer exists. Such tasks are not retried.
var ErrDocumentGone = errors.New("jobs: document no longer exists")

// EstimateRecomputer is the slice of the estimates service the job drives.
type EstimateRecomputer interface {
	RecomputeDocument(ctx context.Context, id, source string) error
	RecomputeOpen(ctx context.Context) (int, error)
}

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// EstimateRecomputeJob recalculates stored documents in the background.
type EstimateRecomputeJob struct {
	Service EstimateRecomputer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewEstimateRecomputeJob initialises the recompute handler.
func NewEstimateRecomputeJob(service EstimateRecomputer, logger *slog.Logger, metrics *jobmetrics.Metrics) *EstimateRecomputeJob {
	return &EstimateRecomputeJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes one recompute task.
func (j *EstimateRecomputeJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Service == nil {
		return errors.New("estimate recompute: handler not configured")
	}
	payload, err := DecodeEstimateRecomputePayload(t)
	if err != nil {
		j.logger().Warn("discarding recompute task", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	start := time.Now()
	tracker := j.metrics().Track(TaskEstimateRecompute)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("document_id", payload.DocumentID), slog.String("reason", payload.Reason))
	if payload.DocumentID == RecomputeAll {
		count, err := j.Service.RecomputeOpen(ctx)
		j.metrics().AddDocuments(TaskEstimateRecompute, count)
		if err != nil {
			logger.Error("recompute open documents", slog.Int("documents", count), slog.Any("error", err))
			return err
		}
		logger.Info("recomputed open documents", slog.Int("documents", count), slog.Duration("duration", time.Since(start)))
		return nil
	}

	if err := j.Service.RecomputeDocument(ctx, payload.DocumentID, "job"); err != nil {
		if errors.Is(err, ErrDocumentGone) {
			logger.Warn("recompute target missing")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logger.Error("recompute document", slog.Any("error", err))
		return err
	}
	j.metrics().AddDocuments(TaskEstimateRecompute, 1)
	logger.Info("recomputed document", slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *EstimateRecomputeJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskEstimateRecompute))
	}
	return slog.Default().With(slog.String("job", TaskEstimateRecompute))
}

func (j *EstimateRecomputeJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
