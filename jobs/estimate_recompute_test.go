package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	jobmetrics "github.com/odyssey-erp/odyssey-construction/internal/jobs"
)

type stubRecomputer struct {
	docs    []string
	openN   int
	openErr error
	docErr  error
}

func (s *stubRecomputer) RecomputeDocument(ctx context.Context, id, source string) error {
	s.docs = append(s.docs, id+"/"+source)
	return s.docErr
}

func (s *stubRecomputer) RecomputeOpen(ctx context.Context) (int, error) {
	return s.openN, s.openErr
}

func newRecomputeTask(t *testing.T, id string) *asynq.Task {
	t.Helper()
	task, err := NewEstimateRecomputeTask(EstimateRecomputePayload{DocumentID: id, Reason: "test"})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	return task
}

func TestEstimateRecomputeSingleDocument(t *testing.T) {
	svc := &stubRecomputer{}
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	job := NewEstimateRecomputeJob(svc, nil, metrics)

	if err := job.Handle(context.Background(), newRecomputeTask(t, "doc-1")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(svc.docs) != 1 || svc.docs[0] != "doc-1/job" {
		t.Fatalf("unexpected calls %v", svc.docs)
	}
}

func TestEstimateRecomputeAllCountsDocuments(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc := &stubRecomputer{openN: 4}
	job := NewEstimateRecomputeJob(svc, nil, jobmetrics.NewMetrics(reg))

	if err := job.Handle(context.Background(), newRecomputeTask(t, RecomputeAll)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(svc.docs) != 0 {
		t.Fatalf("all must not recompute single documents")
	}
	const expected = `
# HELP odyssey_jobs_documents_total Documents processed by background jobs.
# TYPE odyssey_jobs_documents_total counter
odyssey_jobs_documents_total{job="estimates:recompute"} 4
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "odyssey_jobs_documents_total"); err != nil {
		t.Fatalf("documents metric: %v", err)
	}
}

func TestEstimateRecomputeSkipsRetryForMissingDocument(t *testing.T) {
	svc := &stubRecomputer{docErr: fmt.Errorf("%w: doc-1", ErrDocumentGone)}
	job := NewEstimateRecomputeJob(svc, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := job.Handle(context.Background(), newRecomputeTask(t, "doc-1"))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestEstimateRecomputeRetriesTransientErrors(t *testing.T) {
	boom := errors.New("connection reset")
	svc := &stubRecomputer{docErr: boom}
	job := NewEstimateRecomputeJob(svc, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := job.Handle(context.Background(), newRecomputeTask(t, "doc-1"))
	if !errors.Is(err, boom) || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestEstimateRecomputeRejectsBadPayload(t *testing.T) {
	job := NewEstimateRecomputeJob(&stubRecomputer{}, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskEstimateRecompute, []byte(`{}`)))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}

	var nilJob *EstimateRecomputeJob
	if err := nilJob.Handle(context.Background(), asynq.NewTask(TaskEstimateRecompute, nil)); err == nil {
		t.Fatalf("expected error from unconfigured job")
	}
}
