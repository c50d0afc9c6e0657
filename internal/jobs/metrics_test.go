package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	if err := metrics.Track("estimates:recompute").End(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	boom := errors.New("boom")
	if err := metrics.Track("estimates:recompute").End(boom); !errors.Is(err, boom) {
		t.Fatalf("expected error to pass through, got %v", err)
	}

	if got := testutil.ToFloat64(metrics.runs.WithLabelValues("estimates:recompute", "success")); got != 1 {
		t.Fatalf("expected one success, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.failures.WithLabelValues("estimates:recompute")); got != 1 {
		t.Fatalf("expected one failure, got %v", got)
	}
}

func TestAddDocumentsIgnoresEmptyRuns(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	metrics.AddDocuments("estimates:recompute", 0)
	metrics.AddDocuments("estimates:recompute", 4)

	if got := testutil.ToFloat64(metrics.documents.WithLabelValues("estimates:recompute")); got != 4 {
		t.Fatalf("expected 4 documents, got %v", got)
	}

	var nilMetrics *Metrics
	nilMetrics.AddDocuments("estimates:recompute", 2)
	if err := nilMetrics.Track("estimates:recompute").End(nil); err != nil {
		t.Fatalf("nil tracker should be inert: %v", err)
	}
}
