package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskEstimateRecompute recalculates one stored document, or every open one.
	TaskEstimateRecompute = "estimates:recompute"
	// RecomputeAll selects every editable document.
	RecomputeAll = "all"
)

// EstimateRecomputePayload names the document to recalculate and why.
type EstimateRecomputePayload struct {
	DocumentID string `json:"document_id"`
	Reason     string `json:"reason,omitempty"`
}

// NewEstimateRecomputeTask constructs an Asynq task. Tasks for the same document are
// de-duplicated for a short window.
func NewEstimateRecomputeTask(payload EstimateRecomputePayload) (*asynq.Task, error) {
	if payload.DocumentID == "" {
		return nil, errors.New("jobs: recompute payload requires a document id")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEstimateRecompute, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(5),
		asynq.Unique(30*time.Second),
	), nil
}

// DecodeEstimateRecomputePayload parses a task body.
func DecodeEstimateRecomputePayload(task *asynq.Task) (EstimateRecomputePayload, error) {
	var payload EstimateRecomputePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, err
	}
	if payload.DocumentID == "" {
		return payload, errors.New("jobs: recompute payload requires a document id")
	}
	return payload, nil
}
