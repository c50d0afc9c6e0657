package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-construction/jobs"
)

// queueCLI wraps manual management helpers for the recompute queue.
type queueCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

func newQueueCLI(redisAddr string) *queueCLI {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return &queueCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *queueCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Enqueue schedules a recompute of one document, or of every open one when id is "all".
func (c *queueCLI) Enqueue(ctx context.Context, id, reason string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("queue cli: client not configured")
	}
	task, err := jobs.NewEstimateRecomputeTask(jobs.EstimateRecomputePayload{DocumentID: id, Reason: reason})
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// queueStats summarises the current queue state.
type queueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// Inspect reports the metrics of the default queue.
func (c *queueCLI) Inspect() (queueStats, error) {
	if c == nil || c.inspector == nil {
		return queueStats{}, errors.New("queue cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return queueStats{}, err
	}
	stats := queueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

func newEnqueueCmd(e *env) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "enqueue <document-id|all>",
		Short: "Schedule a background recompute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := newQueueCLI(e.cfg.RedisAddr)
			defer func() { _ = q.Close() }()
			info, err := q.Enqueue(cmd.Context(), args[0], reason)
			if errors.Is(err, asynq.ErrDuplicateTask) {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "recompute for %s already pending\n", args[0])
				return nil
			}
			if err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s (%s)\n", info.ID, info.Queue)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual", "reason recorded with the task")
	return cmd
}

func newQueueCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show recompute queue statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := newQueueCLI(e.cfg.RedisAddr)
			defer func() { _ = q.Close() }()
			stats, err := q.Inspect()
			if err != nil {
				return fmt.Errorf("inspect queue: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
			_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
			return tw.Flush()
		},
	}
}
