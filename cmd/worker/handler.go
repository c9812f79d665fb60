package main

import (
	"context"
	"errors"
	"time"

	"github.com/therealutkarshpriyadarshi/verticut/internal/logging"
	"github.com/therealutkarshpriyadarshi/verticut/internal/metrics"
	"github.com/therealutkarshpriyadarshi/verticut/internal/queue"
	"github.com/therealutkarshpriyadarshi/verticut/internal/transcoder"
)

// JobProcessor runs one export job by ID
type JobProcessor interface {
	ProcessJob(ctx context.Context, jobID string) error
}

// newExportHandler adapts a processor to the queue. A busy engine sends the
// message back through the retry queue; any other failure is already on the
// job record, so the message is dropped.
func newExportHandler(p JobProcessor, logger *logging.Logger) queue.Handler {
	return func(ctx context.Context, msg queue.ExportMessage) error {
		l := logger.WithJobID(msg.JobID)
		if !msg.EnqueuedAt.IsZero() {
			metrics.RecordQueueTime(time.Since(msg.EnqueuedAt).Seconds())
		}

		l.Info("processing export")
		err := p.ProcessJob(ctx, msg.JobID)
		switch {
		case err == nil:
			l.Info("export finished")
			return nil
		case errors.Is(err, transcoder.ErrExportInProgress):
			l.WithError(err).Warn("engine busy, export will be retried")
			return queue.Retry(err)
		default:
			l.ErrorWithErr("export failed", err)
			return err
		}
	}
}

// QueueInspector reports the depth of the export and dead letter queues
type QueueInspector interface {
	GetQueueDepth() (int, error)
	GetDLQDepth() (int, error)
}

// ActiveCounter reports exports currently rendering
type ActiveCounter interface {
	CountActiveExportJobs(ctx context.Context) (int, error)
}

// reportQueueMetrics refreshes the export gauges until ctx is done
func reportQueueMetrics(ctx context.Context, q QueueInspector, active ActiveCounter, interval time.Duration, logger *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		updateQueueMetrics(ctx, q, active, logger)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func updateQueueMetrics(ctx context.Context, q QueueInspector, active ActiveCounter, logger *logging.Logger) {
	depth, err := q.GetQueueDepth()
	if err != nil {
		logger.WithError(err).Debug("failed to read queue depth")
		return
	}
	running, err := active.CountActiveExportJobs(ctx)
	if err != nil {
		logger.WithError(err).Debug("failed to count active exports")
		return
	}
	metrics.UpdateExportMetrics(running, depth)

	dead, err := q.GetDLQDepth()
	if err != nil {
		logger.WithError(err).Debug("failed to read dead letter depth")
		return
	}
	metrics.UpdateDeadLetterDepth(dead)
}
