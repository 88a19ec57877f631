package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/domain"
)

// processJob runs one job under the job timeout while a heartbeat reports its
// progress. A nil return means the delivery can be acknowledged.
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, msg.JobID, heartbeatDone)
	defer close(heartbeatDone)

	start := time.Now()
	err := w.runner.RunJob(jobCtx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			w.logger.Warn("Job already claimed, skipping",
				slog.String("job_id", msg.JobID),
			)
		}
		return err
	}

	w.logger.Info("Job run finished",
		slog.String("job_id", msg.JobID),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// sendJobHeartbeat periodically logs the job's progress while it runs
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	if w.jobs == nil {
		return
	}
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			job, err := w.jobs.GetJob(ctx, jobID)
			if err != nil {
				w.logger.Warn("Failed to read job progress",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
				continue
			}
			w.logger.Info("Job heartbeat",
				slog.String("job_id", jobID),
				slog.String("status", string(job.Status)),
				slog.Int("processed", job.Progress.Processed),
				slog.Int("total", job.Progress.Total),
			)
		}
	}
}
