package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/cuongbtq/questionnaire-be/internal/metrics"
	"github.com/cuongbtq/questionnaire-be/internal/store"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Runner drives a claimed job through its chunks.
type Runner struct {
	jobs        store.JobStore
	submissions store.SubmissionStore
	templates   store.TemplateStore
	throttle    *rate.Limiter
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

type RunnerConfig struct {
	Jobs        store.JobStore
	Submissions store.SubmissionStore
	Templates   store.TemplateStore
	Logger      *slog.Logger
	// ChunksPerSecond caps chunk commits; zero means unthrottled.
	ChunksPerSecond float64
	Burst           int
	Now             func() time.Time
}

func NewRunner(cfg *RunnerConfig) *Runner {
	limit := rate.Inf
	if cfg.ChunksPerSecond > 0 {
		limit = rate.Limit(cfg.ChunksPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		jobs:        cfg.Jobs,
		submissions: cfg.Submissions,
		templates:   cfg.Templates,
		throttle:    rate.NewLimiter(limit, burst),
		logger:      cfg.Logger,
		now:         now,
		newID:       func() string { return uuid.New().String() },
	}
}

// RunJob executes a pending job to a terminal status. Errors returned before the
// claim mean the job was not touched; once claimed, failures are recorded on the
// job and only bookkeeping failures are returned.
func (r *Runner) RunJob(ctx context.Context, jobID string) error {
	logCtx := r.logger.With(slog.String("job_id", jobID))

	job, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return err
		}
		return domain.NewRetryableError(fmt.Errorf("failed to load job: %w", err))
	}
	if job.Status.IsTerminal() {
		logCtx.Info("Job already finished, skipping", slog.String("status", string(job.Status)))
		return nil
	}
	if job.Status != domain.JobStatusPending {
		return domain.ErrJobAlreadyClaimed
	}

	if err := validateJob(job); err != nil {
		logCtx.Warn("Job failed validation", slog.String("error", err.Error()))
		r.recordFinish(ctx, job, domain.JobStatusFailed, err.Error(), job.Result)
		return nil
	}

	claimed, err := r.jobs.ClaimJob(ctx, jobID, r.now())
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) || errors.Is(err, domain.ErrJobNotFound) {
			return err
		}
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	logCtx.Info("Job claimed",
		slog.String("job_type", string(claimed.Type)),
		slog.Int("total", claimed.Progress.Total),
		slog.Int("batch_size", claimed.Options.BatchSize),
	)

	status, errMsg, result := r.execute(ctx, claimed, logCtx)
	return r.recordFinish(ctx, claimed, status, errMsg, result)
}

func (r *Runner) execute(ctx context.Context, job *domain.Job, logCtx *slog.Logger) (domain.JobStatus, string, domain.JobResult) {
	result := domain.JobResult{Successful: []string{}, Failed: []domain.FailedItem{}, Skipped: []domain.SkippedItem{}}

	for i, chunk := range store.Chunk(job.TargetIDs, job.Options.BatchSize) {
		if err := r.throttle.Wait(ctx); err != nil {
			return domain.JobStatusFailed, fmt.Sprintf("chunk %d: %v", i, err), result
		}

		cancelled, err := r.cancelRequested(ctx, job.ID)
		if err != nil {
			return domain.JobStatusFailed, err.Error(), result
		}
		if cancelled {
			logCtx.Info("Job cancelled between chunks", slog.Int("chunk", i))
			return domain.JobStatusCancelled, "", result
		}

		start := time.Now()
		outcome, err := r.applyChunk(ctx, job, chunk)
		if err != nil {
			logCtx.Error("Chunk failed",
				slog.Int("chunk", i),
				slog.String("error", err.Error()),
			)
			return domain.JobStatusFailed, err.Error(), result
		}

		result.Merge(outcome)
		delta := outcome.Progress()
		if err := r.jobs.RecordChunk(ctx, job.ID, delta, result, r.now()); err != nil {
			logCtx.Error("Failed to record chunk progress",
				slog.Int("chunk", i),
				slog.String("error", err.Error()),
			)
			return domain.JobStatusFailed, fmt.Sprintf("failed to record progress: %v", err), result
		}
		metrics.RecordChunk(string(job.Type), delta.Successful, delta.Failed, delta.Skipped, time.Since(start))

		logCtx.Debug("Chunk committed",
			slog.Int("chunk", i),
			slog.Int("successful", delta.Successful),
			slog.Int("failed", delta.Failed),
			slog.Int("skipped", delta.Skipped),
		)
	}

	if len(result.Failed) > 0 {
		return domain.JobStatusPartiallyCompleted, "", result
	}
	return domain.JobStatusCompleted, "", result
}

func (r *Runner) cancelRequested(ctx context.Context, jobID string) (bool, error) {
	current, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to re-read job: %w", err)
	}
	return current.CancelRequested, nil
}

// applyChunk commits one chunk atomically and returns its per-item outcomes.
func (r *Runner) applyChunk(ctx context.Context, job *domain.Job, ids []string) (domain.JobResult, error) {
	if job.Type == domain.JobDeleteTemplates {
		return r.deleteTemplates(ctx, ids)
	}

	mutate, err := mutationFor(job)
	if err != nil {
		return domain.JobResult{}, err
	}

	var outcome domain.JobResult
	err = r.submissions.MutateSubmissions(ctx, ids, func(existing map[string]*domain.Submission) (map[string]store.SubmissionWrite, error) {
		// Reset on every attempt: the store may retry the transaction.
		outcome = domain.JobResult{}
		now := r.now()
		writes := make(map[string]store.SubmissionWrite, len(existing))
		for _, id := range ids {
			cur, ok := existing[id]
			if !ok {
				outcome.Skipped = append(outcome.Skipped, domain.SkippedItem{ID: id, Reason: domain.SkipNotFound})
				continue
			}
			next, skip, failErr := mutate(cur, now)
			switch {
			case failErr != nil:
				outcome.Failed = append(outcome.Failed, domain.FailedItem{ID: id, Error: failErr.Error()})
			case skip != "":
				outcome.Skipped = append(outcome.Skipped, domain.SkippedItem{ID: id, Reason: skip})
			default:
				next.Version = cur.Version + 1
				writes[id] = store.SubmissionWrite{
					Submission: next,
					Version:    domain.NewVersion(r.newID(), cur, job.CreatedBy, changeTypeOf(job.Type, cur, next), now),
				}
				outcome.Successful = append(outcome.Successful, id)
			}
		}
		return writes, nil
	})
	if err != nil {
		return domain.JobResult{}, fmt.Errorf("failed to commit chunk: %w", err)
	}
	return outcome, nil
}

func changeTypeOf(jobType domain.JobType, cur, next *domain.Submission) domain.ChangeType {
	if jobType == domain.JobArchiveSubmissions || cur.Status != next.Status {
		return domain.ChangeStatus
	}
	return domain.ChangeMetadata
}

func (r *Runner) deleteTemplates(ctx context.Context, ids []string) (domain.JobResult, error) {
	deleted, err := r.templates.DeleteTemplates(ctx, ids)
	if err != nil {
		return domain.JobResult{}, fmt.Errorf("failed to delete templates: %w", err)
	}
	gone := make(map[string]bool, len(deleted))
	for _, id := range deleted {
		gone[id] = true
	}
	var outcome domain.JobResult
	for _, id := range ids {
		if gone[id] {
			outcome.Successful = append(outcome.Successful, id)
		} else {
			outcome.Skipped = append(outcome.Skipped, domain.SkippedItem{ID: id, Reason: domain.SkipNotFound})
		}
	}
	return outcome, nil
}

// finishTimeout bounds the terminal write, which must land even when the run
// context has expired.
const finishTimeout = 30 * time.Second

func (r *Runner) recordFinish(ctx context.Context, job *domain.Job, status domain.JobStatus, errMsg string, result domain.JobResult) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if err := r.jobs.FinishJob(ctx, job.ID, status, errMsg, result, r.now()); err != nil {
		r.logger.Error("Failed to record job completion",
			slog.String("job_id", job.ID),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to finish job: %w", err)
	}
	metrics.RecordJobFinished(string(job.Type), string(status))

	r.logger.Info("Job finished",
		slog.String("job_id", job.ID),
		slog.String("status", string(status)),
		slog.Int("successful", len(result.Successful)),
		slog.Int("failed", len(result.Failed)),
		slog.Int("skipped", len(result.Skipped)),
	)
	return nil
}
