// Package bulk accepts, runs and reports on chunked bulk mutations.
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
)

// SubmitResult is returned to the caller of a submit operation.
type SubmitResult struct {
	JobID   string           `json:"jobId"`
	Status  domain.JobStatus `json:"status"`
	Message string           `json:"message"`
	DryRun  bool             `json:"dryRun"`
}

// Service accepts bulk jobs and answers status and cancel requests.
type Service struct {
	jobs        store.JobStore
	submissions store.SubmissionStore
	dispatcher  Dispatcher
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

type ServiceConfig struct {
	Jobs        store.JobStore
	Submissions store.SubmissionStore
	Dispatcher  Dispatcher
	Logger      *slog.Logger
	Now         func() time.Time
}

func NewService(cfg *ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		jobs:        cfg.Jobs,
		submissions: cfg.Submissions,
		dispatcher:  cfg.Dispatcher,
		logger:      cfg.Logger,
		now:         now,
		newID:       func() string { return uuid.New().String() },
	}
}

// SubmitArchive creates an archive_submissions job.
func (s *Service) SubmitArchive(ctx context.Context, id domain.Identity, req ArchiveRequest) (*SubmitResult, error) {
	if !id.IsAdmin() {
		return nil, domain.PermissionDenied("only administrators can run bulk operations")
	}
	if err := validateTargets(req.TargetIDs, req.Filters); err != nil {
		return nil, err
	}
	if err := normalizeOptions(&req.Options); err != nil {
		return nil, err
	}

	targets, err := s.resolveTargets(ctx, req.TargetIDs, req.Filters)
	if err != nil {
		return nil, err
	}

	return s.submit(ctx, &domain.Job{
		Type:      domain.JobArchiveSubmissions,
		CreatedBy: id.UID,
		TargetIDs: targets,
		Filters:   req.Filters,
		Options:   req.Options,
	})
}

// SubmitUpdate creates an update_status job when a status is requested,
// otherwise an update_metadata job.
func (s *Service) SubmitUpdate(ctx context.Context, id domain.Identity, req UpdateRequest) (*SubmitResult, error) {
	if !id.IsAdmin() {
		return nil, domain.PermissionDenied("only administrators can run bulk operations")
	}
	if err := validateTargets(req.TargetIDs, req.Filters); err != nil {
		return nil, err
	}
	if err := validateUpdates(req.Updates); err != nil {
		return nil, err
	}
	if err := normalizeOptions(&req.Options); err != nil {
		return nil, err
	}

	targets, err := s.resolveTargets(ctx, req.TargetIDs, req.Filters)
	if err != nil {
		return nil, err
	}

	jobType := domain.JobUpdateMetadata
	if req.Updates.Status != "" {
		jobType = domain.JobUpdateStatus
	}
	return s.submit(ctx, &domain.Job{
		Type:      jobType,
		CreatedBy: id.UID,
		TargetIDs: targets,
		Filters:   req.Filters,
		Updates:   req.Updates,
		Options:   req.Options,
	})
}

// SubmitTemplateDelete creates a delete_templates job.
func (s *Service) SubmitTemplateDelete(ctx context.Context, id domain.Identity, req TemplateDeleteRequest) (*SubmitResult, error) {
	if !id.IsAdmin() {
		return nil, domain.PermissionDenied("only administrators can run bulk operations")
	}
	if len(req.TemplateIDs) == 0 {
		return nil, domain.InvalidField("templateIds", "templateIds must not be empty")
	}
	if err := normalizeOptions(&req.Options); err != nil {
		return nil, err
	}
	return s.submit(ctx, &domain.Job{
		Type:      domain.JobDeleteTemplates,
		CreatedBy: id.UID,
		TargetIDs: store.Dedupe(req.TemplateIDs),
		Options:   req.Options,
	})
}

func (s *Service) resolveTargets(ctx context.Context, ids []string, filters *domain.JobFilters) ([]string, error) {
	if len(ids) > 0 {
		return store.Dedupe(ids), nil
	}
	resolved, err := s.submissions.ResolveSubmissionIDs(ctx, toBulkFilter(filters))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bulk filters: %w", err)
	}
	return store.Dedupe(resolved), nil
}

func (s *Service) submit(ctx context.Context, job *domain.Job) (*SubmitResult, error) {
	now := s.now()
	job.ID = s.newID()
	job.Status = domain.JobStatusPending
	job.CreatedAt = now
	job.UpdatedAt = now
	job.Progress = domain.Progress{Total: len(job.TargetIDs)}
	job.Result = domain.JobResult{Successful: []string{}, Failed: []domain.FailedItem{}, Skipped: []domain.SkippedItem{}}

	logCtx := s.logger.With(
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
	)

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		logCtx.Error("Failed to create bulk job", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to create bulk job: %w", err)
	}
	metrics.RecordJobSubmitted(string(job.Type), job.Options.DryRun)

	logCtx.Info("Bulk job created",
		slog.Int("total", job.Progress.Total),
		slog.Bool("dry_run", job.Options.DryRun),
		slog.String("created_by", job.CreatedBy),
	)

	result := &SubmitResult{
		JobID:  job.ID,
		Status: domain.JobStatusPending,
		DryRun: job.Options.DryRun,
	}
	if job.Options.DryRun {
		result.Message = fmt.Sprintf("Dry run: %d items would be processed", job.Progress.Total)
		return result, nil
	}

	if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
		// The job stays pending and can be dispatched again.
		logCtx.Error("Failed to dispatch bulk job", slog.String("error", err.Error()))
		result.Message = fmt.Sprintf("Bulk operation created for %d items but could not be started yet", job.Progress.Total)
		return result, nil
	}

	result.Message = fmt.Sprintf("Bulk operation started for %d items", job.Progress.Total)
	return result, nil
}

// GetJob returns a job to its creator or to an admin.
func (s *Service) GetJob(ctx context.Context, id domain.Identity, jobID string) (*domain.Job, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil, domain.NotFound("bulk operation %s not found", jobID)
		}
		return nil, fmt.Errorf("failed to get bulk job: %w", err)
	}
	if !id.CanAccess(job.CreatedBy) {
		return nil, domain.PermissionDenied("not allowed to view this bulk operation")
	}
	return job, nil
}

// CancelJob flags a running or pending job for cancellation. The runner stops
// before its next chunk.
func (s *Service) CancelJob(ctx context.Context, id domain.Identity, jobID string) (*domain.Job, error) {
	job, err := s.GetJob(ctx, id, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, domain.FailedPrecondition("bulk operation is already %s", job.Status)
	}
	if job.Options.DryRun {
		return nil, domain.FailedPrecondition("dry-run bulk operations are never executed")
	}

	if err := s.jobs.RequestCancel(ctx, jobID, s.now()); err != nil {
		return nil, fmt.Errorf("failed to request cancellation: %w", err)
	}
	s.logger.Info("Bulk job cancellation requested",
		slog.String("job_id", jobID),
		slog.String("requested_by", id.UID),
	)

	job.CancelRequested = true
	return job, nil
}
