package firestoredb

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/cuongbtq/questionnaire-be/internal/domain"
)

func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	if _, err := s.jobs().Doc(job.ID).Create(ctx, job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func decodeJob(snap *firestore.DocumentSnapshot) (*domain.Job, error) {
	var job domain.Job
	if err := snap.DataTo(&job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", snap.Ref.ID, err)
	}
	job.ID = snap.Ref.ID
	return &job, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	snap, err := s.jobs().Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return decodeJob(snap)
}

// ClaimJob flips pending to in_progress inside a transaction so that exactly one
// of several concurrent deliveries wins.
func (s *Store) ClaimJob(ctx context.Context, id string, now time.Time) (*domain.Job, error) {
	ref := s.jobs().Doc(id)
	var claimed *domain.Job
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return domain.ErrJobNotFound
			}
			return err
		}
		job, err := decodeJob(snap)
		if err != nil {
			return err
		}
		if job.Status != domain.JobStatusPending {
			return domain.ErrJobAlreadyClaimed
		}
		job.Status = domain.JobStatusInProgress
		job.StartedAt = &now
		job.UpdatedAt = now
		claimed = job
		return tx.Update(ref, []firestore.Update{
			{Path: "status", Value: job.Status},
			{Path: "startedAt", Value: now},
			{Path: "updatedAt", Value: now},
		})
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// RecordChunk increments the counters server-side so a reader never sees a
// partially applied delta.
func (s *Store) RecordChunk(ctx context.Context, id string, delta domain.Progress, result domain.JobResult, now time.Time) error {
	_, err := s.jobs().Doc(id).Update(ctx, []firestore.Update{
		{Path: "progress.processed", Value: firestore.Increment(delta.Processed)},
		{Path: "progress.successful", Value: firestore.Increment(delta.Successful)},
		{Path: "progress.failed", Value: firestore.Increment(delta.Failed)},
		{Path: "progress.skipped", Value: firestore.Increment(delta.Skipped)},
		{Path: "result", Value: result},
		{Path: "updatedAt", Value: now},
	})
	return s.jobUpdateError(err, "record chunk")
}

func (s *Store) FinishJob(ctx context.Context, id string, status domain.JobStatus, errMsg string, result domain.JobResult, now time.Time) error {
	p := result.Progress()
	updates := []firestore.Update{
		{Path: "status", Value: status},
		{Path: "result", Value: result},
		{Path: "progress.processed", Value: p.Processed},
		{Path: "progress.successful", Value: p.Successful},
		{Path: "progress.failed", Value: p.Failed},
		{Path: "progress.skipped", Value: p.Skipped},
		{Path: "completedAt", Value: now},
		{Path: "updatedAt", Value: now},
	}
	if errMsg != "" {
		updates = append(updates, firestore.Update{Path: "error", Value: errMsg})
	}
	_, err := s.jobs().Doc(id).Update(ctx, updates)
	return s.jobUpdateError(err, "finish job")
}

func (s *Store) RequestCancel(ctx context.Context, id string, now time.Time) error {
	_, err := s.jobs().Doc(id).Update(ctx, []firestore.Update{
		{Path: "cancelRequested", Value: true},
		{Path: "updatedAt", Value: now},
	})
	return s.jobUpdateError(err, "request cancel")
}

func (s *Store) jobUpdateError(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case isNotFound(err):
		return domain.ErrJobNotFound
	default:
		return fmt.Errorf("failed to %s: %w", op, err)
	}
}
