package bulk

import (
	"fmt"
	"reflect"
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/domain"
)

// mutation decides the fate of one submission: a replacement document, a skip
// reason, or a per-item failure.
type mutation func(cur *domain.Submission, now time.Time) (*domain.Submission, string, error)

func mutationFor(job *domain.Job) (mutation, error) {
	switch job.Type {
	case domain.JobArchiveSubmissions:
		return archiveMutation(job.CreatedBy, job.Options), nil
	case domain.JobUpdateStatus, domain.JobUpdateMetadata:
		return updateMutation(job.CreatedBy, job.Options, job.Updates), nil
	default:
		return nil, fmt.Errorf("unsupported job type %q", job.Type)
	}
}

func archiveMutation(by string, opts domain.JobOptions) mutation {
	return func(cur *domain.Submission, now time.Time) (*domain.Submission, string, error) {
		skip, err := domain.ArchiveDecision(cur.Status, opts.Force)
		if err != nil || skip != "" {
			return nil, skip, err
		}
		next := cur.Clone()
		next.MarkArchived(by, opts.Reason, now)
		return next, "", nil
	}
}

func updateMutation(by string, opts domain.JobOptions, updates *domain.JobUpdates) mutation {
	return func(cur *domain.Submission, now time.Time) (*domain.Submission, string, error) {
		next := cur.Clone()
		changed := false

		if updates.Status != "" && updates.Status != cur.Status {
			if !domain.CanTransition(cur.Status, updates.Status) {
				return nil, "", fmt.Errorf("invalid status transition from %s to %s", cur.Status, updates.Status)
			}
			switch updates.Status {
			case domain.SubmissionCompleted:
				completedAt := now
				next.CompletedAt = &completedAt
				next.Status = updates.Status
			case domain.SubmissionArchived:
				next.MarkArchived(by, opts.Reason, now)
			default:
				next.Status = updates.Status
			}
			changed = true
		}

		if len(updates.Metadata) > 0 {
			if next.Metadata == nil {
				next.Metadata = make(map[string]interface{}, len(updates.Metadata))
			}
			for k, v := range updates.Metadata {
				if existing, ok := next.Metadata[k]; ok && reflect.DeepEqual(existing, v) {
					continue
				}
				next.Metadata[k] = v
				changed = true
			}
		}

		if !changed {
			return nil, domain.SkipUnchanged, nil
		}
		next.UpdatedAt = now
		next.UpdatedBy = by
		return next, "", nil
	}
}
