package submission

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/cuongbtq/questionnaire-be/internal/store"
)

// MaxBatchArchive is the largest batch archived in one synchronous call.
const MaxBatchArchive = store.MaxWriteGroup

type ArchiveRequest struct {
	SubmissionID string
	Reason       string
	Force        bool
}

// Archive moves one submission to archived through a versioned update.
func (s *Service) Archive(ctx context.Context, id domain.Identity, req ArchiveRequest) (*domain.Submission, error) {
	if req.SubmissionID == "" {
		return nil, domain.InvalidField("submissionId", "submissionId is required")
	}

	var archived *domain.Submission
	err := s.submissions.UpdateSubmission(ctx, req.SubmissionID, func(cur *domain.Submission) (*domain.Submission, *domain.Version, error) {
		if !id.CanAccess(cur.UserID) {
			return nil, nil, domain.PermissionDenied("not authorized to archive this submission")
		}
		skip, err := domain.ArchiveDecision(cur.Status, req.Force)
		if skip == domain.SkipAlreadyArchived {
			return nil, nil, domain.FailedPrecondition("submission is already archived")
		}
		if err != nil {
			return nil, nil, domain.FailedPrecondition("%s", err.Error())
		}

		now := s.now()
		next := cur.Clone()
		next.MarkArchived(id.UID, req.Reason, now)
		next.Version = cur.Version + 1
		archived = next
		return next, s.versionOf(cur, id.UID, domain.ChangeStatus, now), nil
	})
	if err != nil {
		return nil, mapStoreError(err, req.SubmissionID)
	}

	s.logger.Info("Submission archived",
		slog.String("submission_id", req.SubmissionID),
		slog.String("archived_by", id.UID),
		slog.Bool("force", req.Force),
	)
	return archived, nil
}

type BatchArchiveRequest struct {
	SubmissionIDs []string
	Reason        string
	Force         bool
}

type BatchArchiveResult struct {
	Archived []string             `json:"archived"`
	Skipped  []domain.SkippedItem `json:"skipped"`
	Failed   []domain.FailedItem  `json:"failed"`
}

// BatchArchive archives up to MaxBatchArchive submissions in one atomic write,
// appending a version entry per archived submission and reporting the outcome
// of every item.
func (s *Service) BatchArchive(ctx context.Context, id domain.Identity, req BatchArchiveRequest) (*BatchArchiveResult, error) {
	ids := store.Dedupe(req.SubmissionIDs)
	if len(ids) == 0 {
		return nil, domain.InvalidField("submissionIds", "submissionIds must not be empty")
	}
	if len(ids) > MaxBatchArchive {
		return nil, domain.InvalidField("submissionIds", "at most %d submissions can be archived at once", MaxBatchArchive)
	}

	var result BatchArchiveResult
	err := s.submissions.MutateSubmissions(ctx, ids, func(existing map[string]*domain.Submission) (map[string]store.SubmissionWrite, error) {
		result = BatchArchiveResult{Archived: []string{}, Skipped: []domain.SkippedItem{}, Failed: []domain.FailedItem{}}
		now := s.now()
		writes := make(map[string]store.SubmissionWrite, len(existing))
		for _, sid := range ids {
			cur, ok := existing[sid]
			if !ok {
				result.Skipped = append(result.Skipped, domain.SkippedItem{ID: sid, Reason: domain.SkipNotFound})
				continue
			}
			if !id.CanAccess(cur.UserID) {
				result.Failed = append(result.Failed, domain.FailedItem{ID: sid, Error: "not authorized to archive this submission"})
				continue
			}
			skip, err := domain.ArchiveDecision(cur.Status, req.Force)
			if err != nil {
				result.Failed = append(result.Failed, domain.FailedItem{ID: sid, Error: err.Error()})
				continue
			}
			if skip != "" {
				result.Skipped = append(result.Skipped, domain.SkippedItem{ID: sid, Reason: skip})
				continue
			}
			next := cur.Clone()
			next.MarkArchived(id.UID, req.Reason, now)
			next.Version = cur.Version + 1
			writes[sid] = store.SubmissionWrite{
				Submission: next,
				Version:    s.versionOf(cur, id.UID, domain.ChangeStatus, now),
			}
			result.Archived = append(result.Archived, sid)
		}
		return writes, nil
	})
	if err != nil {
		return nil, mapStoreError(err, "")
	}

	s.logger.Info("Batch archive finished",
		slog.String("archived_by", id.UID),
		slog.Int("archived", len(result.Archived)),
		slog.Int("skipped", len(result.Skipped)),
		slog.Int("failed", len(result.Failed)),
	)
	return &result, nil
}
