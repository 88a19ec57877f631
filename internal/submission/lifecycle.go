package submission

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/domain"
)

// UpdateRequest changes the status, responses or template of a submission.
// Zero values mean "leave unchanged".
type UpdateRequest struct {
	SubmissionID string
	Status       domain.SubmissionStatus
	Responses    map[string]interface{}
	TemplateID   string
}

// Update applies a versioned change: the pre-update snapshot is appended to the
// version history in the same atomic operation that writes the new state.
func (s *Service) Update(ctx context.Context, id domain.Identity, req UpdateRequest) error {
	if req.SubmissionID == "" {
		return domain.InvalidField("submissionId", "submissionId is required")
	}
	if req.Status == "" && req.Responses == nil && req.TemplateID == "" {
		return domain.InvalidArgument("no changes requested")
	}
	if req.Status != "" && !req.Status.IsValid() {
		return domain.InvalidField("status", "unknown status %q", req.Status)
	}
	// The template the resulting responses must satisfy: the new one when
	// templateId changes, otherwise the submission's current one.
	var tmpl *domain.Template
	if req.TemplateID != "" || req.Responses != nil {
		// A missing submission reports not-found before the admin check.
		sub, err := s.load(ctx, req.SubmissionID)
		if err != nil {
			return err
		}
		templateID := sub.TemplateID
		if req.TemplateID != "" {
			if !id.IsAdmin() {
				e := domain.PermissionDenied("only admins can update templateId")
				e.Field = "templateId"
				return e
			}
			templateID = req.TemplateID
		}
		tmpl, err = s.getTemplate(ctx, templateID)
		switch {
		case err == nil:
		case req.TemplateID == "" && domain.CodeOf(err) == domain.CodeNotFound:
			// Responses of a submission whose template was deleted are not checked.
			tmpl = &domain.Template{ID: templateID}
		default:
			return err
		}
	}

	var changeType domain.ChangeType
	err := s.submissions.UpdateSubmission(ctx, req.SubmissionID, func(cur *domain.Submission) (*domain.Submission, *domain.Version, error) {
		if !id.CanAccess(cur.UserID) {
			return nil, nil, domain.PermissionDenied("not authorized to update this submission")
		}
		if req.Status != "" && !domain.CanTransition(cur.Status, req.Status) {
			return nil, nil, domain.InvalidField("status", "invalid status transition from %s to %s", cur.Status, req.Status)
		}

		now := s.now()
		next := cur.Clone()
		if req.Status != "" {
			next.Status = req.Status
			switch req.Status {
			case domain.SubmissionCompleted:
				completedAt := now
				next.CompletedAt = &completedAt
			case domain.SubmissionArchived:
				archivedAt := now
				next.ArchivedAt = &archivedAt
				next.ArchivedBy = id.UID
			}
		}
		if req.Responses != nil {
			next.Responses = req.Responses
		}
		if req.TemplateID != "" {
			next.TemplateID = req.TemplateID
		}
		if tmpl != nil {
			if next.TemplateID != tmpl.ID {
				return nil, nil, domain.FailedPrecondition("submission template changed during update, retry")
			}
			if err := validateResponses(tmpl, next.Responses); err != nil {
				return nil, nil, err
			}
		}
		next.UpdatedAt = now
		next.UpdatedBy = id.UID
		next.Version = cur.Version + 1

		changeType = domain.ClassifyChange(req.Status != "", req.Responses != nil, req.TemplateID != "")
		return next, s.versionOf(cur, id.UID, changeType, now), nil
	})
	if err != nil {
		return mapStoreError(err, req.SubmissionID)
	}

	s.logger.Info("Submission updated",
		slog.String("submission_id", req.SubmissionID),
		slog.String("changed_by", id.UID),
		slog.String("change_type", string(changeType)),
	)
	return nil
}

func (s *Service) versionOf(cur *domain.Submission, changedBy string, changeType domain.ChangeType, now time.Time) *domain.Version {
	return domain.NewVersion(s.newID(), cur, changedBy, changeType, now)
}
