// Package submission serves paged submission reads and the submission lifecycle.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/cuongbtq/questionnaire-be/internal/store"
	"github.com/google/uuid"
)

const defaultSlowQueryThreshold = 500 * time.Millisecond

type Service struct {
	submissions        store.SubmissionStore
	templates          store.TemplateStore
	logger             *slog.Logger
	now                func() time.Time
	newID              func() string
	slowQueryThreshold time.Duration
}

type Config struct {
	Submissions store.SubmissionStore
	Templates   store.TemplateStore
	Logger      *slog.Logger
	Now         func() time.Time
	// SlowQueryThreshold is the page-read latency above which queries are logged.
	SlowQueryThreshold time.Duration
}

func NewService(cfg *Config) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	threshold := cfg.SlowQueryThreshold
	if threshold <= 0 {
		threshold = defaultSlowQueryThreshold
	}
	return &Service{
		submissions:        cfg.Submissions,
		templates:          cfg.Templates,
		logger:             cfg.Logger,
		now:                now,
		newID:              func() string { return uuid.New().String() },
		slowQueryThreshold: threshold,
	}
}

// CreateRequest describes a new submission.
type CreateRequest struct {
	UserID     string
	TemplateID string
	Responses  map[string]interface{}
	Status     domain.SubmissionStatus
}

// Create stores a new submission at version 0.
func (s *Service) Create(ctx context.Context, id domain.Identity, req CreateRequest) (*domain.Submission, error) {
	if req.UserID == "" {
		req.UserID = id.UID
	}
	if req.TemplateID == "" {
		return nil, domain.InvalidField("templateId", "templateId is required")
	}
	if req.Responses == nil {
		return nil, domain.InvalidField("responses", "responses must be an object")
	}
	if req.Status == "" {
		req.Status = domain.SubmissionInProgress
	}
	if req.Status != domain.SubmissionInProgress && req.Status != domain.SubmissionCompleted {
		return nil, domain.InvalidField("status", "new submissions must be in_progress or completed")
	}
	if !id.CanAccess(req.UserID) {
		return nil, domain.PermissionDenied("cannot create submissions for another user")
	}
	tmpl, err := s.getTemplate(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}
	if err := validateResponses(tmpl, req.Responses); err != nil {
		return nil, err
	}

	now := s.now()
	sub := &domain.Submission{
		ID:         s.newID(),
		UserID:     req.UserID,
		TemplateID: req.TemplateID,
		Responses:  req.Responses,
		Status:     req.Status,
		CreatedAt:  now,
		UpdatedAt:  now,
		UpdatedBy:  id.UID,
		Version:    0,
	}
	if sub.Status == domain.SubmissionCompleted {
		completedAt := now
		sub.CompletedAt = &completedAt
	}

	if err := s.submissions.CreateSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create submission: %w", err)
	}
	s.logger.Info("Submission created",
		slog.String("submission_id", sub.ID),
		slog.String("user_id", sub.UserID),
		slog.String("template_id", sub.TemplateID),
	)
	return sub, nil
}

// ListVersions returns the version history of a submission, newest first.
func (s *Service) ListVersions(ctx context.Context, id domain.Identity, submissionID string) ([]domain.Version, error) {
	sub, err := s.load(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if !id.CanAccess(sub.UserID) {
		return nil, domain.PermissionDenied("not authorized to view this submission")
	}
	versions, err := s.submissions.ListVersions(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	return versions, nil
}

func (s *Service) load(ctx context.Context, submissionID string) (*domain.Submission, error) {
	sub, err := s.submissions.GetSubmission(ctx, submissionID)
	if err != nil {
		if errors.Is(err, domain.ErrSubmissionNotFound) {
			return nil, domain.NotFound("submission %s not found", submissionID)
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return sub, nil
}

func (s *Service) getTemplate(ctx context.Context, templateID string) (*domain.Template, error) {
	t, err := s.templates.GetTemplate(ctx, templateID)
	if err != nil {
		if errors.Is(err, domain.ErrTemplateNotFound) {
			e := domain.NotFound("template %s does not exist", templateID)
			e.Field = "templateId"
			return nil, e
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return t, nil
}

// mapStoreError converts store sentinels raised inside atomic sections.
func mapStoreError(err error, submissionID string) error {
	var de *domain.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, domain.ErrSubmissionNotFound):
		return domain.NotFound("submission %s not found", submissionID)
	default:
		return fmt.Errorf("failed to update submission: %w", err)
	}
}
