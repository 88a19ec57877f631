// Package store defines the document-store capabilities the services depend on.
// Backends live in sub-packages: firestoredb, postgres, memstore and redisstore.
package store

import (
	"context"
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/domain"
)

// Collection names shared by every backend.
const (
	CollectionSubmissions    = "submissions"
	CollectionVersions       = "version_history"
	CollectionTemplates      = "templates"
	CollectionJobs           = "bulk_operations"
	CollectionRateLimits     = "rate_limits"
	CollectionSecurityAlerts = "security_alerts"
)

// MaxWriteGroup is the largest number of writes committed atomically together.
const MaxWriteGroup = 500

// SubmissionFilter narrows a paged submission query.
type SubmissionFilter struct {
	UserID     string
	Status     string
	TemplateID string
}

// BulkFilter selects the targets of a filter-based bulk job.
type BulkFilter struct {
	Statuses      []string
	TemplateIDs   []string
	UpdatedBefore *time.Time
	Metadata      map[string]string
}

// Position is the sort tuple of the last document of a page.
type Position struct {
	SortValue *time.Time
	CreatedAt time.Time
	ID        string
}

// SubmissionQuery is one page read.
type SubmissionQuery struct {
	Filter     SubmissionFilter
	SortField  string
	Descending bool
	After      *Position
	Limit      int
}

// UpdateFunc computes the replacement of a submission and the version to append.
// It runs inside the store's atomic section and may run more than once.
type UpdateFunc func(current *domain.Submission) (*domain.Submission, *domain.Version, error)

// SubmissionWrite is one planned replacement and the version entry appended with it.
type SubmissionWrite struct {
	Submission *domain.Submission
	Version    *domain.Version
}

// ChunkPlanner receives the existing documents of a chunk (missing IDs are absent)
// and returns the writes to commit, keyed by ID. It may run more than once.
type ChunkPlanner func(existing map[string]*domain.Submission) (map[string]SubmissionWrite, error)

type SubmissionStore interface {
	GetSubmission(ctx context.Context, id string) (*domain.Submission, error)
	CreateSubmission(ctx context.Context, s *domain.Submission) error
	UpdateSubmission(ctx context.Context, id string, fn UpdateFunc) error
	ListVersions(ctx context.Context, submissionID string) ([]domain.Version, error)
	QuerySubmissions(ctx context.Context, q SubmissionQuery) ([]*domain.Submission, error)
	CountSubmissions(ctx context.Context, f SubmissionFilter, sortField string) (int64, error)
	ResolveSubmissionIDs(ctx context.Context, f BulkFilter) ([]string, error)
	MutateSubmissions(ctx context.Context, ids []string, plan ChunkPlanner) error
}

type TemplateStore interface {
	GetTemplate(ctx context.Context, id string) (*domain.Template, error)
	CreateTemplate(ctx context.Context, t *domain.Template) error
	// DeleteTemplates removes the existing templates among ids atomically and
	// returns the IDs that were deleted.
	DeleteTemplates(ctx context.Context, ids []string) ([]string, error)
}

type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	// ClaimJob moves a pending job to in_progress; any other state yields
	// domain.ErrJobAlreadyClaimed.
	ClaimJob(ctx context.Context, id string, now time.Time) (*domain.Job, error)
	// RecordChunk increments the progress counters by delta and stores the cumulative result.
	RecordChunk(ctx context.Context, id string, delta domain.Progress, result domain.JobResult, now time.Time) error
	// FinishJob stores the terminal status and result and sets the processed,
	// successful, failed and skipped counters from result.
	FinishJob(ctx context.Context, id string, status domain.JobStatus, errMsg string, result domain.JobResult, now time.Time) error
	RequestCancel(ctx context.Context, id string, now time.Time) error
}

// WindowFunc receives the stored window (nil when absent) and returns the window
// to persist, or nil to leave the store untouched.
type WindowFunc func(current *domain.RateLimitWindow) (*domain.RateLimitWindow, error)

type WindowStore interface {
	UpdateWindow(ctx context.Context, key string, fn WindowFunc) error
	// DeleteStaleWindows removes windows whose last request is before cutoff,
	// committing at most batchSize deletes at a time.
	DeleteStaleWindows(ctx context.Context, cutoff time.Time, batchSize int) (int, error)
}

type AlertSink interface {
	RecordAlert(ctx context.Context, alert *domain.SecurityAlert) error
}

// Backend bundles the capabilities of one document store.
type Backend interface {
	SubmissionStore
	TemplateStore
	JobStore
	WindowStore
	AlertSink
}
