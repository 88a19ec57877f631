package submission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/cuongbtq/questionnaire-be/internal/metrics"
	"github.com/cuongbtq/questionnaire-be/internal/store"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	SortAsc  = "asc"
	SortDesc = "desc"
)

// QueryOptions are the caller-supplied query parameters.
type QueryOptions struct {
	UserID        string
	Status        string
	TemplateID    string
	SortField     string
	SortDirection string
	PageSize      int
	PageToken     string
}

type QueryResult struct {
	Items         []*domain.Submission `json:"items"`
	NextPageToken string               `json:"nextPageToken,omitempty"`
	Total         *int64               `json:"total,omitempty"`
	HasMore       bool                 `json:"hasMore"`
}

// Query returns one page of submissions. Non-admin callers only see their own.
func (s *Service) Query(ctx context.Context, id domain.Identity, opts QueryOptions) (*QueryResult, error) {
	if err := normalizeQuery(&opts); err != nil {
		return nil, err
	}

	userID := opts.UserID
	if !id.IsAdmin() {
		if opts.UserID != "" && opts.UserID != id.UID {
			return nil, domain.PermissionDenied("cannot query submissions of other users")
		}
		userID = id.UID
	}

	fp := Fingerprint{
		UserID:        userID,
		Status:        opts.Status,
		TemplateID:    opts.TemplateID,
		SortField:     opts.SortField,
		SortDirection: opts.SortDirection,
	}

	q := store.SubmissionQuery{
		Filter: store.SubmissionFilter{
			UserID:     userID,
			Status:     opts.Status,
			TemplateID: opts.TemplateID,
		},
		SortField:  opts.SortField,
		Descending: opts.SortDirection == SortDesc,
		Limit:      opts.PageSize,
	}
	if opts.PageToken != "" {
		after, err := DecodeCursor(opts.PageToken, fp)
		if err != nil {
			s.logger.Debug("Rejected page token", slog.String("error", err.Error()))
			return nil, domain.InvalidField("pageToken", "invalid page token")
		}
		q.After = after
	}

	var (
		items []*domain.Submission
		total int64
	)
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.submissions.QuerySubmissions(gctx, q)
		if err != nil {
			return fmt.Errorf("failed to query submissions: %w", err)
		}
		return nil
	})
	if id.IsAdmin() {
		g.Go(func() error {
			var err error
			total, err = s.submissions.CountSubmissions(gctx, q.Filter, q.SortField)
			if err != nil {
				return fmt.Errorf("failed to count submissions: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.logSlowQuery(fp, opts.PageSize, time.Since(start))

	result := &QueryResult{Items: items}
	if result.Items == nil {
		result.Items = []*domain.Submission{}
	}
	if id.IsAdmin() {
		result.Total = &total
	}
	if len(items) == opts.PageSize {
		token, err := EncodeCursor(fp, opts.PageSize, store.PositionOf(items[len(items)-1], opts.SortField))
		if err != nil {
			return nil, err
		}
		result.NextPageToken = token
		result.HasMore = true
	}
	return result, nil
}

func normalizeQuery(opts *QueryOptions) error {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.PageSize > MaxPageSize {
		opts.PageSize = MaxPageSize
	}

	switch opts.SortField {
	case "":
		opts.SortField = store.SortCompletedAt
	case store.SortCompletedAt, store.SortCreatedAt:
	default:
		return domain.InvalidField("sortField", "sortField must be completedAt or createdAt")
	}

	switch opts.SortDirection {
	case "":
		opts.SortDirection = SortDesc
	case SortAsc, SortDesc:
	default:
		return domain.InvalidField("sortDirection", "sortDirection must be asc or desc")
	}

	if opts.Status != "" && !domain.SubmissionStatus(opts.Status).IsValid() {
		return domain.InvalidField("status", "unknown status %q", opts.Status)
	}
	return nil
}

func (s *Service) logSlowQuery(fp Fingerprint, pageSize int, elapsed time.Duration) {
	if elapsed < s.slowQueryThreshold {
		return
	}
	metrics.RecordSlowQuery(fp.SortField)
	s.logger.Warn("Slow submission query",
		slog.Duration("elapsed", elapsed),
		slog.String("user_id", fp.UserID),
		slog.String("status", fp.Status),
		slog.String("template_id", fp.TemplateID),
		slog.String("sort_field", fp.SortField),
		slog.String("sort_direction", fp.SortDirection),
		slog.Int("page_size", pageSize),
	)
}
