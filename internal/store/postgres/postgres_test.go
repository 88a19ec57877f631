package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/cuongbtq/questionnaire-be/internal/store"
	"github.com/cuongbtq/questionnaire-be/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func TestBuildPageQuery(t *testing.T) {
	completed := t0
	q := store.SubmissionQuery{
		Filter:     store.SubmissionFilter{UserID: "alice", Status: "completed"},
		SortField:  store.SortCompletedAt,
		Descending: true,
		After:      &store.Position{SortValue: &completed, CreatedAt: t0.Add(-time.Hour), ID: "s-9"},
		Limit:      20,
	}

	query, params := buildPageQuery(q)

	assert.Equal(t, `SELECT `+submissionColumns+` FROM submissions`+
		` WHERE user_id = $1 AND status = $2 AND completed_at IS NOT NULL`+
		` AND ((completed_at < $3) OR (completed_at = $3 AND created_at < $4)`+
		` OR (completed_at = $3 AND created_at = $4 AND id COLLATE "C" < $5))`+
		` ORDER BY completed_at DESC, created_at DESC, id COLLATE "C" DESC LIMIT $6`, query)
	assert.Equal(t, []interface{}{"alice", "completed", completed, t0.Add(-time.Hour), "s-9", 20}, params)
}

func TestBuildPageQuery_CreatedAtAscending(t *testing.T) {
	q := store.SubmissionQuery{
		SortField: store.SortCreatedAt,
		After:     &store.Position{CreatedAt: t0, ID: "s-1"},
		Limit:     5,
	}

	query, params := buildPageQuery(q)

	assert.Equal(t, `SELECT `+submissionColumns+` FROM submissions`+
		` WHERE ((created_at > $1) OR (created_at = $1 AND id COLLATE "C" > $2))`+
		` ORDER BY created_at ASC, id COLLATE "C" ASC LIMIT $3`, query)
	assert.Equal(t, []interface{}{t0, "s-1", 5}, params)
}

func TestBuildResolveQuery(t *testing.T) {
	before := t0
	query, params := buildResolveQuery(store.BulkFilter{
		Statuses:      []string{"completed"},
		TemplateIDs:   []string{"tmpl-1", "tmpl-2"},
		UpdatedBefore: &before,
		Metadata:      map[string]string{"region": "eu", "cohort": "a"},
	})

	assert.Equal(t, `SELECT id FROM submissions WHERE status = ANY($1) AND template_id = ANY($2)`+
		` AND updated_at <= $3 AND metadata ->> $4 = $5 AND metadata ->> $6 = $7 ORDER BY id COLLATE "C"`, query)
	require.Len(t, params, 7)
	assert.Equal(t, pq.Array([]string{"completed"}), params[0])
	assert.Equal(t, "cohort", params[3])
	assert.Equal(t, "region", params[5])
}

// newTestStore connects to POSTGRES_TEST_DSN and resets the schema.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := New(postgresql.NewFromDB(db, slog.New(slog.NewTextHandler(io.Discard, nil))))
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))
	_, err = db.ExecContext(ctx, `TRUNCATE submissions, submission_versions, templates, bulk_operations, rate_limits, security_alerts`)
	require.NoError(t, err)
	return s
}

func TestStore_SubmissionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSubmission(ctx, &domain.Submission{
		ID: "s1", UserID: "alice", TemplateID: "tmpl-1", Status: domain.SubmissionInProgress,
		Responses: map[string]interface{}{"q1": "a"}, CreatedAt: t0, UpdatedAt: t0,
	}))

	err := s.UpdateSubmission(ctx, "s1", func(cur *domain.Submission) (*domain.Submission, *domain.Version, error) {
		next := cur.Clone()
		next.Status = domain.SubmissionCompleted
		next.CompletedAt = &t0
		next.Version = 1
		return next, &domain.Version{VersionID: "v1", SubmissionID: "s1", Version: 0, Snapshot: *cur, ChangedBy: "alice", Timestamp: t0, ChangeType: domain.ChangeStatus}, nil
	})
	require.NoError(t, err)

	got, err := s.GetSubmission(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionCompleted, got.Status)
	assert.Equal(t, "a", got.Responses["q1"])

	versions, err := s.ListVersions(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, domain.SubmissionInProgress, versions[0].Snapshot.Status)

	page, err := s.QuerySubmissions(ctx, store.SubmissionQuery{SortField: store.SortCompletedAt, Descending: true, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page, 1)
}

func TestStore_MutateSubmissionsAppendsVersions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSubmission(ctx, &domain.Submission{
		ID: "s1", UserID: "alice", TemplateID: "tmpl-1", Status: domain.SubmissionCompleted,
		Responses: map[string]interface{}{}, CreatedAt: t0, UpdatedAt: t0, CompletedAt: &t0,
	}))

	err := s.MutateSubmissions(ctx, []string{"s1", "missing"}, func(existing map[string]*domain.Submission) (map[string]store.SubmissionWrite, error) {
		require.Len(t, existing, 1)
		cur := existing["s1"]
		next := cur.Clone()
		next.MarkArchived("admin", "retention", t0)
		next.Version = cur.Version + 1
		return map[string]store.SubmissionWrite{
			"s1": {Submission: next, Version: domain.NewVersion("v1", cur, "admin", domain.ChangeStatus, t0)},
		}, nil
	})
	require.NoError(t, err)

	got, err := s.GetSubmission(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionArchived, got.Status)
	assert.Equal(t, 1, got.Version)

	versions, err := s.ListVersions(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, domain.SubmissionCompleted, versions[0].Snapshot.Status)
}

func TestStore_TemplateFieldsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	maxLen := 5.0

	require.NoError(t, s.CreateTemplate(ctx, &domain.Template{
		ID: "tmpl-form", Name: "Form", Status: domain.TemplateActive, CreatedAt: t0, UpdatedAt: t0,
		Fields: []domain.TemplateField{
			{ID: "name", Type: domain.FieldText, Required: true, Validation: &domain.FieldRules{Max: &maxLen}},
			{ID: "team", Type: domain.FieldSelect, Options: []string{"red", "blue"}},
		},
	}))

	got, err := s.GetTemplate(ctx, "tmpl-form")
	require.NoError(t, err)
	require.Len(t, got.Fields, 2)
	assert.Equal(t, domain.FieldText, got.Fields[0].Type)
	assert.True(t, got.Fields[0].Required)
	require.NotNil(t, got.Fields[0].Validation)
	assert.Equal(t, 5.0, *got.Fields[0].Validation.Max)
	assert.Equal(t, []string{"red", "blue"}, got.Fields[1].Options)

	_, err = s.GetTemplate(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrTemplateNotFound)
}

func TestStore_ConcurrentClaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, &domain.Job{
		ID: "job-1", Type: domain.JobArchiveSubmissions, Status: domain.JobStatusPending,
		CreatedAt: t0, UpdatedAt: t0, Progress: domain.Progress{Total: 1}, TargetIDs: []string{"s1"},
	}))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ClaimJob(ctx, "job-1", t0); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, domain.ErrJobAlreadyClaimed)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	_, err := s.ClaimJob(ctx, "missing", t0)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStore_Windows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpdateWindow(ctx, "k", func(cur *domain.RateLimitWindow) (*domain.RateLimitWindow, error) {
		assert.Nil(t, cur)
		return &domain.RateLimitWindow{
			Operation:    "create_submission",
			Requests:     []domain.RequestEntry{{Timestamp: t0, Attribute: "10.0.0.1"}},
			FirstRequest: t0,
			LastRequest:  t0,
		}, nil
	}))
	require.NoError(t, s.UpdateWindow(ctx, "k", func(cur *domain.RateLimitWindow) (*domain.RateLimitWindow, error) {
		require.NotNil(t, cur)
		assert.Len(t, cur.Requests, 1)
		return nil, nil
	}))

	n, err := s.DeleteStaleWindows(ctx, t0.Add(time.Minute), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
