package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/cuongbtq/questionnaire-be/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin = domain.Identity{UID: "admin-1", Role: domain.RoleAdmin, Attribute: "10.0.0.1"}
	user  = domain.Identity{UID: "user-1", Attribute: "10.0.0.2"}
	t0    = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingJobs snapshots job progress after every chunk.
type recordingJobs struct {
	*memstore.Store
	mu        sync.Mutex
	snapshots []domain.Progress
	calls     int
	// failOn makes the n-th RecordChunk call fail when set.
	failOn int
}

func (r *recordingJobs) RecordChunk(ctx context.Context, id string, delta domain.Progress, result domain.JobResult, now time.Time) error {
	r.mu.Lock()
	r.calls++
	fail := r.failOn != 0 && r.calls == r.failOn
	r.mu.Unlock()
	if fail {
		return errors.New("progress write rejected")
	}
	if err := r.Store.RecordChunk(ctx, id, delta, result, now); err != nil {
		return err
	}
	job, err := r.Store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.snapshots = append(r.snapshots, job.Progress)
	r.mu.Unlock()
	return nil
}

// heldDispatcher records job IDs without running them.
type heldDispatcher struct {
	ids []string
	err error
}

func (d *heldDispatcher) Dispatch(_ context.Context, jobID string) error {
	if d.err != nil {
		return d.err
	}
	d.ids = append(d.ids, jobID)
	return nil
}

type fixture struct {
	store   *memstore.Store
	jobs    *recordingJobs
	runner  *Runner
	service *Service
	held    *heldDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	jobs := &recordingJobs{Store: st}
	clock := func() time.Time { return t0 }
	runner := NewRunner(&RunnerConfig{
		Jobs:        jobs,
		Submissions: st,
		Templates:   st,
		Logger:      discardLogger(),
		Now:         clock,
	})
	held := &heldDispatcher{}
	service := NewService(&ServiceConfig{
		Jobs:        jobs,
		Submissions: st,
		Dispatcher:  held,
		Logger:      discardLogger(),
		Now:         clock,
	})
	return &fixture{store: st, jobs: jobs, runner: runner, service: service, held: held}
}

func (f *fixture) seed(t *testing.T, id string, status domain.SubmissionStatus) {
	t.Helper()
	require.NoError(t, f.store.CreateSubmission(context.Background(), &domain.Submission{
		ID:         id,
		UserID:     "user-1",
		TemplateID: "tmpl-1",
		Status:     status,
		CreatedAt:  t0.Add(-48 * time.Hour),
		UpdatedAt:  t0.Add(-48 * time.Hour),
	}))
}

func (f *fixture) job(t *testing.T, id string) *domain.Job {
	t.Helper()
	job, err := f.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestService_SubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		id    domain.Identity
		req   ArchiveRequest
		code  domain.Code
		field string
	}{
		{
			name: "non admin rejected",
			id:   user,
			req:  ArchiveRequest{TargetIDs: []string{"a"}},
			code: domain.CodePermissionDenied,
		},
		{
			name:  "no targets and no filters",
			id:    admin,
			req:   ArchiveRequest{},
			code:  domain.CodeInvalidArgument,
			field: "targetIds",
		},
		{
			name:  "batch size too large",
			id:    admin,
			req:   ArchiveRequest{TargetIDs: []string{"a"}, Options: domain.JobOptions{BatchSize: 501}},
			code:  domain.CodeInvalidArgument,
			field: "options.batchSize",
		},
		{
			name:  "negative batch size",
			id:    admin,
			req:   ArchiveRequest{TargetIDs: []string{"a"}, Options: domain.JobOptions{BatchSize: -1}},
			code:  domain.CodeInvalidArgument,
			field: "options.batchSize",
		},
		{
			name:  "malformed lastActiveDate",
			id:    admin,
			req:   ArchiveRequest{Filters: &domain.JobFilters{LastActiveDate: "03/01/2025"}},
			code:  domain.CodeInvalidArgument,
			field: "filters.lastActiveDate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.SubmitArchive(ctx, tt.id, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, domain.CodeOf(err))
			if tt.field != "" {
				var de *domain.Error
				require.True(t, errors.As(err, &de))
				assert.Equal(t, tt.field, de.Field)
			}
		})
	}

	_, err := f.service.SubmitUpdate(ctx, admin, UpdateRequest{TargetIDs: []string{"a"}})
	assert.Equal(t, domain.CodeInvalidArgument, domain.CodeOf(err))
	_, err = f.service.SubmitUpdate(ctx, admin, UpdateRequest{TargetIDs: []string{"a"}, Updates: &domain.JobUpdates{Status: "draft"}})
	assert.Equal(t, domain.CodeInvalidArgument, domain.CodeOf(err))
}

func TestRunner_ArchiveInChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 250; i++ {
		id := fmt.Sprintf("s-%03d", i)
		f.seed(t, id, domain.SubmissionCompleted)
		ids = append(ids, id)
	}

	res, err := f.service.SubmitArchive(ctx, admin, ArchiveRequest{
		TargetIDs: ids,
		Options:   domain.JobOptions{BatchSize: 100, Reason: "retention"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, res.Status)
	assert.Equal(t, []string{res.JobID}, f.held.ids)

	pending := f.job(t, res.JobID)
	assert.Equal(t, domain.JobStatusPending, pending.Status)
	assert.Equal(t, 250, pending.Progress.Total)
	assert.Equal(t, 0, pending.Progress.Processed)

	require.NoError(t, f.runner.RunJob(ctx, res.JobID))

	job := f.job(t, res.JobID)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, domain.Progress{Total: 250, Processed: 250, Successful: 250}, job.Progress)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)

	require.Len(t, f.jobs.snapshots, 3)
	assert.Equal(t, 100, f.jobs.snapshots[0].Processed)
	assert.Equal(t, 200, f.jobs.snapshots[1].Processed)
	assert.Equal(t, 250, f.jobs.snapshots[2].Processed)
	for _, p := range f.jobs.snapshots {
		assert.Equal(t, p.Processed, p.Successful+p.Failed+p.Skipped)
		assert.LessOrEqual(t, p.Processed, p.Total)
	}

	sub, err := f.store.GetSubmission(ctx, "s-000")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionArchived, sub.Status)
	assert.Equal(t, "admin-1", sub.ArchivedBy)
	assert.Equal(t, "retention", sub.ArchiveReason)
	require.NotNil(t, sub.ArchivedAt)
}

func TestRunner_ArchiveMixedOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seed(t, "done", domain.SubmissionCompleted)
	f.seed(t, "gone", domain.SubmissionArchived)
	f.seed(t, "busy", domain.SubmissionInProgress)

	res, err := f.service.SubmitArchive(ctx, admin, ArchiveRequest{
		TargetIDs: []string{"done", "gone", "busy", "missing", "done"},
	})
	require.NoError(t, err)
	require.NoError(t, f.runner.RunJob(ctx, res.JobID))

	job := f.job(t, res.JobID)
	assert.Equal(t, domain.JobStatusPartiallyCompleted, job.Status)
	assert.Equal(t, []string{"done", "gone", "busy", "missing"}, job.TargetIDs)
	assert.Equal(t, domain.Progress{Total: 4, Processed: 4, Successful: 1, Failed: 1, Skipped: 2}, job.Progress)
	assert.Equal(t, []string{"done"}, job.Result.Successful)
	assert.Equal(t, []domain.FailedItem{{ID: "busy", Error: "invalid status transition from in_progress to archived"}}, job.Result.Failed)
	assert.ElementsMatch(t, []domain.SkippedItem{
		{ID: "gone", Reason: domain.SkipAlreadyArchived},
		{ID: "missing", Reason: domain.SkipNotFound},
	}, job.Result.Skipped)

	done, err := f.store.GetSubmission(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, 1, done.Version)
	versions, err := f.store.ListVersions(ctx, "done")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 0, versions[0].Version)
	assert.Equal(t, domain.SubmissionCompleted, versions[0].Snapshot.Status)
	assert.Equal(t, "admin-1", versions[0].ChangedBy)
	assert.Equal(t, domain.ChangeStatus, versions[0].ChangeType)

	for _, id := range []string{"gone", "busy"} {
		versions, err := f.store.ListVersions(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, versions, id)
	}
}

func TestRunner_AllTargetsMissingCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.service.SubmitArchive(ctx, admin, ArchiveRequest{TargetIDs: []string{"missing-1"}})
	require.NoError(t, err)
	require.NoError(t, f.runner.RunJob(ctx, res.JobID))

	job := f.job(t, res.JobID)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, domain.Progress{Total: 1, Processed: 1, Skipped: 1}, job.Progress)
	assert.Empty(t, job.Result.Successful)
	assert.Empty(t, job.Result.Failed)
	assert.Equal(t, []domain.SkippedItem{{ID: "missing-1", Reason: domain.SkipNotFound}}, job.Result.Skipped)
}

func TestRunner_ArchiveForce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seed(t, "gone", domain.SubmissionArchived)
	f.seed(t, "busy", domain.SubmissionInProgress)

	res, err := f.service.SubmitArchive(ctx, admin, ArchiveRequest{
		TargetIDs: []string{"gone", "busy"},
		Options:   domain.JobOptions{Force: true, Reason: "cleanup"},
	})
	require.NoError(t, err)
	require.NoError(t, f.runner.RunJob(ctx, res.JobID))

	job := f.job(t, res.JobID)
	assert.Equal(t, domain.JobStatusPartiallyCompleted, job.Status)
	assert.Equal(t, 1, job.Progress.Successful)
	assert.Equal(t, []string{"gone"}, job.Result.Successful)
	assert.Equal(t, []domain.FailedItem{
		{ID: "busy", Error: "invalid status transition from in_progress to archived"},
	}, job.Result.Failed)

	sub, err := f.store.GetSubmission(ctx, "gone")
	require.NoError(t, err)
	assert.Equal(t, "cleanup", sub.ArchiveReason)

	busy, err := f.store.GetSubmission(ctx, "busy")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionInProgress, busy.Status)
}

func TestService_DryRunNeverDispatched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "a", domain.SubmissionCompleted)

	res, err := f.service.SubmitArchive(ctx, admin, ArchiveRequest{
		TargetIDs: []string{"a"},
		Options:   domain.JobOptions{DryRun: true},
	})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Contains(t, res.Message, "Dry run")
	assert.Empty(t, f.held.ids)

	job := f.job(t, res.JobID)
	assert.Equal(t, domain.JobStatusPending, job.Status)

	_, err = f.service.CancelJob(ctx, admin, res.JobID)
	assert.Equal(t, domain.CodeFailedPrecondition, domain.CodeOf(err))

	sub, err := f.store.GetSubmission(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionCompleted, sub.Status)
}

func TestService_FilterTargetsAreFrozen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seed(t, "old-1", domain.SubmissionCompleted)
	f.seed(t, "old-2", domain.SubmissionCompleted)
	f.seed(t, "active", domain.SubmissionInProgress)

	res, err := f.service.SubmitArchive(ctx, admin, ArchiveRequest{
		Filters: &domain.JobFilters{
			Status:         []string{"completed"},
			LastActiveDate: t0.Add(-24 * time.Hour).Format(DateLayout),
		},
	})
	require.NoError(t, err)

	// Created after the job was accepted; must not be touched.
	f.seed(t, "late", domain.SubmissionCompleted)

	require.NoError(t, f.runner.RunJob(ctx, res.JobID))

	job := f.job(t, res.JobID)
	assert.Equal(t, []string{"old-1", "old-2"}, job.TargetIDs)
	assert.Equal(t, 2, job.Progress.Successful)

	late, err := f.store.GetSubmission(ctx, "late")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionCompleted, late.Status)
}

func TestRunner_ChunkFailureStopsJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.seed(t, fmt.Sprintf("s-%d", i), domain.SubmissionCompleted)
	}
	f.store.FailMutations = map[int]error{2: errors.New("deadline exceeded")}

	res, err := f.service.SubmitArchive(ctx, admin, ArchiveRequest{
		TargetIDs: []string{"s-0", "s-1", "s-2", "s-3", "s-4"},
		Options:   domain.JobOptions{BatchSize: 2},
	})
	require.NoError(t, err)
	require.NoError(t, f.runner.RunJob(ctx, res.JobID))

	job := f.job(t, res.JobID)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "deadline exceeded")
	assert.Equal(t, 2, job.Progress.Processed)
	assert.Equal(t, []string{"s-0", "s-1"}, job.Result.Successful)

	untouched, err := f.store.GetSubmission(ctx, "s-2")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionCompleted, untouched.Status)
}

func TestRunner_ProgressFailureKeepsCountersInStepWithResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		f.seed(t, fmt.Sprintf("s-%d", i), domain.SubmissionCompleted)
	}
	f.jobs.failOn = 2

	res, err := f.service.SubmitArchive(ctx, admin, ArchiveRequest{
		TargetIDs: []string{"s-0", "s-1", "s-2", "s-3"},
		Options:   domain.JobOptions{BatchSize: 2},
	})
	require.NoError(t, err)
	require.NoError(t, f.runner.RunJob(ctx, res.JobID))

	job := f.job(t, res.JobID)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "progress write rejected")
	assert.Equal(t, []string{"s-0", "s-1", "s-2", "s-3"}, job.Result.Successful)
	assert.Equal(t, domain.Progress{Total: 4, Processed: 4, Successful: 4}, job.Progress)
}

func TestRunner_CancelBetweenChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "a", domain.SubmissionCompleted)

	res, err := f.service.SubmitArchive(ctx, admin, ArchiveRequest{TargetIDs: []string{"a"}})
	require.NoError(t, err)

	_, err = f.service.CancelJob(ctx, user, res.JobID)
	assert.Equal(t, domain.CodePermissionDenied, domain.CodeOf(err))

	cancelled, err := f.service.CancelJob(ctx, admin, res.JobID)
	require.NoError(t, err)
	assert.True(t, cancelled.CancelRequested)

	require.NoError(t, f.runner.RunJob(ctx, res.JobID))

	job := f.job(t, res.JobID)
	assert.Equal(t, domain.JobStatusCancelled, job.Status)
	assert.Equal(t, 0, job.Progress.Processed)

	_, err = f.service.CancelJob(ctx, admin, res.JobID)
	assert.Equal(t, domain.CodeFailedPrecondition, domain.CodeOf(err))
}

func TestRunner_UpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seed(t, "open", domain.SubmissionInProgress)
	f.seed(t, "done", domain.SubmissionCompleted)
	f.seed(t, "gone", domain.SubmissionArchived)

	res, err := f.service.SubmitUpdate(ctx, admin, UpdateRequest{
		TargetIDs: []string{"open", "done", "gone"},
		Updates:   &domain.JobUpdates{Status: domain.SubmissionCompleted},
	})
	require.NoError(t, err)
	require.NoError(t, f.runner.RunJob(ctx, res.JobID))

	job := f.job(t, res.JobID)
	assert.Equal(t, domain.JobUpdateStatus, job.Type)
	assert.Equal(t, domain.JobStatusPartiallyCompleted, job.Status)
	assert.Equal(t, []string{"open"}, job.Result.Successful)
	assert.Equal(t, []domain.SkippedItem{{ID: "done", Reason: domain.SkipUnchanged}}, job.Result.Skipped)
	assert.Equal(t, []domain.FailedItem{{ID: "gone", Error: "invalid status transition from archived to completed"}}, job.Result.Failed)

	open, err := f.store.GetSubmission(ctx, "open")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionCompleted, open.Status)
	require.NotNil(t, open.CompletedAt)
	assert.Equal(t, t0, *open.CompletedAt)
}

func TestRunner_UpdateMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "a", domain.SubmissionCompleted)

	res, err := f.service.SubmitUpdate(ctx, admin, UpdateRequest{
		TargetIDs: []string{"a"},
		Updates:   &domain.JobUpdates{Metadata: map[string]interface{}{"cohort": "2025"}},
	})
	require.NoError(t, err)
	require.NoError(t, f.runner.RunJob(ctx, res.JobID))

	job := f.job(t, res.JobID)
	assert.Equal(t, domain.JobUpdateMetadata, job.Type)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)

	sub, err := f.store.GetSubmission(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "2025", sub.Metadata["cohort"])
	assert.Equal(t, domain.SubmissionCompleted, sub.Status)
	assert.Equal(t, 1, sub.Version)

	versions, err := f.store.ListVersions(ctx, "a")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, domain.ChangeMetadata, versions[0].ChangeType)
	assert.Nil(t, versions[0].Snapshot.Metadata)
}

func TestRunner_DeleteTemplates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateTemplate(ctx, &domain.Template{ID: "t1", Name: "Onboarding"}))

	res, err := f.service.SubmitTemplateDelete(ctx, admin, TemplateDeleteRequest{TemplateIDs: []string{"t1", "t2"}})
	require.NoError(t, err)
	require.NoError(t, f.runner.RunJob(ctx, res.JobID))

	job := f.job(t, res.JobID)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, []string{"t1"}, job.Result.Successful)
	assert.Equal(t, []domain.SkippedItem{{ID: "t2", Reason: domain.SkipNotFound}}, job.Result.Skipped)

	_, err = f.store.GetTemplate(ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrTemplateNotFound)
}

func TestRunner_ConcurrentRunsClaimOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		f.seed(t, fmt.Sprintf("s-%d", i), domain.SubmissionCompleted)
	}
	var ids []string
	for i := 0; i < 10; i++ {
		ids = append(ids, fmt.Sprintf("s-%d", i))
	}
	res, err := f.service.SubmitArchive(ctx, admin, ArchiveRequest{TargetIDs: ids, Options: domain.JobOptions{BatchSize: 3}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.runner.RunJob(ctx, res.JobID)
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrJobAlreadyClaimed)
			}
		}()
	}
	wg.Wait()

	job := f.job(t, res.JobID)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, domain.Progress{Total: 10, Processed: 10, Successful: 10}, job.Progress)
}

func TestRunner_TerminalJobIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "a", domain.SubmissionCompleted)

	res, err := f.service.SubmitArchive(ctx, admin, ArchiveRequest{TargetIDs: []string{"a"}})
	require.NoError(t, err)
	require.NoError(t, f.runner.RunJob(ctx, res.JobID))
	require.NoError(t, f.runner.RunJob(ctx, res.JobID))

	assert.Equal(t, 1, f.job(t, res.JobID).Progress.Processed)
	assert.ErrorIs(t, f.runner.RunJob(ctx, "missing"), domain.ErrJobNotFound)
}

func TestService_DispatchFailureLeavesJobPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.held.err = errors.New("broker down")

	res, err := f.service.SubmitArchive(ctx, admin, ArchiveRequest{TargetIDs: []string{"a"}})
	require.NoError(t, err)
	assert.Contains(t, res.Message, "could not be started")
	assert.Equal(t, domain.JobStatusPending, f.job(t, res.JobID).Status)
}

func TestService_GetJobAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.service.SubmitArchive(ctx, admin, ArchiveRequest{TargetIDs: []string{"a"}})
	require.NoError(t, err)

	job, err := f.service.GetJob(ctx, admin, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, res.JobID, job.ID)

	_, err = f.service.GetJob(ctx, user, res.JobID)
	assert.Equal(t, domain.CodePermissionDenied, domain.CodeOf(err))

	_, err = f.service.GetJob(ctx, admin, "missing")
	assert.Equal(t, domain.CodeNotFound, domain.CodeOf(err))
}

func TestInlineDispatcher_RunsJob(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.seed(t, "a", domain.SubmissionCompleted)

	inline := NewInlineDispatcher(f.runner, discardLogger())
	svc := NewService(&ServiceConfig{
		Jobs:        f.jobs,
		Submissions: f.store,
		Dispatcher:  inline,
		Logger:      discardLogger(),
	})

	res, err := svc.SubmitArchive(ctx, admin, ArchiveRequest{TargetIDs: []string{"a"}})
	require.NoError(t, err)
	// The request context ending must not stop the job.
	cancel()
	inline.Wait()

	assert.Equal(t, domain.JobStatusCompleted, f.job(t, res.JobID).Status)
}

type capturePublisher struct {
	body        []byte
	contentType string
}

func (p *capturePublisher) PublishWithRetry(_ context.Context, body []byte, contentType string) error {
	p.body = body
	p.contentType = contentType
	return nil
}

func TestQueueDispatcher_PublishesJobID(t *testing.T) {
	pub := &capturePublisher{}
	d := NewQueueDispatcher(pub, discardLogger())

	require.NoError(t, d.Dispatch(context.Background(), "job-123"))
	assert.Equal(t, "application/json", pub.contentType)

	var msg domain.JobMessage
	require.NoError(t, json.Unmarshal(pub.body, &msg))
	assert.Equal(t, "job-123", msg.JobID)
}

type captureTopic struct {
	data  []byte
	attrs map[string]string
	err   error
}

func (p *captureTopic) Publish(_ context.Context, data []byte, attrs map[string]string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.data = data
	p.attrs = attrs
	return "msg-1", nil
}

func TestPubSubDispatcher_PublishesJobID(t *testing.T) {
	topic := &captureTopic{}
	d := NewPubSubDispatcher(topic, discardLogger())

	require.NoError(t, d.Dispatch(context.Background(), "job-123"))
	assert.Equal(t, "job-123", topic.attrs["job_id"])

	var msg domain.JobMessage
	require.NoError(t, json.Unmarshal(topic.data, &msg))
	assert.Equal(t, "job-123", msg.JobID)
}

func TestPubSubDispatcher_PublishFailure(t *testing.T) {
	d := NewPubSubDispatcher(&captureTopic{err: errors.New("topic not found")}, discardLogger())

	err := d.Dispatch(context.Background(), "job-123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish job job-123")
}

func TestArchiveDecision(t *testing.T) {
	tests := []struct {
		name    string
		status  domain.SubmissionStatus
		force   bool
		skip    string
		wantErr bool
	}{
		{name: "completed archives", status: domain.SubmissionCompleted},
		{name: "archived skipped", status: domain.SubmissionArchived, skip: domain.SkipAlreadyArchived},
		{name: "archived forced", status: domain.SubmissionArchived, force: true},
		{name: "in progress rejected", status: domain.SubmissionInProgress, wantErr: true},
		{name: "in progress forced rejected", status: domain.SubmissionInProgress, force: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			skip, err := domain.ArchiveDecision(tt.status, tt.force)
			assert.Equal(t, tt.skip, skip)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
