package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/jmoiron/sqlx/types"
)

const jobColumns = `id, type, status, created_by, created_at, updated_at, started_at, completed_at,
	target_ids, filters, updates, options, progress_total, progress_processed, progress_successful,
	progress_failed, progress_skipped, result, error, cancel_requested`

type jobRow struct {
	ID                 string         `db:"id"`
	Type               string         `db:"type"`
	Status             string         `db:"status"`
	CreatedBy          string         `db:"created_by"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
	StartedAt          *time.Time     `db:"started_at"`
	CompletedAt        *time.Time     `db:"completed_at"`
	TargetIDs          types.JSONText `db:"target_ids"`
	Filters            types.JSONText `db:"filters"`
	Updates            types.JSONText `db:"updates"`
	Options            types.JSONText `db:"options"`
	ProgressTotal      int            `db:"progress_total"`
	ProgressProcessed  int            `db:"progress_processed"`
	ProgressSuccessful int            `db:"progress_successful"`
	ProgressFailed     int            `db:"progress_failed"`
	ProgressSkipped    int            `db:"progress_skipped"`
	Result             types.JSONText `db:"result"`
	Error              string         `db:"error"`
	CancelRequested    bool           `db:"cancel_requested"`
}

func newJobRow(j *domain.Job) (*jobRow, error) {
	row := &jobRow{
		ID:                 j.ID,
		Type:               string(j.Type),
		Status:             string(j.Status),
		CreatedBy:          j.CreatedBy,
		CreatedAt:          j.CreatedAt,
		UpdatedAt:          j.UpdatedAt,
		StartedAt:          j.StartedAt,
		CompletedAt:        j.CompletedAt,
		ProgressTotal:      j.Progress.Total,
		ProgressProcessed:  j.Progress.Processed,
		ProgressSuccessful: j.Progress.Successful,
		ProgressFailed:     j.Progress.Failed,
		ProgressSkipped:    j.Progress.Skipped,
		Error:              j.Error,
		CancelRequested:    j.CancelRequested,
	}
	targets := j.TargetIDs
	if targets == nil {
		targets = []string{}
	}
	var err error
	if row.TargetIDs, err = toJSON(targets); err != nil {
		return nil, err
	}
	if row.Filters, err = toJSON(j.Filters); err != nil {
		return nil, err
	}
	if row.Updates, err = toJSON(j.Updates); err != nil {
		return nil, err
	}
	if row.Options, err = toJSON(j.Options); err != nil {
		return nil, err
	}
	if row.Result, err = toJSON(j.Result); err != nil {
		return nil, err
	}
	return row, nil
}

func (r *jobRow) toDomain() (*domain.Job, error) {
	j := &domain.Job{
		ID:          r.ID,
		Type:        domain.JobType(r.Type),
		Status:      domain.JobStatus(r.Status),
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		StartedAt:   utcPtr(r.StartedAt),
		CompletedAt: utcPtr(r.CompletedAt),
		Progress: domain.Progress{
			Total:      r.ProgressTotal,
			Processed:  r.ProgressProcessed,
			Successful: r.ProgressSuccessful,
			Failed:     r.ProgressFailed,
			Skipped:    r.ProgressSkipped,
		},
		Error:           r.Error,
		CancelRequested: r.CancelRequested,
	}
	for _, col := range []struct {
		raw types.JSONText
		dst interface{}
	}{
		{r.TargetIDs, &j.TargetIDs},
		{r.Filters, &j.Filters},
		{r.Updates, &j.Updates},
		{r.Options, &j.Options},
		{r.Result, &j.Result},
	} {
		if err := fromJSON(col.raw, col.dst); err != nil {
			return nil, err
		}
	}
	return j, nil
}

func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	row, err := newJobRow(job)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO bulk_operations (`+jobColumns+`)
		VALUES (:id, :type, :status, :created_by, :created_at, :updated_at, :started_at, :completed_at,
			:target_ids, :filters, :updates, :options, :progress_total, :progress_processed,
			:progress_successful, :progress_failed, :progress_skipped, :result, :error, :cancel_requested)`, row)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var row jobRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM bulk_operations WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toDomain()
}

// ClaimJob is a conditional update: only a pending row matches, so concurrent
// claimers race on the row lock and exactly one gets a row back.
func (s *Store) ClaimJob(ctx context.Context, id string, now time.Time) (*domain.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE bulk_operations
		SET status = $2, started_at = $3, updated_at = $3
		WHERE id = $1 AND status = $4
		RETURNING `+jobColumns,
		id, string(domain.JobStatusInProgress), now, string(domain.JobStatusPending))
	if err == nil {
		return row.toDomain()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if _, err := s.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return nil, domain.ErrJobAlreadyClaimed
}

func (s *Store) RecordChunk(ctx context.Context, id string, delta domain.Progress, result domain.JobResult, now time.Time) error {
	rj, err := toJSON(result)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE bulk_operations SET
			progress_processed = progress_processed + $2,
			progress_successful = progress_successful + $3,
			progress_failed = progress_failed + $4,
			progress_skipped = progress_skipped + $5,
			result = $6,
			updated_at = $7
		WHERE id = $1`,
		id, delta.Processed, delta.Successful, delta.Failed, delta.Skipped, rj, now)
	return jobExecError(res, err, "record chunk")
}

func (s *Store) FinishJob(ctx context.Context, id string, status domain.JobStatus, errMsg string, result domain.JobResult, now time.Time) error {
	rj, err := toJSON(result)
	if err != nil {
		return err
	}
	p := result.Progress()
	res, err := s.db.ExecContext(ctx, `
		UPDATE bulk_operations
		SET status = $2, error = $3, result = $4, completed_at = $5, updated_at = $5,
			progress_processed = $6, progress_successful = $7, progress_failed = $8, progress_skipped = $9
		WHERE id = $1`,
		id, string(status), errMsg, rj, now, p.Processed, p.Successful, p.Failed, p.Skipped)
	return jobExecError(res, err, "finish job")
}

func (s *Store) RequestCancel(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bulk_operations SET cancel_requested = TRUE, updated_at = $2 WHERE id = $1`, id, now)
	return jobExecError(res, err, "request cancel")
}

func jobExecError(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}
