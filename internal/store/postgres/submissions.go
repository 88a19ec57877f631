package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/cuongbtq/questionnaire-be/internal/store"
	"github.com/cuongbtq/questionnaire-be/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

const submissionColumns = `id, user_id, template_id, responses, status, created_at, updated_at,
	updated_by, completed_at, archived_at, archived_by, archive_reason, metadata, version`

type submissionRow struct {
	ID            string         `db:"id"`
	UserID        string         `db:"user_id"`
	TemplateID    string         `db:"template_id"`
	Responses     types.JSONText `db:"responses"`
	Status        string         `db:"status"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
	UpdatedBy     string         `db:"updated_by"`
	CompletedAt   *time.Time     `db:"completed_at"`
	ArchivedAt    *time.Time     `db:"archived_at"`
	ArchivedBy    string         `db:"archived_by"`
	ArchiveReason string         `db:"archive_reason"`
	Metadata      types.JSONText `db:"metadata"`
	Version       int            `db:"version"`
}

func newSubmissionRow(s *domain.Submission) (*submissionRow, error) {
	responses := s.Responses
	if responses == nil {
		responses = map[string]interface{}{}
	}
	rj, err := toJSON(responses)
	if err != nil {
		return nil, err
	}
	mj, err := toJSON(s.Metadata)
	if err != nil {
		return nil, err
	}
	return &submissionRow{
		ID:            s.ID,
		UserID:        s.UserID,
		TemplateID:    s.TemplateID,
		Responses:     rj,
		Status:        string(s.Status),
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		UpdatedBy:     s.UpdatedBy,
		CompletedAt:   s.CompletedAt,
		ArchivedAt:    s.ArchivedAt,
		ArchivedBy:    s.ArchivedBy,
		ArchiveReason: s.ArchiveReason,
		Metadata:      mj,
		Version:       s.Version,
	}, nil
}

func (r *submissionRow) toDomain() (*domain.Submission, error) {
	s := &domain.Submission{
		ID:            r.ID,
		UserID:        r.UserID,
		TemplateID:    r.TemplateID,
		Status:        domain.SubmissionStatus(r.Status),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
		UpdatedBy:     r.UpdatedBy,
		CompletedAt:   utcPtr(r.CompletedAt),
		ArchivedAt:    utcPtr(r.ArchivedAt),
		ArchivedBy:    r.ArchivedBy,
		ArchiveReason: r.ArchiveReason,
		Version:       r.Version,
	}
	if err := fromJSON(r.Responses, &s.Responses); err != nil {
		return nil, err
	}
	if err := fromJSON(r.Metadata, &s.Metadata); err != nil {
		return nil, err
	}
	return s, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

const upsertSubmission = `
	INSERT INTO submissions (` + submissionColumns + `)
	VALUES (:id, :user_id, :template_id, :responses, :status, :created_at, :updated_at,
		:updated_by, :completed_at, :archived_at, :archived_by, :archive_reason, :metadata, :version)
	ON CONFLICT (id) DO UPDATE SET
		user_id = EXCLUDED.user_id,
		template_id = EXCLUDED.template_id,
		responses = EXCLUDED.responses,
		status = EXCLUDED.status,
		updated_at = EXCLUDED.updated_at,
		updated_by = EXCLUDED.updated_by,
		completed_at = EXCLUDED.completed_at,
		archived_at = EXCLUDED.archived_at,
		archived_by = EXCLUDED.archived_by,
		archive_reason = EXCLUDED.archive_reason,
		metadata = EXCLUDED.metadata,
		version = EXCLUDED.version`

func writeSubmission(ctx context.Context, tx *sqlx.Tx, s *domain.Submission) error {
	row, err := newSubmissionRow(s)
	if err != nil {
		return err
	}
	if _, err := tx.NamedExecContext(ctx, upsertSubmission, row); err != nil {
		return fmt.Errorf("failed to write submission %s: %w", s.ID, err)
	}
	return nil
}

func (s *Store) GetSubmission(ctx context.Context, id string) (*domain.Submission, error) {
	var row submissionRow
	err := s.db.GetContext(ctx, &row, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return row.toDomain()
}

func (s *Store) CreateSubmission(ctx context.Context, sub *domain.Submission) error {
	row, err := newSubmissionRow(sub)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO submissions (`+submissionColumns+`)
		VALUES (:id, :user_id, :template_id, :responses, :status, :created_at, :updated_at,
			:updated_by, :completed_at, :archived_at, :archived_by, :archive_reason, :metadata, :version)`, row)
	if err != nil {
		if postgresql.IsUniqueViolation(err) {
			return fmt.Errorf("submission %s already exists", sub.ID)
		}
		return fmt.Errorf("failed to create submission: %w", err)
	}
	return nil
}

// UpdateSubmission locks the row, applies fn and writes the new state and the
// version entry in one transaction.
func (s *Store) UpdateSubmission(ctx context.Context, id string, fn store.UpdateFunc) error {
	return s.pg.WithTx(ctx, func(tx *sqlx.Tx) error {
		var row submissionRow
		err := tx.GetContext(ctx, &row, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrSubmissionNotFound
			}
			return err
		}
		current, err := row.toDomain()
		if err != nil {
			return err
		}

		next, version, err := fn(current)
		if err != nil {
			return err
		}
		if version != nil {
			if err := appendVersion(ctx, tx, id, version); err != nil {
				return err
			}
		}
		if next != nil {
			next.ID = id
			return writeSubmission(ctx, tx, next)
		}
		return nil
	})
}

func appendVersion(ctx context.Context, tx *sqlx.Tx, submissionID string, version *domain.Version) error {
	snapshot, err := toJSON(version.Snapshot)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO submission_versions (version_id, submission_id, version, snapshot, changed_by, changed_at, change_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		version.VersionID, submissionID, version.Version, snapshot, version.ChangedBy, version.Timestamp, string(version.ChangeType),
	)
	if err != nil {
		return fmt.Errorf("failed to append version: %w", err)
	}
	return nil
}

type versionRow struct {
	VersionID    string         `db:"version_id"`
	SubmissionID string         `db:"submission_id"`
	Version      int            `db:"version"`
	Snapshot     types.JSONText `db:"snapshot"`
	ChangedBy    string         `db:"changed_by"`
	ChangedAt    time.Time      `db:"changed_at"`
	ChangeType   string         `db:"change_type"`
}

func (s *Store) ListVersions(ctx context.Context, submissionID string) ([]domain.Version, error) {
	var rows []versionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT version_id, submission_id, version, snapshot, changed_by, changed_at, change_type
		FROM submission_versions
		WHERE submission_id = $1
		ORDER BY version DESC`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	versions := make([]domain.Version, 0, len(rows))
	for _, r := range rows {
		v := domain.Version{
			VersionID:    r.VersionID,
			SubmissionID: r.SubmissionID,
			Version:      r.Version,
			ChangedBy:    r.ChangedBy,
			Timestamp:    r.ChangedAt.UTC(),
			ChangeType:   domain.ChangeType(r.ChangeType),
		}
		if err := fromJSON(r.Snapshot, &v.Snapshot); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// sortColumns maps order key fields to SQL expressions. IDs compare bytewise
// so the order matches the document stores.
var sortColumns = map[string]string{
	store.SortCompletedAt: "completed_at",
	store.SortCreatedAt:   "created_at",
	store.FieldID:         `id COLLATE "C"`,
}

func filterClause(f store.SubmissionFilter, sortField string, a *args) []string {
	var where []string
	if f.UserID != "" {
		where = append(where, "user_id = "+a.add(f.UserID))
	}
	if f.Status != "" {
		where = append(where, "status = "+a.add(f.Status))
	}
	if f.TemplateID != "" {
		where = append(where, "template_id = "+a.add(f.TemplateID))
	}
	if sortField == store.SortCompletedAt {
		where = append(where, "completed_at IS NOT NULL")
	}
	return where
}

// afterClause renders "row sorts after p" for keys of mixed direction as
// (k1 > v1) OR (k1 = v1 AND k2 > v2) OR ...
func afterClause(keys []store.OrderKey, values []interface{}, a *args) string {
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = a.add(v)
	}

	var disjuncts []string
	for i, k := range keys {
		var terms []string
		for j := 0; j < i; j++ {
			terms = append(terms, fmt.Sprintf("%s = %s", sortColumns[keys[j].Field], placeholders[j]))
		}
		op := ">"
		if k.Descending {
			op = "<"
		}
		terms = append(terms, fmt.Sprintf("%s %s %s", sortColumns[k.Field], op, placeholders[i]))
		disjuncts = append(disjuncts, "("+strings.Join(terms, " AND ")+")")
	}
	return "(" + strings.Join(disjuncts, " OR ") + ")"
}

func buildPageQuery(q store.SubmissionQuery) (string, []interface{}) {
	var a args
	where := filterClause(q.Filter, q.SortField, &a)
	keys := store.OrderKeys(q.SortField, q.Descending)
	if q.After != nil {
		where = append(where, afterClause(keys, q.After.Values(q.SortField), &a))
	}

	var b strings.Builder
	b.WriteString("SELECT " + submissionColumns + " FROM submissions")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	order := make([]string, len(keys))
	for i, k := range keys {
		dir := "ASC"
		if k.Descending {
			dir = "DESC"
		}
		order[i] = sortColumns[k.Field] + " " + dir
	}
	b.WriteString(" ORDER BY " + strings.Join(order, ", "))
	if q.Limit > 0 {
		b.WriteString(" LIMIT " + a.add(q.Limit))
	}
	return b.String(), a
}

func (s *Store) QuerySubmissions(ctx context.Context, q store.SubmissionQuery) ([]*domain.Submission, error) {
	query, params := buildPageQuery(q)
	var rows []submissionRow
	if err := s.db.SelectContext(ctx, &rows, query, params...); err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	items := make([]*domain.Submission, 0, len(rows))
	for i := range rows {
		sub, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		items = append(items, sub)
	}
	return items, nil
}

func (s *Store) CountSubmissions(ctx context.Context, f store.SubmissionFilter, sortField string) (int64, error) {
	var a args
	query := "SELECT COUNT(*) FROM submissions"
	if where := filterClause(f, sortField, &a); len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	var n int64
	if err := s.db.GetContext(ctx, &n, query, a...); err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	return n, nil
}

func buildResolveQuery(f store.BulkFilter) (string, []interface{}) {
	var a args
	var where []string
	if len(f.Statuses) > 0 {
		where = append(where, "status = ANY("+a.add(pq.Array(f.Statuses))+")")
	}
	if len(f.TemplateIDs) > 0 {
		where = append(where, "template_id = ANY("+a.add(pq.Array(f.TemplateIDs))+")")
	}
	if f.UpdatedBefore != nil {
		where = append(where, "updated_at <= "+a.add(*f.UpdatedBefore))
	}
	keys := make([]string, 0, len(f.Metadata))
	for k := range f.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		where = append(where, fmt.Sprintf("metadata ->> %s = %s", a.add(k), a.add(f.Metadata[k])))
	}

	query := "SELECT id FROM submissions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	return query + ` ORDER BY id COLLATE "C"`, a
}

func (s *Store) ResolveSubmissionIDs(ctx context.Context, f store.BulkFilter) ([]string, error) {
	query, params := buildResolveQuery(f)
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, params...); err != nil {
		return nil, fmt.Errorf("failed to resolve bulk targets: %w", err)
	}
	return ids, nil
}

// MutateSubmissions locks the chunk's rows, plans the replacements and writes
// them with their version entries in one transaction.
func (s *Store) MutateSubmissions(ctx context.Context, ids []string, plan store.ChunkPlanner) error {
	return s.pg.WithTx(ctx, func(tx *sqlx.Tx) error {
		var rows []submissionRow
		err := tx.SelectContext(ctx, &rows,
			`SELECT `+submissionColumns+` FROM submissions WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
			pq.Array(ids))
		if err != nil {
			return err
		}
		existing := make(map[string]*domain.Submission, len(rows))
		for i := range rows {
			sub, err := rows[i].toDomain()
			if err != nil {
				return err
			}
			existing[sub.ID] = sub
		}

		writes, err := plan(existing)
		if err != nil {
			return err
		}
		for id, w := range writes {
			if w.Version != nil {
				if err := appendVersion(ctx, tx, id, w.Version); err != nil {
					return err
				}
			}
			w.Submission.ID = id
			if err := writeSubmission(ctx, tx, w.Submission); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	var t domain.Template
	var fields types.JSONText
	err := s.db.QueryRowxContext(ctx, `
		SELECT id, name, category, status, fields, created_by, created_at, updated_at
		FROM templates WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Category, &t.Status, &fields, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	if err := fromJSON(fields, &t.Fields); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) CreateTemplate(ctx context.Context, t *domain.Template) error {
	fields := t.Fields
	if fields == nil {
		fields = []domain.TemplateField{}
	}
	fj, err := toJSON(fields)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO templates (id, name, category, status, fields, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, category = EXCLUDED.category, status = EXCLUDED.status,
			fields = EXCLUDED.fields, updated_at = EXCLUDED.updated_at`,
		t.ID, t.Name, t.Category, string(t.Status), fj, t.CreatedBy, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

func (s *Store) DeleteTemplates(ctx context.Context, ids []string) ([]string, error) {
	var deleted []string
	err := s.db.SelectContext(ctx, &deleted,
		`DELETE FROM templates WHERE id = ANY($1) RETURNING id`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to delete templates: %w", err)
	}
	sort.Strings(deleted)
	return deleted, nil
}
