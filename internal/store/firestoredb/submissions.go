package firestoredb

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/cuongbtq/questionnaire-be/internal/store"
	"google.golang.org/api/iterator"
)

// Firestore rejects "in" filters with more values than this.
const maxInValues = 30

func decodeSubmission(snap *firestore.DocumentSnapshot) (*domain.Submission, error) {
	var sub domain.Submission
	if err := snap.DataTo(&sub); err != nil {
		return nil, fmt.Errorf("failed to decode submission %s: %w", snap.Ref.ID, err)
	}
	sub.ID = snap.Ref.ID
	return &sub, nil
}

func (s *Store) GetSubmission(ctx context.Context, id string) (*domain.Submission, error) {
	snap, err := s.submissions().Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return decodeSubmission(snap)
}

func (s *Store) CreateSubmission(ctx context.Context, sub *domain.Submission) error {
	if _, err := s.submissions().Doc(sub.ID).Create(ctx, sub); err != nil {
		return fmt.Errorf("failed to create submission: %w", err)
	}
	return nil
}

// UpdateSubmission reads, transforms and writes the submission and its version
// entry in one transaction.
func (s *Store) UpdateSubmission(ctx context.Context, id string, fn store.UpdateFunc) error {
	ref := s.submissions().Doc(id)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return domain.ErrSubmissionNotFound
			}
			return err
		}
		current, err := decodeSubmission(snap)
		if err != nil {
			return err
		}

		next, version, err := fn(current)
		if err != nil {
			return err
		}
		if version != nil {
			if err := appendVersion(tx, ref, version); err != nil {
				return err
			}
		}
		if next != nil {
			return tx.Set(ref, next)
		}
		return nil
	})
}

func appendVersion(tx *firestore.Transaction, ref *firestore.DocumentRef, version *domain.Version) error {
	return tx.Create(ref.Collection(store.CollectionVersions).Doc(version.VersionID), version)
}

func (s *Store) ListVersions(ctx context.Context, submissionID string) ([]domain.Version, error) {
	snaps, err := s.submissions().Doc(submissionID).Collection(store.CollectionVersions).
		OrderBy("version", firestore.Desc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	versions := make([]domain.Version, 0, len(snaps))
	for _, snap := range snaps {
		var v domain.Version
		if err := snap.DataTo(&v); err != nil {
			return nil, fmt.Errorf("failed to decode version %s: %w", snap.Ref.ID, err)
		}
		versions = append(versions, v)
	}
	return versions, nil
}

func (s *Store) filtered(f store.SubmissionFilter) firestore.Query {
	q := s.submissions().Query
	if f.UserID != "" {
		q = q.Where("userId", "==", f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status", "==", f.Status)
	}
	if f.TemplateID != "" {
		q = q.Where("templateId", "==", f.TemplateID)
	}
	return q
}

// QuerySubmissions reads one page. Ordering by completedAt drops documents
// without the field, matching the other backends.
func (s *Store) QuerySubmissions(ctx context.Context, sq store.SubmissionQuery) ([]*domain.Submission, error) {
	q := s.filtered(sq.Filter)
	for _, k := range store.OrderKeys(sq.SortField, sq.Descending) {
		dir := firestore.Asc
		if k.Descending {
			dir = firestore.Desc
		}
		if k.Field == store.FieldID {
			q = q.OrderBy(firestore.DocumentID, dir)
		} else {
			q = q.OrderBy(k.Field, dir)
		}
	}
	if sq.After != nil {
		q = q.StartAfter(sq.After.Values(sq.SortField)...)
	}
	if sq.Limit > 0 {
		q = q.Limit(sq.Limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var items []*domain.Submission
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query submissions: %w", err)
		}
		sub, err := decodeSubmission(snap)
		if err != nil {
			return nil, err
		}
		items = append(items, sub)
	}
	return items, nil
}

func (s *Store) CountSubmissions(ctx context.Context, f store.SubmissionFilter, sortField string) (int64, error) {
	q := s.filtered(f)
	if sortField == store.SortCompletedAt {
		q = q.OrderBy(store.SortCompletedAt, firestore.Asc)
	}
	res, err := q.NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	v, ok := res["all"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("unexpected count result %T", res["all"])
	}
	return v.GetIntegerValue(), nil
}

// ResolveSubmissionIDs snapshots the IDs matching f. Firestore allows one
// disjunction per query, so when both statuses and template IDs are given the
// template IDs are matched in memory.
func (s *Store) ResolveSubmissionIDs(ctx context.Context, f store.BulkFilter) ([]string, error) {
	q := s.submissions().Query
	memoryTemplates := false

	if len(f.Statuses) > 0 {
		q = whereIn(q, "status", f.Statuses)
	}
	switch {
	case len(f.TemplateIDs) == 0:
	case len(f.Statuses) > 0 || len(f.TemplateIDs) > maxInValues:
		memoryTemplates = true
	default:
		q = whereIn(q, "templateId", f.TemplateIDs)
	}
	if f.UpdatedBefore != nil {
		q = q.Where("updatedAt", "<=", *f.UpdatedBefore)
	}
	keys := make([]string, 0, len(f.Metadata))
	for k := range f.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q = q.WherePath(firestore.FieldPath{"metadata", k}, "==", f.Metadata[k])
	}

	if memoryTemplates {
		q = q.Select("templateId")
	} else {
		q = q.Select()
	}

	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bulk targets: %w", err)
	}
	if !memoryTemplates {
		return sortedIDs(snaps), nil
	}

	allowed := make(map[string]bool, len(f.TemplateIDs))
	for _, id := range f.TemplateIDs {
		allowed[id] = true
	}
	kept := snaps[:0]
	for _, snap := range snaps {
		tid, err := snap.DataAt("templateId")
		if err != nil {
			continue
		}
		if v, ok := tid.(string); ok && allowed[v] {
			kept = append(kept, snap)
		}
	}
	return sortedIDs(kept), nil
}

func whereIn(q firestore.Query, field string, values []string) firestore.Query {
	if len(values) == 1 {
		return q.Where(field, "==", values[0])
	}
	return q.Where(field, "in", values)
}

// MutateSubmissions reads the chunk, lets plan decide the replacements and
// commits them with their version entries in a single transaction.
func (s *Store) MutateSubmissions(ctx context.Context, ids []string, plan store.ChunkPlanner) error {
	if len(ids) > store.MaxWriteGroup {
		return fmt.Errorf("chunk of %d exceeds %d writes", len(ids), store.MaxWriteGroup)
	}
	refs := refsFor(s.submissions(), ids)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}
		existing := make(map[string]*domain.Submission, len(snaps))
		for _, snap := range snaps {
			if !snap.Exists() {
				continue
			}
			sub, err := decodeSubmission(snap)
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
			ref := s.submissions().Doc(id)
			if w.Version != nil {
				if err := appendVersion(tx, ref, w.Version); err != nil {
					return err
				}
			}
			if err := tx.Set(ref, w.Submission); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	snap, err := s.templates().Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	var t domain.Template
	if err := snap.DataTo(&t); err != nil {
		return nil, fmt.Errorf("failed to decode template %s: %w", id, err)
	}
	t.ID = snap.Ref.ID
	return &t, nil
}

func (s *Store) CreateTemplate(ctx context.Context, t *domain.Template) error {
	if _, err := s.templates().Doc(t.ID).Set(ctx, t); err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

func (s *Store) DeleteTemplates(ctx context.Context, ids []string) ([]string, error) {
	var deleted []string
	refs := refsFor(s.templates(), ids)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		deleted = deleted[:0]
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			if !snap.Exists() {
				continue
			}
			if err := tx.Delete(snap.Ref); err != nil {
				return err
			}
			deleted = append(deleted, snap.Ref.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete templates: %w", err)
	}
	return deleted, nil
}
