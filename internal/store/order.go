package store

import (
	"strings"
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/domain"
)

// Sortable submission fields.
const (
	SortCompletedAt = "completedAt"
	SortCreatedAt   = "createdAt"
	FieldID         = "__name__"
)

// OrderKey is one component of a query ordering.
type OrderKey struct {
	Field      string
	Descending bool
}

// OrderKeys returns the full ordering for a query: the primary sort field,
// createdAt desc when the primary is something else, then the document ID
// in the direction of the key before it.
func OrderKeys(sortField string, descending bool) []OrderKey {
	keys := []OrderKey{{Field: sortField, Descending: descending}}
	if sortField != SortCreatedAt {
		keys = append(keys, OrderKey{Field: SortCreatedAt, Descending: true})
	}
	last := keys[len(keys)-1]
	return append(keys, OrderKey{Field: FieldID, Descending: last.Descending})
}

// PositionOf captures the sort tuple of s for the given sort field.
func PositionOf(s *domain.Submission, sortField string) Position {
	p := Position{CreatedAt: s.CreatedAt, ID: s.ID}
	if sortField == SortCompletedAt && s.CompletedAt != nil {
		v := *s.CompletedAt
		p.SortValue = &v
	}
	return p
}

// Values returns the position as values aligned with OrderKeys.
func (p Position) Values(sortField string) []interface{} {
	if sortField == SortCreatedAt {
		return []interface{}{p.CreatedAt, p.ID}
	}
	var sv time.Time
	if p.SortValue != nil {
		sv = *p.SortValue
	}
	return []interface{}{sv, p.CreatedAt, p.ID}
}

// CompareSubmissions orders a before b (negative), after (positive) or equal.
func CompareSubmissions(a, b *domain.Submission, keys []OrderKey) int {
	for _, k := range keys {
		c := compareField(a, b, k.Field)
		if k.Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// After reports whether s sorts strictly after position p.
func After(s *domain.Submission, p Position, sortField string, keys []OrderKey) bool {
	pos := &domain.Submission{ID: p.ID, CreatedAt: p.CreatedAt}
	if p.SortValue != nil {
		v := *p.SortValue
		pos.CompletedAt = &v
	}
	return CompareSubmissions(s, pos, keys) > 0
}

func compareField(a, b *domain.Submission, field string) int {
	switch field {
	case SortCompletedAt:
		return compareTime(deref(a.CompletedAt), deref(b.CompletedAt))
	case SortCreatedAt:
		return compareTime(a.CreatedAt, b.CreatedAt)
	default:
		return strings.Compare(a.ID, b.ID)
	}
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// Dedupe removes repeated IDs, keeping the first occurrence.
func Dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Chunk splits ids into consecutive groups of at most size.
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = len(ids)
	}
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// MatchesBulkFilter applies f to s in memory.
func MatchesBulkFilter(s *domain.Submission, f BulkFilter) bool {
	if len(f.Statuses) > 0 && !contains(f.Statuses, string(s.Status)) {
		return false
	}
	if len(f.TemplateIDs) > 0 && !contains(f.TemplateIDs, s.TemplateID) {
		return false
	}
	if f.UpdatedBefore != nil && s.UpdatedAt.After(*f.UpdatedBefore) {
		return false
	}
	for k, v := range f.Metadata {
		got, ok := s.Metadata[k]
		if !ok {
			return false
		}
		if str, ok := got.(string); !ok || str != v {
			return false
		}
	}
	return true
}

// MatchesFilter applies a page-query filter to s in memory.
func MatchesFilter(s *domain.Submission, f SubmissionFilter, sortField string) bool {
	if f.UserID != "" && s.UserID != f.UserID {
		return false
	}
	if f.Status != "" && string(s.Status) != f.Status {
		return false
	}
	if f.TemplateID != "" && s.TemplateID != f.TemplateID {
		return false
	}
	// Documents without the sort field are not part of an ordered result.
	if sortField == SortCompletedAt && s.CompletedAt == nil {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
