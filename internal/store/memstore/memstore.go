// Package memstore is an in-process implementation of every store capability.
// It backs tests and the "memory" backend for local runs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/cuongbtq/questionnaire-be/internal/store"
)

// Store keeps all collections in maps guarded by one mutex, which makes every
// operation atomic.
type Store struct {
	mu          sync.Mutex
	submissions map[string]*domain.Submission
	versions    map[string][]domain.Version
	templates   map[string]*domain.Template
	jobs        map[string]*domain.Job
	windows     map[string]*domain.RateLimitWindow
	alerts      []*domain.SecurityAlert

	// FailMutations, when set, is returned by MutateSubmissions for the given call
	// number (1-based). Used to simulate store outages.
	FailMutations map[int]error
	mutateCalls   int
}

var _ store.Backend = (*Store)(nil)

func New() *Store {
	return &Store{
		submissions: make(map[string]*domain.Submission),
		versions:    make(map[string][]domain.Version),
		templates:   make(map[string]*domain.Template),
		jobs:        make(map[string]*domain.Job),
		windows:     make(map[string]*domain.RateLimitWindow),
	}
}

func (s *Store) GetSubmission(_ context.Context, id string) (*domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[id]
	if !ok {
		return nil, domain.ErrSubmissionNotFound
	}
	return sub.Clone(), nil
}

func (s *Store) CreateSubmission(_ context.Context, sub *domain.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.submissions[sub.ID]; exists {
		return fmt.Errorf("submission %s already exists", sub.ID)
	}
	s.submissions[sub.ID] = sub.Clone()
	return nil
}

func (s *Store) UpdateSubmission(_ context.Context, id string, fn store.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.submissions[id]
	if !ok {
		return domain.ErrSubmissionNotFound
	}
	next, version, err := fn(current.Clone())
	if err != nil {
		return err
	}
	if version != nil {
		s.versions[id] = append(s.versions[id], *version)
	}
	if next != nil {
		next = next.Clone()
		next.ID = id
		s.submissions[id] = next
	}
	return nil
}

func (s *Store) ListVersions(_ context.Context, submissionID string) ([]domain.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.versions[submissionID]
	out := make([]domain.Version, len(src))
	for i := range src {
		out[len(src)-1-i] = src[i]
	}
	return out, nil
}

func (s *Store) QuerySubmissions(_ context.Context, q store.SubmissionQuery) ([]*domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := store.OrderKeys(q.SortField, q.Descending)
	var matched []*domain.Submission
	for _, sub := range s.submissions {
		if !store.MatchesFilter(sub, q.Filter, q.SortField) {
			continue
		}
		if q.After != nil && !store.After(sub, *q.After, q.SortField, keys) {
			continue
		}
		matched = append(matched, sub.Clone())
	}
	sort.Slice(matched, func(i, j int) bool {
		return store.CompareSubmissions(matched[i], matched[j], keys) < 0
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (s *Store) CountSubmissions(_ context.Context, f store.SubmissionFilter, sortField string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, sub := range s.submissions {
		if store.MatchesFilter(sub, f, sortField) {
			n++
		}
	}
	return n, nil
}

func (s *Store) ResolveSubmissionIDs(_ context.Context, f store.BulkFilter) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, sub := range s.submissions {
		if store.MatchesBulkFilter(sub, f) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) MutateSubmissions(_ context.Context, ids []string, plan store.ChunkPlanner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mutateCalls++
	if err, ok := s.FailMutations[s.mutateCalls]; ok {
		return err
	}

	existing := make(map[string]*domain.Submission, len(ids))
	for _, id := range ids {
		if sub, ok := s.submissions[id]; ok {
			existing[id] = sub.Clone()
		}
	}
	writes, err := plan(existing)
	if err != nil {
		return err
	}
	for id, w := range writes {
		if w.Version != nil {
			s.versions[id] = append(s.versions[id], *w.Version)
		}
		next := w.Submission.Clone()
		next.ID = id
		s.submissions[id] = next
	}
	return nil
}

func (s *Store) GetTemplate(_ context.Context, id string) (*domain.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.templates[id]
	if !ok {
		return nil, domain.ErrTemplateNotFound
	}
	c := *t
	return &c, nil
}

func (s *Store) CreateTemplate(_ context.Context, t *domain.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *t
	s.templates[t.ID] = &c
	return nil
}

func (s *Store) DeleteTemplates(_ context.Context, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted []string
	for _, id := range ids {
		if _, ok := s.templates[id]; ok {
			delete(s.templates, id)
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

func (s *Store) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *Store) GetJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *Store) ClaimJob(_ context.Context, id string, now time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.Status != domain.JobStatusPending {
		return nil, domain.ErrJobAlreadyClaimed
	}
	job.Status = domain.JobStatusInProgress
	started := now
	job.StartedAt = &started
	job.UpdatedAt = now
	return job.Clone(), nil
}

func (s *Store) RecordChunk(_ context.Context, id string, delta domain.Progress, result domain.JobResult, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.Progress = job.Progress.Add(delta)
	job.Result = (&domain.Job{Result: result}).Clone().Result
	job.UpdatedAt = now
	return nil
}

func (s *Store) FinishJob(_ context.Context, id string, status domain.JobStatus, errMsg string, result domain.JobResult, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.Status = status
	job.Error = errMsg
	job.Result = (&domain.Job{Result: result}).Clone().Result
	job.Progress = finalProgress(job.Progress.Total, result)
	completed := now
	job.CompletedAt = &completed
	job.UpdatedAt = now
	return nil
}

func finalProgress(total int, result domain.JobResult) domain.Progress {
	p := result.Progress()
	p.Total = total
	return p
}

func (s *Store) RequestCancel(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.CancelRequested = true
	job.UpdatedAt = now
	return nil
}

func (s *Store) UpdateWindow(_ context.Context, key string, fn store.WindowFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *domain.RateLimitWindow
	if w, ok := s.windows[key]; ok {
		c := *w
		c.Requests = append([]domain.RequestEntry(nil), w.Requests...)
		current = &c
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	if next != nil {
		next.Key = key
		s.windows[key] = next
	}
	return nil
}

func (s *Store) DeleteStaleWindows(_ context.Context, cutoff time.Time, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for key, w := range s.windows {
		if w.LastRequest.Before(cutoff) {
			delete(s.windows, key)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) RecordAlert(_ context.Context, alert *domain.SecurityAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *alert
	s.alerts = append(s.alerts, &c)
	return nil
}

// Alerts returns the recorded security alerts.
func (s *Store) Alerts() []*domain.SecurityAlert {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*domain.SecurityAlert(nil), s.alerts...)
}

// Window returns the stored window for key, if any.
func (s *Store) Window(key string) (*domain.RateLimitWindow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		return nil, false
	}
	c := *w
	c.Requests = append([]domain.RequestEntry(nil), w.Requests...)
	return &c, true
}
