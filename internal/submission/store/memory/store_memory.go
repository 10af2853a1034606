package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"efile/internal/submission/models"
	id "efile/pkg/domain"
	"efile/pkg/platform/sentinel"
)

// InMemoryStore keeps submissions in a map. Records are cloned on the way in
// and out so callers never alias stored state.
type InMemoryStore struct {
	mu          sync.RWMutex
	submissions map[id.SubmissionID]*models.Submission
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{submissions: make(map[id.SubmissionID]*models.Submission)}
}

func (s *InMemoryStore) Save(_ context.Context, rec *models.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.submissions[rec.ID]; exists {
		return sentinel.ErrConflict
	}
	s.submissions[rec.ID] = rec.Clone()
	return nil
}

func (s *InMemoryStore) Load(_ context.Context, subID id.SubmissionID) (*models.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.submissions[subID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *InMemoryStore) UpdateStatus(_ context.Context, rec *models.Submission, from models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.submissions[rec.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if stored.Status != from {
		return sentinel.ErrConflict
	}
	s.submissions[rec.ID] = rec.Clone()
	return nil
}

func (s *InMemoryStore) ListByStatus(_ context.Context, status models.Status, limit int) ([]*models.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Submission
	for _, rec := range s.submissions {
		if rec.Status == status {
			out = append(out, rec.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.Submission) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
