package memory

import (
	"context"
	"slices"
	"sync"

	"efile/internal/amendment"
	id "efile/pkg/domain"
	"efile/pkg/platform/sentinel"
)

// Store keeps amendment records in a map, copying them in and out.
type Store struct {
	mu      sync.RWMutex
	records map[id.AmendmentID]*amendment.Record
}

func New() *Store {
	return &Store{records: make(map[id.AmendmentID]*amendment.Record)}
}

func (s *Store) Save(_ context.Context, rec *amendment.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return sentinel.ErrConflict
	}
	s.records[rec.ID] = clone(rec)
	return nil
}

func (s *Store) Load(_ context.Context, amendmentID id.AmendmentID) (*amendment.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[amendmentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(rec), nil
}

func (s *Store) ListByOriginal(_ context.Context, original id.SubmissionID) ([]*amendment.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*amendment.Record
	for _, rec := range s.records {
		if rec.OriginalID == original {
			out = append(out, clone(rec))
		}
	}
	slices.SortFunc(out, func(a, b *amendment.Record) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func clone(rec *amendment.Record) *amendment.Record {
	out := *rec
	out.Changes = slices.Clone(rec.Changes)
	out.Diff = slices.Clone(rec.Diff)
	return &out
}
