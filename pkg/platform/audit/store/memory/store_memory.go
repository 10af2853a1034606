package memory

import (
	"context"
	"slices"
	"sync"

	id "efile/pkg/domain"
	audit "efile/pkg/platform/audit"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.SubmissionID][]audit.Event
	all    []audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.SubmissionID][]audit.Event)}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.SubmissionID] = append(s.events[event.SubmissionID], event)
	s.all = append(s.all, event)
	return nil
}

func (s *InMemoryStore) ListBySubmission(_ context.Context, subID id.SubmissionID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events[subID]), nil
}

// ListAll returns every event in append order.
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.all), nil
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[id.SubmissionID][]audit.Event)
	s.all = nil
}
