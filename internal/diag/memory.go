package diag

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore keeps both logs in process memory, unbounded until cleared.
type MemoryStore struct {
	mu     sync.Mutex
	steps  []Step
	errors []ErrorReport
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) AppendStep(_ context.Context, step Step) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
	return len(s.steps), nil
}

func (s *MemoryStore) ClearSteps(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.steps)
	s.steps = nil
	return n, nil
}

func (s *MemoryStore) Steps(_ context.Context) ([]Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.steps), nil
}

func (s *MemoryStore) AppendError(_ context.Context, report ErrorReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, report)
	return nil
}

func (s *MemoryStore) Errors(_ context.Context) ([]ErrorReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.errors), nil
}
