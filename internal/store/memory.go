package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore implements Store with an in-memory map. Runs are kept until
// the process exits, oldest evicted first once the capacity is reached.
type MemoryStore struct {
	mu       sync.RWMutex
	runs     map[string]*Run
	order    []string
	capacity int
}

// NewMemoryStore creates a store holding at most capacity runs; zero or
// less means unbounded.
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{
		runs:     make(map[string]*Run),
		capacity: capacity,
	}
}

func (s *MemoryStore) SaveRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, run.ID)
	}
	if s.capacity > 0 && len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.runs, oldest)
	}

	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}
