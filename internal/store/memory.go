package store

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/payops-sentinel/internal/model"
)

// MemoryStore keeps everything in process memory. Sessions do not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	states  map[string]*model.WorkflowState
	history []model.ActionRecord
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{states: make(map[string]*model.WorkflowState)}
}

func (s *MemoryStore) Load(_ context.Context, threadID string) (*model.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[threadID]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "thread %s", threadID)
	}
	return st.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, state *model.WorkflowState) error {
	if err := state.Validate(); err != nil {
		return eris.Wrap(err, "memory: save")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if existing, ok := s.states[state.ThreadID]; ok {
		current = existing.Version
	}
	if current != state.Version {
		return eris.Wrapf(ErrConflict, "thread %s: have %d, want %d", state.ThreadID, state.Version, current)
	}

	state.Version++
	s.states[state.ThreadID] = state.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[threadID]; !ok {
		return eris.Wrapf(ErrNotFound, "thread %s", threadID)
	}
	delete(s.states, threadID)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) AppendAction(_ context.Context, rec model.ActionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, rec)
	return nil
}

func (s *MemoryStore) RecentActions(_ context.Context, k int) ([]model.ActionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.LastK(s.history, k), nil
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
