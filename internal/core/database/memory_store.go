package db

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/markdave123-py/Extracta/internal/models"
)

// MemoryStore keeps runs in process memory. It is used when no database is
// configured; runs are lost on exit.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]models.Run
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]models.Run)}
}

func (m *MemoryStore) CreateRun(_ context.Context, run *models.Run) error {
	if run == nil {
		return errors.New("nil run")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.runs[run.ID]; dup {
		return errors.New("run already exists: " + run.ID)
	}
	m.runs[run.ID] = *run
	return nil
}

func (m *MemoryStore) FinishRun(_ context.Context, run *models.Run) error {
	if run == nil {
		return errors.New("nil run")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	m.runs[run.ID] = *run
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, id string) (*models.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return &r, nil
}

func (m *MemoryStore) ListRuns(_ context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	out := make([]models.Run, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

var _ RunStore = (*MemoryStore)(nil)
