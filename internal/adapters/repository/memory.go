package repository

import (
	"context"
	"sync"

	"github.com/okian/tablewatch/internal/domain/model"
)

// MemoryStore keeps the snapshot in process. Used when no persist path is
// configured and by replays.
type MemoryStore struct {
	mu    sync.Mutex
	snap  *model.Snapshot
	saves int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Save stores a copy of snap.
func (m *MemoryStore) Save(_ context.Context, snap model.Snapshot) error { //nolint:gocritic // hugeParam: snapshots are values
	c := snap.Clone()
	m.mu.Lock()
	m.snap = &c
	m.saves++
	m.mu.Unlock()
	return nil
}

// Load returns a copy of the stored snapshot or nil.
func (m *MemoryStore) Load(_ context.Context) (*model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, nil
	}
	c := m.snap.Clone()
	return &c, nil
}

// Saves returns how many times Save was called.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
