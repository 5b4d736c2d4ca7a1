// Package state stores the per-machine alert state owned by the threshold
// engine.
package state

import (
	"context"
	"sync"

	"tempmon/internal/models"
)

// Store persists EntityState keyed by machine. Entries are created lazily on
// first observation and never deleted.
type Store interface {
	Get(ctx context.Context, entity string) (models.EntityState, bool, error)
	Put(ctx context.Context, st models.EntityState) error
	Close() error
}

// Memory is the default in-process Store. It lives for the process lifetime.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]models.EntityState
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]models.EntityState)}
}

// Get returns the stored state for entity.
func (m *Memory) Get(_ context.Context, entity string) (models.EntityState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.entries[entity]
	return st, ok, nil
}

// Put replaces the stored state for st.EntityID.
func (m *Memory) Put(_ context.Context, st models.EntityState) error {
	m.mu.Lock()
	m.entries[st.EntityID] = st
	m.mu.Unlock()
	return nil
}

// Len reports how many machines have been observed.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
