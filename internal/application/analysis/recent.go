package analysis

import (
	"context"
	"sync"
)

// DefaultRecentCapacity is the number of analyses kept by default.
const DefaultRecentCapacity = 50

// MemoryRecentStore is a bounded in-process RecentStore.
type MemoryRecentStore struct {
	mu    sync.Mutex
	items []*Analysis
	cap   int
}

// NewMemoryRecentStore keeps up to capacity analyses.
func NewMemoryRecentStore(capacity int) *MemoryRecentStore {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	return &MemoryRecentStore{cap: capacity}
}

func (m *MemoryRecentStore) Push(_ context.Context, a *Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append([]*Analysis{a}, m.items...)
	if len(m.items) > m.cap {
		m.items = m.items[:m.cap]
	}
	return nil
}

func (m *MemoryRecentStore) Recent(_ context.Context, n int) ([]*Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > len(m.items) {
		n = len(m.items)
	}
	return append([]*Analysis(nil), m.items[:n]...), nil
}

//Personal.AI order the ending
