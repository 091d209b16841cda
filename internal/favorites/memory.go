package favorites

import (
	"context"
	"sync"

	"github.com/i474232898/river-flow-aggregation/internal/river"
)

// Memory keeps favorites for the lifetime of the process.
type Memory struct {
	mu  sync.RWMutex
	ids river.KeySet
}

func NewMemory() *Memory {
	return &Memory{ids: river.KeySet{}}
}

func (m *Memory) Get(context.Context) (river.KeySet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ids.Clone(), nil
}

func (m *Memory) Set(_ context.Context, ids river.KeySet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = ids.Clone()
	return nil
}

func (m *Memory) Close() error { return nil }
