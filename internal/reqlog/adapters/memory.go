package adapters

import (
	"context"
	"sync"

	"github.com/G1D0/reqlog/internal/reqlog"
)

// DefaultMemorySize is the capacity used when NewMemory gets size <= 0.
const DefaultMemorySize = 100

// Memory keeps the most recent resources in a bounded in-memory ring.
type Memory struct {
	mu      sync.RWMutex
	size    int
	entries []reqlog.Resource
}

// NewMemory keeps at most size resources.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = DefaultMemorySize
	}
	return &Memory{
		size:    size,
		entries: make([]reqlog.Resource, 0, size),
	}
}

// Create implements reqlog.Adapter. The oldest entry is evicted when full.
func (m *Memory) Create(_ context.Context, res reqlog.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) == m.size {
		copy(m.entries, m.entries[1:])
		m.entries[len(m.entries)-1] = res
		return nil
	}
	m.entries = append(m.entries, res)
	return nil
}

// Entries returns a copy of the stored resources, oldest first.
func (m *Memory) Entries() []reqlog.Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]reqlog.Resource, len(m.entries))
	copy(out, m.entries)
	return out
}

// Len returns the number of stored resources.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Clear drops all stored resources.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = m.entries[:0]
}
