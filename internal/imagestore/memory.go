// internal/imagestore/memory.go
//
// In-memory implementation of the Store interface.
// Used by tests and by deployments that preload a handful of images.
//
// Characteristics:
//   - Holds image bytes keyed by base name.
//   - Concurrency-safe via RWMutex (concurrent reads allowed, writes exclusive).
//   - Get returns a copy so callers cannot mutate stored bytes.

package imagestore

import (
	"context"
	"sync"
)

// Memory is an in-memory map-based Store implementation.
type Memory struct {
	mu     sync.RWMutex
	images map[string][]byte // keyed by Key(ref)
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *Memory {
	return &Memory{images: make(map[string][]byte)}
}

// Put adds or replaces the image for ref.
func (m *Memory) Put(ref string, b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[Key(ref)] = append([]byte(nil), b...)
}

// Get looks up an image by ref.
func (m *Memory) Get(ctx context.Context, ref string) ([]byte, error) {
	key := Key(ref)
	if key == "" {
		return nil, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.images[key]; ok {
		return append([]byte(nil), b...), nil
	}
	return nil, ErrNotFound
}
