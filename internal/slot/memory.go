package slot

import (
	"context"
	"sync"
)

// MemorySlot implements Slot with an in-process map. Used in tests and when
// persistence across restarts is not wanted.
type MemorySlot struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemorySlot creates an empty in-memory slot store.
func NewMemorySlot() *MemorySlot {
	return &MemorySlot{
		values: make(map[string][]byte),
	}
}

// Read implements Slot.
func (s *MemorySlot) Read(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Write implements Slot.
func (s *MemorySlot) Write(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	s.values[key] = stored
	return nil
}

// Delete implements Slot.
func (s *MemorySlot) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

// Close implements Slot.
func (s *MemorySlot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = nil
	return nil
}
