package storage

import (
	"sort"
	"sync"
)

// MemoryBackend is an in-memory Backend.
// Useful for testing and development. Data is lost when the process exits.
type MemoryBackend struct {
	mu     sync.RWMutex
	data   map[string]map[string][]byte
	closed bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]map[string][]byte)}
}

// Get implements Backend.
func (m *MemoryBackend) Get(contexts []string, key string) ([]byte, error) {
	path, err := contextKey(contexts)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	value, ok := m.data[path][key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(value), nil
}

// Set implements Backend.
func (m *MemoryBackend) Set(contexts []string, key string, value []byte) error {
	path, err := contextKey(contexts)
	if err != nil {
		return err
	}
	if key == "" {
		return ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	bucket, ok := m.data[path]
	if !ok {
		bucket = make(map[string][]byte)
		m.data[path] = bucket
	}
	bucket[key] = cloneBytes(value)
	return nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(contexts []string, key string) error {
	path, err := contextKey(contexts)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if bucket, ok := m.data[path]; ok {
		delete(bucket, key)
		if len(bucket) == 0 {
			delete(m.data, path)
		}
	}
	return nil
}

// Keys implements Backend.
func (m *MemoryBackend) Keys(contexts []string) ([]string, error) {
	path, err := contextKey(contexts)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	keys := make([]string, 0, len(m.data[path]))
	for k := range m.data[path] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear implements Backend.
func (m *MemoryBackend) Clear(contexts []string) error {
	path, err := contextKey(contexts)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	for p := range m.data {
		if isWithin(p, path) {
			delete(m.data, p)
		}
	}
	return nil
}

// Close implements Backend. Further calls fail with ErrClosed.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// snapshot returns a deep copy of the stored data.
func (m *MemoryBackend) snapshot() map[string]map[string][]byte {
	out := make(map[string]map[string][]byte, len(m.data))
	for path, bucket := range m.data {
		copied := make(map[string][]byte, len(bucket))
		for k, v := range bucket {
			copied[k] = cloneBytes(v)
		}
		out[path] = copied
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
