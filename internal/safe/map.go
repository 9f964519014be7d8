package safe

import (
	"sync"
)

// Map is a concurrency & type safe map
type Map[T any] struct {
	mu   sync.RWMutex
	data map[string]T
}

func NewMap[T any](data map[string]T) *Map[T] {
	if data == nil {
		data = map[string]T{}
	}
	return &Map[T]{
		data: data,
	}
}

func (m *Map[T]) Get(key string) T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[key]
}

// Load returns the value and whether it was present
func (m *Map[T]) Load(key string) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *Map[T]) Exists(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok
}

func (m *Map[T]) Set(key string, value T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string]T{}
	}
	m.data[key] = value
}

// LoadOrStore returns the existing value for the key if present. Otherwise it stores and returns the given value.
// The loaded result is true if the value was loaded, false if stored.
func (m *Map[T]) LoadOrStore(key string, value T) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string]T{}
	}
	if existing, ok := m.data[key]; ok {
		return existing, true
	}
	m.data[key] = value
	return value, false
}

func (m *Map[T]) Del(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

// Clear deletes every key
func (m *Map[T]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = map[string]T{}
}

// Len returns the number of entries
func (m *Map[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Range iterates over a copy of the entries so fn may safely mutate the map
func (m *Map[T]) Range(fn func(key string, t T) bool) {
	for key, value := range m.AsMap() {
		if !fn(key, value) {
			break
		}
	}
}

func (m *Map[T]) AsMap() map[string]T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data := make(map[string]T, len(m.data))
	for key, entry := range m.data {
		data[key] = entry
	}
	return data
}

// Keys returns the keys in no particular order
func (m *Map[T]) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		keys = append(keys, key)
	}
	return keys
}
