// Package kv provides SharedStorage implementations: durable key/value
// storage shared by the display sessions of one origin, with change
// notification.
package kv

import (
	"context"
	"sync"

	"safeboard/internal/board"
)

// MemoryStorage is process-scoped shared storage. Every Resolver in the
// process that shares it sees the others' writes.
type MemoryStorage struct {
	mu       sync.RWMutex
	data     map[string][]byte
	watchers *watchers
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		data:     make(map[string][]byte),
		watchers: newWatchers(),
	}
}

func (m *MemoryStorage) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryStorage) Set(key string, value []byte) error {
	m.mu.Lock()
	m.data[key] = append([]byte(nil), value...)
	m.mu.Unlock()
	m.watchers.notify(key, value)
	return nil
}

func (m *MemoryStorage) Delete(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	return m.watchers.add(ctx, key), nil
}

var _ board.SharedStorage = (*MemoryStorage)(nil)
