package kvstore

import (
	"context"
	"sync"
)

// MemBackend is an in-memory Backend for tests and ephemeral runs.
type MemBackend struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMem creates an empty in-memory backend.
func NewMem() *MemBackend {
	return &MemBackend{m: make(map[string]string)}
}

func (b *MemBackend) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.m[key]
	return v, ok, nil
}

func (b *MemBackend) Put(_ context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[key] = value
	return nil
}

func (b *MemBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.m, key)
	return nil
}

func (b *MemBackend) Keys(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.m))
	for k := range b.m {
		keys = append(keys, k)
	}
	return keys, nil
}

func (b *MemBackend) Usage(_ context.Context) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total int64
	for k, v := range b.m {
		total += int64(len(k) + len(v))
	}
	return total, nil
}
