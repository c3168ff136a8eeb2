package session

import (
	"context"
	"maps"
	"sync"
)

// Backend persists one string map per namespace (portal origin).
//
// Update must apply fn atomically with respect to other writers of the same
// namespace: load, mutate, save. An empty map after fn means the namespace
// is removed.
type Backend interface {
	Name() string
	Load(ctx context.Context, namespace string) (map[string]string, error)
	Update(ctx context.Context, namespace string, fn func(values map[string]string) error) error
}

// MemoryBackend keeps credentials in process memory only.
type MemoryBackend struct {
	mu   sync.Mutex
	data map[string]map[string]string
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]map[string]string)}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Load(_ context.Context, namespace string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneValues(b.data[namespace]), nil
}

func (b *MemoryBackend) Update(_ context.Context, namespace string, fn func(map[string]string) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	values := cloneValues(b.data[namespace])
	if err := fn(values); err != nil {
		return err
	}
	if len(values) == 0 {
		delete(b.data, namespace)
		return nil
	}
	b.data[namespace] = values
	return nil
}

func cloneValues(m map[string]string) map[string]string {
	if m == nil {
		return make(map[string]string)
	}
	return maps.Clone(m)
}
