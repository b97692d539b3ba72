package backend

import (
	"context"
	"sync"

	"github.com/memcontext/vault/internal/model"
	"github.com/memcontext/vault/internal/router"
)

// Memory is an in-process backend, used for tests and as the fastest tier
// in a multi-backend router configuration.
type Memory struct {
	name string

	mu         sync.RWMutex
	objects    map[string][]byte
	errorCount int64
}

// NewMemory builds an empty in-memory backend.
func NewMemory(name string) *Memory {
	return &Memory{name: name, objects: make(map[string][]byte)}
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) Store(_ context.Context, id, _ string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[id] = cp
	return nil
}

func (m *Memory) Retrieve(_ context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[id]
	if !ok {
		return nil, model.ErrNotFound("object", id)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, id)
	return nil
}

func (m *Memory) Stats(_ context.Context) (router.BackendStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats router.BackendStats
	stats.FileCount = int64(len(m.objects))
	for _, data := range m.objects {
		stats.TotalSize += int64(len(data))
	}
	stats.ErrorCount = m.errorCount
	return stats, nil
}

func (m *Memory) HealthCheck(_ context.Context) error {
	return nil
}
