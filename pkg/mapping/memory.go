// Copyright 2024-2026 Aiku AI

package mapping

import (
	"context"
	"slices"
	"sync"
)

func init() {
	RegisterBackend(Plugin{
		Name: "memory",
		Loader: func(context.Context, BackendConfig) (Backend, error) {
			return NewMemoryBackend(), nil
		},
	})
}

type recordKey struct {
	kind Kind
	key  string
}

// MemoryBackend keeps records in process memory. Nothing survives a restart.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[recordKey]Record
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[recordKey]Record)}
}

func (m *MemoryBackend) Load(context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out, nil
}

func (m *MemoryBackend) Put(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Data = slices.Clone(rec.Data)
	m.records[recordKey{rec.Kind, rec.Key}] = rec
	return nil
}

func (m *MemoryBackend) Close(context.Context) error {
	return nil
}
