// Copyright 2024-2026 Aiku AI

package mapping

import (
	"context"
	"fmt"
)

// Backend persists mapping records. Put is an upsert keyed by (Kind, Key).
type Backend interface {
	Load(ctx context.Context) ([]Record, error)
	Put(ctx context.Context, rec Record) error
	Close(ctx context.Context) error
}

// BackendConfig carries the settings a backend loader may need. Each backend
// reads only the fields it understands.
type BackendConfig struct {
	URI       string
	Path      string
	Database  string
	Table     string
	KeyPrefix string
	Region    string
}

// Loader opens a backend.
type Loader func(ctx context.Context, cfg BackendConfig) (Backend, error)

// Plugin represents a storage backend plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// RegisterBackend adds a storage backend plugin.
func RegisterBackend(p Plugin) {
	plugins = append(plugins, p)
}

// BackendNames returns all registered backend names.
func BackendNames() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// SelectBackend returns the loader for the named backend.
func SelectBackend(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown storage backend %q; valid: %v", name, BackendNames())
}

// OpenBackend selects and loads the named backend.
func OpenBackend(ctx context.Context, name string, cfg BackendConfig) (Backend, error) {
	load, err := SelectBackend(name)
	if err != nil {
		return nil, err
	}
	backend, err := load(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", name, err)
	}
	return backend, nil
}
