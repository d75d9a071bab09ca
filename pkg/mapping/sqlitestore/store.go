// Copyright 2024-2026 Aiku AI

// Package sqlitestore provides a SQLite-backed mapping backend.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aiku/wa-mattermost-relay/pkg/mapping"
	"github.com/aiku/wa-mattermost-relay/pkg/mapping/sqlitestore/migrations"
)

func init() {
	mapping.RegisterBackend(mapping.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context, cfg mapping.BackendConfig) (mapping.Backend, error) {
			return Open(ctx, cfg.Path)
		},
	})
}

// Store persists mapping records in a single SQLite table.
type Store struct {
	db *sql.DB
}

var _ mapping.Backend = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path and applies the embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}
	if err = applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Load(ctx context.Context) ([]mapping.Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT kind, key, data, updated_at FROM mappings")
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings: %w", err)
	}
	defer rows.Close()

	var out []mapping.Record
	for rows.Next() {
		var (
			rec       mapping.Record
			kind      string
			data      string
			updatedAt int64
		)
		if err = rows.Scan(&kind, &rec.Key, &data, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		rec.Kind = mapping.Kind(kind)
		rec.Data = []byte(data)
		rec.UpdatedAt = fromMillis(updatedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Put(ctx context.Context, rec mapping.Record) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO mappings (kind, key, data, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (kind, key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		string(rec.Kind), rec.Key, string(rec.Data), toMillis(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert %s mapping %s: %w", rec.Kind, rec.Key, err)
	}
	return nil
}

func (s *Store) Close(context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
