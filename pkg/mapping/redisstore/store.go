// Copyright 2024-2026 Aiku AI

// Package redisstore provides a Redis-backed mapping backend. Each kind is
// one hash whose fields are the record keys.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/aiku/wa-mattermost-relay/pkg/mapping"
)

const defaultPrefix = "wa-relay:"

func init() {
	mapping.RegisterBackend(mapping.Plugin{
		Name: "redis",
		Loader: func(ctx context.Context, cfg mapping.BackendConfig) (mapping.Backend, error) {
			return OpenURL(ctx, cfg.URI, cfg.KeyPrefix)
		},
	})
}

type entry struct {
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store keeps mapping records in Redis hashes.
type Store struct {
	client *goredis.Client
	prefix string
}

var _ mapping.Backend = (*Store)(nil)

// OpenURL connects to a redis:// URL. An empty prefix uses "wa-relay:".
func OpenURL(ctx context.Context, redisURL, prefix string) (*Store, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis storage: invalid URL: %w", err)
	}
	return OpenOptions(ctx, opts, prefix)
}

// OpenOptions connects with explicit go-redis options.
func OpenOptions(ctx context.Context, opts *goredis.Options, prefix string) (*Store, error) {
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis storage: ping failed: %w", err)
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}, nil
}

func (s *Store) hashKey(kind mapping.Kind) string {
	return s.prefix + string(kind)
}

func (s *Store) Load(ctx context.Context) ([]mapping.Record, error) {
	var out []mapping.Record
	for _, kind := range mapping.Kinds() {
		fields, err := s.client.HGetAll(ctx, s.hashKey(kind)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load %s mappings: %w", kind, err)
		}
		for key, raw := range fields {
			var e entry
			if err = json.Unmarshal([]byte(raw), &e); err != nil {
				return nil, fmt.Errorf("failed to decode %s mapping %s: %w", kind, key, err)
			}
			out = append(out, mapping.Record{Kind: kind, Key: key, Data: e.Data, UpdatedAt: e.UpdatedAt})
		}
	}
	return out, nil
}

func (s *Store) Put(ctx context.Context, rec mapping.Record) error {
	raw, err := json.Marshal(entry{Data: rec.Data, UpdatedAt: rec.UpdatedAt.UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode %s mapping %s: %w", rec.Kind, rec.Key, err)
	}
	if err = s.client.HSet(ctx, s.hashKey(rec.Kind), rec.Key, raw).Err(); err != nil {
		return fmt.Errorf("failed to upsert %s mapping %s: %w", rec.Kind, rec.Key, err)
	}
	return nil
}

func (s *Store) Close(context.Context) error {
	return s.client.Close()
}
