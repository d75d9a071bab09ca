// Copyright 2024-2026 Aiku AI

// Package mongostore provides a MongoDB-backed mapping backend.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/aiku/wa-mattermost-relay/pkg/mapping"
)

const (
	defaultDatabase   = "wa_relay"
	defaultCollection = "mappings"
)

func init() {
	mapping.RegisterBackend(mapping.Plugin{
		Name: "mongo",
		Loader: func(ctx context.Context, cfg mapping.BackendConfig) (mapping.Backend, error) {
			return Open(ctx, cfg.URI, cfg.Database, cfg.Table)
		},
	})
}

type document struct {
	Kind      string    `bson:"kind"`
	Key       string    `bson:"key"`
	Data      string    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Store keeps mapping records as documents in one collection with a unique
// (kind, key) index.
type Store struct {
	client *mongo.Client
	col    *mongo.Collection
}

var _ mapping.Backend = (*Store)(nil)

// Open connects to uri and ensures the collection index exists. Empty
// database and collection names fall back to defaults.
func Open(ctx context.Context, uri, database, collection string) (*Store, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	if database == "" {
		database = defaultDatabase
	}
	if collection == "" {
		collection = defaultCollection
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	col := client.Database(database).Collection(collection)
	_, err = col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "kind", Value: 1}, {Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create mapping index: %w", err)
	}
	return &Store{client: client, col: col}, nil
}

func (s *Store) Load(ctx context.Context) ([]mapping.Record, error) {
	cursor, err := s.col.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings: %w", err)
	}
	defer cursor.Close(ctx)

	var out []mapping.Record
	for cursor.Next(ctx) {
		var doc document
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode mapping: %w", err)
		}
		out = append(out, mapping.Record{
			Kind:      mapping.Kind(doc.Kind),
			Key:       doc.Key,
			Data:      []byte(doc.Data),
			UpdatedAt: doc.UpdatedAt,
		})
	}
	return out, cursor.Err()
}

func (s *Store) Put(ctx context.Context, rec mapping.Record) error {
	filter := bson.M{"kind": string(rec.Kind), "key": rec.Key}
	update := bson.M{"$set": bson.M{
		"data":       string(rec.Data),
		"updated_at": rec.UpdatedAt.UTC(),
	}}
	_, err := s.col.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert %s mapping %s: %w", rec.Kind, rec.Key, err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
