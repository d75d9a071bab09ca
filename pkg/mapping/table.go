// Copyright 2024-2026 Aiku AI

package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/aiku/wa-mattermost-relay/pkg/keylock"
)

// DefaultPutTimeout bounds one backend write.
const DefaultPutTimeout = 10 * time.Second

// ErrDuplicate is returned by Upsert when the row would take a unique value
// already owned by a different key.
var ErrDuplicate = errors.New("mapping already claimed by another key")

var persistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wa_relay_mapping_persist_failures_total",
	Help: "Mapping rows that could not be written to the storage backend.",
}, []string{"kind"})

// Table is a write-through cache of one kind of mapping row. Reads are served
// from memory; every change is written to the backend before the call
// returns. Backend failures are logged and counted but never surface to the
// caller, so the in-memory state stays authoritative for the process.
type Table[T any] struct {
	kind    Kind
	keyOf   func(T) string
	uniqOf  func(T) string
	backend Backend
	log     zerolog.Logger

	mu    sync.RWMutex
	items map[string]T
	// owners maps a unique value to the key that holds it.
	owners map[string]string

	persistLocks keylock.Map[string]
	putTimeout   time.Duration
}

func newTable[T any](kind Kind, keyOf, uniqOf func(T) string, backend Backend, log zerolog.Logger) *Table[T] {
	return &Table[T]{
		kind:    kind,
		keyOf:   keyOf,
		uniqOf:  uniqOf,
		backend: backend,
		log:     log.With().Str("table", string(kind)).Logger(),
		items:   make(map[string]T),
		owners:  make(map[string]string),

		putTimeout: DefaultPutTimeout,
	}
}

// Get returns the row stored under key.
func (t *Table[T]) Get(key string) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.items[key]
	return v, ok
}

// Len returns the number of rows.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// All returns a snapshot of every row.
func (t *Table[T]) All() []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]T, 0, len(t.items))
	for _, v := range t.items {
		out = append(out, v)
	}
	return out
}

// Find returns the first row matching pred.
func (t *Table[T]) Find(pred func(T) bool) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, v := range t.items {
		if pred(v) {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Filter returns every row matching pred, in no particular order.
func (t *Table[T]) Filter(pred func(T) bool) []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []T
	for _, v := range t.items {
		if pred(v) {
			out = append(out, v)
		}
	}
	return out
}

// Count returns the number of rows matching pred.
func (t *Table[T]) Count(pred func(T) bool) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, v := range t.items {
		if pred(v) {
			n++
		}
	}
	return n
}

// Upsert inserts or replaces the row for v's key.
func (t *Table[T]) Upsert(ctx context.Context, v T) error {
	key := t.keyOf(v)
	t.mu.Lock()
	if err := t.claimLocked(key, v); err != nil {
		t.mu.Unlock()
		return err
	}
	t.items[key] = v
	t.mu.Unlock()

	t.persist(ctx, key)
	return nil
}

// Modify applies fn to the current row for key (or the zero value when
// exists is false) and stores the result. fn runs under the table lock and
// must not call back into the table. A result that would violate the unique
// constraint is discarded and the current row is returned unchanged.
func (t *Table[T]) Modify(ctx context.Context, key string, fn func(cur T, exists bool) T) T {
	t.mu.Lock()
	cur, exists := t.items[key]
	next := fn(cur, exists)
	if err := t.claimLocked(key, next); err != nil {
		t.mu.Unlock()
		t.log.Warn().Err(err).Str("key", key).Msg("Discarded mapping update")
		return cur
	}
	t.items[key] = next
	t.mu.Unlock()

	t.persist(ctx, key)
	return next
}

func (t *Table[T]) claimLocked(key string, v T) error {
	if t.uniqOf == nil {
		return nil
	}
	uniq := t.uniqOf(v)
	if uniq == "" {
		return nil
	}
	if owner, ok := t.owners[uniq]; ok && owner != key {
		return ErrDuplicate
	}
	if prev, ok := t.items[key]; ok {
		if old := t.uniqOf(prev); old != uniq {
			delete(t.owners, old)
		}
	}
	t.owners[uniq] = key
	return nil
}

// persist writes the latest cached value for key. Writes for one key are
// serialized so a slow older write can never land after a newer one; writes
// for different keys run concurrently.
func (t *Table[T]) persist(ctx context.Context, key string) {
	unlock := t.persistLocks.Lock(key)
	defer unlock()

	t.mu.RLock()
	v, ok := t.items[key]
	t.mu.RUnlock()
	if !ok {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		t.log.Error().Err(err).Str("key", key).Msg("Failed to encode mapping")
		persistFailures.WithLabelValues(string(t.kind)).Inc()
		return
	}
	rec := Record{Kind: t.kind, Key: key, Data: data, UpdatedAt: time.Now()}
	ctx, cancel := context.WithTimeout(ctx, t.putTimeout)
	defer cancel()
	if err = t.backend.Put(ctx, rec); err != nil {
		t.log.Error().Err(err).Str("key", key).Msg("Failed to persist mapping")
		persistFailures.WithLabelValues(string(t.kind)).Inc()
	}
}

// load replaces the cached rows with the decoded records. Undecodable
// records are skipped.
func (t *Table[T]) load(records []Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range records {
		var v T
		if err := json.Unmarshal(rec.Data, &v); err != nil {
			t.log.Warn().Err(err).Str("key", rec.Key).Msg("Skipping undecodable mapping")
			continue
		}
		if err := t.claimLocked(rec.Key, v); err != nil {
			t.log.Warn().Err(err).Str("key", rec.Key).Msg("Skipping conflicting mapping")
			continue
		}
		t.items[rec.Key] = v
	}
}
