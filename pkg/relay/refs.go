// Copyright 2024-2026 Aiku AI

package relay

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// maxRefs bounds each reference cache. Every entry costs 1, so this is the
// number of references kept before the least valuable are evicted.
const maxRefs = 200_000

// refCache remembers small values keyed by message IDs, such as the source
// message a relayed status post renders. Entries expire after ttl and are
// lost on restart.
type refCache[V any] struct {
	cache *ristretto.Cache[string, V]
	ttl   time.Duration
}

func newRefCache[V any](name string, ttl time.Duration, maxEntries int64) (*refCache[V], error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s cache: %w", name, err)
	}
	return &refCache[V]{cache: cache, ttl: ttl}, nil
}

func (r *refCache[V]) put(id string, v V) bool {
	ok := r.cache.SetWithTTL(id, v, 1, r.ttl)
	r.cache.Wait()
	return ok
}

func (r *refCache[V]) get(id string) (V, bool) {
	if id == "" {
		var zero V
		return zero, false
	}
	return r.cache.Get(id)
}

func (r *refCache[V]) close() {
	r.cache.Close()
}
