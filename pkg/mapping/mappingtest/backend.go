// Copyright 2024-2026 Aiku AI

// Package mappingtest holds the behaviour tests every mapping backend must
// pass.
package mappingtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aiku/wa-mattermost-relay/pkg/mapping"
)

// Factory prepares empty storage for one subtest and returns a function that
// opens a backend over it. Calling the opener again must reach the same
// state.
type Factory func(t *testing.T) (open func() mapping.Backend)

// RunBackendTests exercises the Backend contract. The restart test runs only
// when durable is set.
func RunBackendTests(t *testing.T, factory Factory, durable bool) {
	t.Run("PutThenLoad", func(t *testing.T) {
		ctx := context.Background()
		b := factory(t)()
		now := time.Now().UTC().Truncate(time.Millisecond)

		require.NoError(t, b.Put(ctx, mapping.Record{Kind: mapping.KindChat, Key: "a@s.whatsapp.net", Data: []byte(`{"thread_id":"t1"}`), UpdatedAt: now}))
		require.NoError(t, b.Put(ctx, mapping.Record{Kind: mapping.KindUser, Key: "a@s.whatsapp.net", Data: []byte(`{"handle":"a"}`), UpdatedAt: now}))

		recs, err := b.Load(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		byKind := map[mapping.Kind]mapping.Record{}
		for _, r := range recs {
			byKind[r.Kind] = r
		}
		require.JSONEq(t, `{"thread_id":"t1"}`, string(byKind[mapping.KindChat].Data))
		require.JSONEq(t, `{"handle":"a"}`, string(byKind[mapping.KindUser].Data))
	})

	t.Run("PutIsUpsert", func(t *testing.T) {
		ctx := context.Background()
		b := factory(t)()
		rec := mapping.Record{Kind: mapping.KindContact, Key: "15551234567", Data: []byte(`{"display_name":"Old"}`), UpdatedAt: time.Now()}
		require.NoError(t, b.Put(ctx, rec))
		require.NoError(t, b.Put(ctx, rec))
		rec.Data = []byte(`{"display_name":"New"}`)
		require.NoError(t, b.Put(ctx, rec))

		recs, err := b.Load(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		require.JSONEq(t, `{"display_name":"New"}`, string(recs[0].Data))
	})

	if !durable {
		return
	}
	t.Run("SurvivesReopen", func(t *testing.T) {
		ctx := context.Background()
		open := factory(t)
		b := open()
		require.NoError(t, b.Put(ctx, mapping.Record{Kind: mapping.KindChat, Key: "g@g.us", Data: []byte(`{"thread_id":"t9"}`), UpdatedAt: time.Now()}))
		require.NoError(t, b.Close(ctx))

		b2 := open()
		recs, err := b2.Load(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		require.Equal(t, "g@g.us", recs[0].Key)
	})
}
