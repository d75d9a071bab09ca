// Copyright 2024-2026 Aiku AI

package relay

import (
	"fmt"
	"testing"
	"time"

	"github.com/aiku/wa-mattermost-relay/pkg/bridge"
)

func TestRefCacheKeepsEveryRefUntilExpiry(t *testing.T) {
	t.Parallel()
	refs, err := newRefCache[bridge.MessageKey]("status reply", 7*24*time.Hour, maxRefs)
	if err != nil {
		t.Fatal(err)
	}
	defer refs.close()

	const n = 1500
	for i := range n {
		key := bridge.MessageKey{Conversation: bridge.StatusConversation, ID: fmt.Sprintf("S%d", i), Participant: alice}
		if !refs.put(fmt.Sprintf("post-%d", i), key) {
			t.Fatalf("put %d rejected", i)
		}
	}
	for i := range n {
		got, ok := refs.get(fmt.Sprintf("post-%d", i))
		if !ok {
			t.Fatalf("ref %d of %d evicted", i, n)
		}
		if got.ID != fmt.Sprintf("S%d", i) {
			t.Fatalf("ref %d = %+v", i, got)
		}
	}
}

func TestRefCacheExpires(t *testing.T) {
	t.Parallel()
	refs, err := newRefCache[string]("reply root", 50*time.Millisecond, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer refs.close()

	refs.put("a", "root-a")
	if got, ok := refs.get("a"); !ok || got != "root-a" {
		t.Fatalf("get = %q, %v", got, ok)
	}
	waitFor(t, "ref expiry", func() bool {
		_, ok := refs.get("a")
		return !ok
	})
	if _, ok := refs.get(""); ok {
		t.Error("empty id should never match")
	}
}
