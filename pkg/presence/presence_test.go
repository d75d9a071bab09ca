// Copyright 2024-2026 Aiku AI

package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/wa-mattermost-relay/pkg/bridge"
)

type presenceCall struct {
	State bridge.PresenceState
	Conv  bridge.ConversationID
}

// mockSignaler records presence and read-receipt calls.
type mockSignaler struct {
	mu        sync.Mutex
	presences []presenceCall
	reads     [][]bridge.MessageKey
	failReads bool
	// release, when set, holds every SetPresence call until it is closed.
	release chan struct{}
}

func (m *mockSignaler) SetPresence(ctx context.Context, state bridge.PresenceState, conv bridge.ConversationID) error {
	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presences = append(m.presences, presenceCall{State: state, Conv: conv})
	return nil
}

func (m *mockSignaler) MarkRead(_ context.Context, keys []bridge.MessageKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads {
		return errors.New("fake error")
	}
	cp := make([]bridge.MessageKey, len(keys))
	copy(cp, keys)
	m.reads = append(m.reads, cp)
	return nil
}

func (m *mockSignaler) Reads() [][]bridge.MessageKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]bridge.MessageKey(nil), m.reads...)
}

func (m *mockSignaler) Count(state bridge.PresenceState) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.presences {
		if p.State == state {
			n++
		}
	}
	return n
}

const conv = bridge.ConversationID("15551234567@s.whatsapp.net")

func newTestCoordinator(sig *mockSignaler, cfg Config) *Coordinator {
	return New(sig, cfg, zerolog.Nop())
}

func key(id string) bridge.MessageKey {
	return bridge.MessageKey{Conversation: conv, ID: id}
}

func TestQueueRead_BatchesWithinWindow(t *testing.T) {
	t.Parallel()
	sig := &mockSignaler{}
	c := newTestCoordinator(sig, Config{ReadDebounce: 50 * time.Millisecond})

	for _, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		c.QueueRead(context.Background(), key(id))
	}
	if got := c.PendingReads(conv); got != 5 {
		t.Fatalf("PendingReads = %d, want 5", got)
	}

	time.Sleep(200 * time.Millisecond)
	reads := sig.Reads()
	if len(reads) != 1 {
		t.Fatalf("MarkRead called %d times, want 1", len(reads))
	}
	if len(reads[0]) != 5 {
		t.Errorf("batch has %d keys, want 5", len(reads[0]))
	}
	if reads[0][0].ID != "m1" || reads[0][4].ID != "m5" {
		t.Errorf("batch order = %v", reads[0])
	}
	if c.PendingReads(conv) != 0 {
		t.Error("batch should be cleared after flush")
	}
}

func TestQueueRead_SpacedMessagesFlushSeparately(t *testing.T) {
	t.Parallel()
	sig := &mockSignaler{}
	c := newTestCoordinator(sig, Config{ReadDebounce: 20 * time.Millisecond})

	for _, id := range []string{"m1", "m2", "m3"} {
		c.QueueRead(context.Background(), key(id))
		time.Sleep(100 * time.Millisecond)
	}

	reads := sig.Reads()
	if len(reads) != 3 {
		t.Fatalf("MarkRead called %d times, want 3", len(reads))
	}
	for i, batch := range reads {
		if len(batch) != 1 {
			t.Errorf("batch %d has %d keys, want 1", i, len(batch))
		}
	}
}

func TestQueueRead_ConversationsAreIndependent(t *testing.T) {
	t.Parallel()
	sig := &mockSignaler{}
	c := newTestCoordinator(sig, Config{ReadDebounce: 30 * time.Millisecond})

	other := bridge.ConversationID("120363@g.us")
	c.QueueRead(context.Background(), key("m1"))
	c.QueueRead(context.Background(), bridge.MessageKey{Conversation: other, ID: "g1"})
	c.QueueRead(context.Background(), key("m2"))

	time.Sleep(150 * time.Millisecond)
	if got := len(sig.Reads()); got != 2 {
		t.Errorf("MarkRead called %d times, want 2", got)
	}
}

func TestQueueRead_FailureIsContained(t *testing.T) {
	t.Parallel()
	sig := &mockSignaler{failReads: true}
	c := newTestCoordinator(sig, Config{ReadDebounce: 10 * time.Millisecond})

	c.QueueRead(context.Background(), key("m1"))
	time.Sleep(60 * time.Millisecond)
	if c.PendingReads(conv) != 0 {
		t.Error("failed batch should still be cleared")
	}
}

func TestComposing_RateLimited(t *testing.T) {
	t.Parallel()
	sig := &mockSignaler{}
	c := newTestCoordinator(sig, Config{ComposingInterval: time.Second, PausedAfter: 40 * time.Millisecond})

	for range 5 {
		c.Composing(context.Background(), conv)
	}
	c.inflight.Wait()
	if got := sig.Count(bridge.PresenceComposing); got != 1 {
		t.Errorf("composing sent %d times, want 1", got)
	}

	time.Sleep(150 * time.Millisecond)
	if got := sig.Count(bridge.PresencePaused); got != 1 {
		t.Errorf("paused sent %d times, want 1", got)
	}
}

func TestComposing_NewerTimerSupersedesOlder(t *testing.T) {
	t.Parallel()
	sig := &mockSignaler{}
	c := newTestCoordinator(sig, Config{ComposingInterval: time.Second, PausedAfter: 80 * time.Millisecond})

	c.Composing(context.Background(), conv)
	time.Sleep(50 * time.Millisecond)
	c.Composing(context.Background(), conv)
	time.Sleep(50 * time.Millisecond)

	// The first timer would have fired by now.
	if got := sig.Count(bridge.PresencePaused); got != 0 {
		t.Fatalf("paused sent %d times before the newer timer expired", got)
	}
	time.Sleep(100 * time.Millisecond)
	if got := sig.Count(bridge.PresencePaused); got != 1 {
		t.Errorf("paused sent %d times, want 1", got)
	}
}

func TestComposing_AllowedAgainAfterPause(t *testing.T) {
	t.Parallel()
	sig := &mockSignaler{}
	c := newTestCoordinator(sig, Config{ComposingInterval: time.Second, PausedAfter: 20 * time.Millisecond})

	c.Composing(context.Background(), conv)
	time.Sleep(80 * time.Millisecond)
	c.Composing(context.Background(), conv)
	c.inflight.Wait()
	if got := sig.Count(bridge.PresenceComposing); got != 2 {
		t.Errorf("composing sent %d times, want 2", got)
	}
}

func TestClose_FlushesPendingReads(t *testing.T) {
	t.Parallel()
	sig := &mockSignaler{}
	c := newTestCoordinator(sig, Config{ReadDebounce: time.Hour})

	c.QueueRead(context.Background(), key("m1"))
	c.QueueRead(context.Background(), key("m2"))
	c.Close(context.Background())

	reads := sig.Reads()
	if len(reads) != 1 || len(reads[0]) != 2 {
		t.Errorf("Close flushed %v, want one batch of 2", reads)
	}
}

func TestComposing_DoesNotWaitForSignal(t *testing.T) {
	t.Parallel()
	sig := &mockSignaler{release: make(chan struct{})}
	c := newTestCoordinator(sig, Config{PausedAfter: time.Hour, SignalTimeout: time.Minute})

	start := time.Now()
	c.Composing(context.Background(), conv)
	if took := time.Since(start); took > 100*time.Millisecond {
		t.Errorf("Composing blocked for %s on a stalled signal", took)
	}
	if got := sig.Count(bridge.PresenceComposing); got != 0 {
		t.Fatalf("composing recorded before release: %d", got)
	}

	close(sig.release)
	c.inflight.Wait()
	if got := sig.Count(bridge.PresenceComposing); got != 1 {
		t.Errorf("composing sent %d times, want 1", got)
	}
	c.Close(context.Background())
}
