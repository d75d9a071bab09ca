// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/wa-mattermost-relay/pkg/bridge"
)

func lastReaction(t *testing.T, h *harness, postID string) string {
	t.Helper()
	var emoji string
	for _, r := range h.dest.Reactions() {
		if r.MessageID == postID {
			emoji = r.Emoji
		}
	}
	return emoji
}

func TestOutboundText(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.inbound(textMessage(aliceChat, "A1", alice, "Alice", "hi"))
	thread := h.thread(t, aliceChat)

	h.outbound(&bridge.DestinationMessage{ThreadID: thread, MessageID: "mm1", Text: "**sure** ~~maybe~~"})

	sent := h.src.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(sent))
	}
	if sent[0].Conversation != aliceChat || sent[0].Content.Text != "*sure* ~maybe~" {
		t.Errorf("sent = %+v", sent[0])
	}
	if got := lastReaction(t, h, "mm1"); got != reactionSuccess {
		t.Errorf("reaction = %q", got)
	}
	waitFor(t, "composing presence", func() bool {
		for _, p := range h.src.Presence() {
			if p.State == bridge.PresenceComposing && p.Conversation == aliceChat {
				return true
			}
		}
		return false
	})
}

func TestOutboundFailureReaction(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.inbound(textMessage(aliceChat, "A1", alice, "Alice", "hi"))
	h.src.SendErr = errors.New("gateway offline")

	h.outbound(&bridge.DestinationMessage{ThreadID: h.thread(t, aliceChat), MessageID: "mm1", Text: "hello"})
	if got := lastReaction(t, h, "mm1"); got != reactionFailure {
		t.Errorf("reaction = %q", got)
	}
}

func TestOutboundReactionsDisabled(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(o *Options) { o.Features.Reactions = false })
	h.inbound(textMessage(aliceChat, "A1", alice, "Alice", "hi"))
	h.outbound(&bridge.DestinationMessage{ThreadID: h.thread(t, aliceChat), MessageID: "mm1", Text: "hello"})
	if len(h.src.Sent()) != 1 {
		t.Fatal("message should still be sent")
	}
	if len(h.dest.Reactions()) != 0 {
		t.Error("no reactions expected")
	}
}

func TestOutboundUnmappedThreadIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.outbound(&bridge.DestinationMessage{ThreadID: "town-square", MessageID: "mm1", Text: "hello"})
	if len(h.src.Sent()) != 0 || len(h.dest.Reactions()) != 0 {
		t.Error("posts in unmapped channels must be ignored")
	}
}

func TestOutboundEmptyPostRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.inbound(textMessage(aliceChat, "A1", alice, "Alice", "hi"))
	h.outbound(&bridge.DestinationMessage{ThreadID: h.thread(t, aliceChat), MessageID: "mm1", Text: "   "})
	if len(h.src.Sent()) != 0 {
		t.Error("empty post should not be sent")
	}
	if got := lastReaction(t, h, "mm1"); got != reactionFailure {
		t.Errorf("reaction = %q", got)
	}
}

func TestOutboundFiles(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.inbound(textMessage(hikers, "A1", alice, "Alice", "photos?"))
	h.dest.AddFile("f1", []byte("png-bytes"))
	h.dest.AddFile("f2", []byte("%PDF"))

	h.outbound(&bridge.DestinationMessage{
		ThreadID:  h.thread(t, hikers),
		MessageID: "mm1",
		Text:      "here",
		Files: []bridge.FileRef{
			{ID: "f1", Name: "summit.png", MimeType: "image/png"},
			{ID: "f2", Name: "route.pdf", MimeType: "application/pdf"},
		},
	})

	sent := h.src.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(sent))
	}
	first, second := sent[0].Content.Media, sent[1].Content.Media
	if first == nil || second == nil {
		t.Fatal("expected media sends")
	}
	if first.Kind != bridge.MessageImage || string(first.Data) != "png-bytes" || first.Caption != "here" {
		t.Errorf("first = %+v", first)
	}
	if second.Kind != bridge.MessageDocument || second.FileName != "route.pdf" || second.Caption != "" {
		t.Errorf("second = %+v", second)
	}
	if got := lastReaction(t, h, "mm1"); got != reactionSuccess {
		t.Errorf("reaction = %q", got)
	}
}

func TestOutboundMissingFile(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.inbound(textMessage(aliceChat, "A1", alice, "Alice", "hi"))
	h.outbound(&bridge.DestinationMessage{
		ThreadID:  h.thread(t, aliceChat),
		MessageID: "mm1",
		Files:     []bridge.FileRef{{ID: "gone", Name: "a.jpg", MimeType: "image/jpeg"}},
	})
	if len(h.src.Sent()) != 0 {
		t.Error("nothing should be sent")
	}
	if got := lastReaction(t, h, "mm1"); got != reactionFailure {
		t.Errorf("reaction = %q", got)
	}
}

func TestStatusReplyRouting(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	status := textMessage(bridge.StatusConversation, "S1", alice, "Alice", "at the summit")
	h.inbound(status)
	statusPost := h.lastPost(t, bridge.StatusConversation)
	thread := h.thread(t, bridge.StatusConversation)

	h.outbound(&bridge.DestinationMessage{ThreadID: thread, MessageID: "mm1", ReplyTo: statusPost.ID, Text: "wow"})

	sent := h.src.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sent))
	}
	if sent[0].Conversation != bridge.DirectConversation(alice) {
		t.Errorf("reply went to %s", sent[0].Conversation)
	}
	quoted := sent[0].Content.Quoted
	if quoted == nil || quoted.ID != "S1" || quoted.Participant != alice || quoted.Conversation != bridge.StatusConversation {
		t.Errorf("quoted = %+v", quoted)
	}
	if got := lastReaction(t, h, "mm1"); got != reactionSuccess {
		t.Errorf("reaction = %q", got)
	}
}

func TestStatusThreadRejectsOtherPosts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.inbound(textMessage(bridge.StatusConversation, "S1", alice, "Alice", "at the summit"))
	thread := h.thread(t, bridge.StatusConversation)

	h.outbound(
		&bridge.DestinationMessage{ThreadID: thread, MessageID: "mm1", Text: "not a reply"},
		&bridge.DestinationMessage{ThreadID: thread, MessageID: "mm2", ReplyTo: "post-unknown", Text: "stale"},
	)
	if len(h.src.Sent()) != 0 {
		t.Error("nothing should be sent from the status thread")
	}
	for _, id := range []string{"mm1", "mm2"} {
		if got := lastReaction(t, h, id); got != reactionFailure {
			t.Errorf("%s reaction = %q", id, got)
		}
	}
}

func TestCallThreadRejectsPosts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.inbound(&bridge.CallOffer{CallID: "c1", From: alice})
	h.outbound(&bridge.DestinationMessage{ThreadID: h.thread(t, bridge.CallConversation), MessageID: "mm1", Text: "call me"})
	if len(h.src.Sent()) != 0 {
		t.Error("call thread is read-only")
	}
	if got := lastReaction(t, h, "mm1"); got != reactionFailure {
		t.Errorf("reaction = %q", got)
	}
}

func TestLanesOrderAndPanicRecovery(t *testing.T) {
	t.Parallel()
	l := newLanes(zerolog.Nop())

	var order []int
	var other atomic.Int32
	for i := range 20 {
		l.submit("a", func() {
			if i == 5 {
				panic("boom")
			}
			order = append(order, i)
		})
		l.submit("b", func() { other.Add(1) })
	}
	l.wait()

	if len(order) != 19 {
		t.Fatalf("expected 19 tasks after the panic, got %d", len(order))
	}
	for i := 1; i < len(order); i++ {
		if order[i] <= order[i-1] {
			t.Fatalf("lane order broken: %v", order)
		}
	}
	if other.Load() != 20 {
		t.Errorf("other lane ran %d tasks", other.Load())
	}
	if l.active() != 0 {
		t.Errorf("expected idle lanes, got %d", l.active())
	}
}

func TestLanesParallelAcrossKeys(t *testing.T) {
	t.Parallel()
	l := newLanes(zerolog.Nop())
	release := make(chan struct{})
	done := make(chan struct{})

	l.submit("slow", func() { <-release })
	l.submit("fast", func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("a blocked lane should not hold up other lanes")
	}
	close(release)
	l.wait()
}

func TestStatusReplyToEarlyStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	first := textMessage(bridge.StatusConversation, "S0", alice, "Alice", "first light")
	h.inbound(first)
	firstPost := h.lastPost(t, bridge.StatusConversation)

	for i := 1; i <= 1100; i++ {
		h.engine.HandleSourceEvent(context.Background(),
			textMessage(bridge.StatusConversation, fmt.Sprintf("S%d", i), bob, "Bob", fmt.Sprintf("update %d", i)))
	}
	h.engine.Wait()

	thread := h.thread(t, bridge.StatusConversation)
	h.outbound(&bridge.DestinationMessage{ThreadID: thread, MessageID: "mm1", ReplyTo: firstPost.ID, Text: "beautiful"})

	sent := h.src.Sent()
	if len(sent) != 1 || sent[0].Conversation != bridge.DirectConversation(alice) {
		t.Fatalf("sent = %+v", sent)
	}
	if q := sent[0].Content.Quoted; q == nil || q.ID != "S0" {
		t.Errorf("quoted = %+v", q)
	}
	if got := lastReaction(t, h, "mm1"); got != reactionSuccess {
		t.Errorf("reaction = %q", got)
	}
}
