// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"context"
	"testing"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
)

func TestHandlePosted(t *testing.T) {
	t.Parallel()
	f := newFakeMM()
	defer f.Close()
	f.Files["f1"] = &model.FileInfo{Id: "f1", Name: "doc.pdf", MimeType: "application/pdf", Size: 42}
	c := newTestClient(f.Server.URL)
	sink := &recordingSink{}

	c.handleEvent(context.Background(), sink, postedEvent(&model.Post{
		Id:        "post1",
		ChannelId: "ch1",
		UserId:    "u1",
		RootId:    "root1",
		Message:   "hi *there*",
		CreateAt:  1700000000000,
		FileIds:   []string{"f1", "gone"},
	}, "@alice"))

	msgs := sink.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	msg := msgs[0]
	if msg.ThreadID != "ch1" || msg.MessageID != "post1" || msg.ReplyTo != "root1" || msg.SenderID != "u1" {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.Text != "hi *there*" {
		t.Errorf("text = %q", msg.Text)
	}
	if !msg.Timestamp.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("timestamp = %v", msg.Timestamp)
	}
	if len(msg.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(msg.Files))
	}
	if msg.Files[0].Name != "doc.pdf" || msg.Files[0].MimeType != "application/pdf" || msg.Files[0].Size != 42 {
		t.Errorf("file 0 = %+v", msg.Files[0])
	}
	if msg.Files[1].ID != "gone" || msg.Files[1].Name != "" {
		t.Errorf("file 1 should keep only its ID, got %+v", msg.Files[1])
	}
}

func TestHandlePostedEchoPrevention(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		post   *model.Post
		sender string
	}{
		{"own post", &model.Post{Id: "p", ChannelId: "ch", UserId: "my-user-id"}, "relay"},
		{"system post", &model.Post{Id: "p", ChannelId: "ch", UserId: "u1", Type: model.PostTypeJoinChannel}, "alice"},
		{"relay username", &model.Post{Id: "p", ChannelId: "ch", UserId: "u2"}, "wa-relay"},
		{"puppet username", &model.Post{Id: "p", ChannelId: "ch", UserId: "u3"}, "whatsapp_15551234567"},
		{"bot prefix", &model.Post{Id: "p", ChannelId: "ch", UserId: "u4"}, "@relaybot_x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient("http://127.0.0.1:1")
			sink := &recordingSink{}
			c.handleEvent(context.Background(), sink, postedEvent(tt.post, tt.sender))
			if got := len(sink.Messages()); got != 0 {
				t.Errorf("expected post to be skipped, got %d messages", got)
			}
		})
	}
}

func TestHandleEventIgnoresOtherTypes(t *testing.T) {
	t.Parallel()
	c := newTestClient("http://127.0.0.1:1")
	sink := &recordingSink{}
	c.handleEvent(context.Background(), sink, newWebSocketEvent(model.WebsocketEventTyping, "ch1", map[string]any{"user_id": "u1"}))
	c.handleEvent(context.Background(), sink, newWebSocketEvent(model.WebsocketEventPosted, "ch1", map[string]any{}))
	if got := len(sink.Messages()); got != 0 {
		t.Errorf("expected no messages, got %d", got)
	}
}

func TestIsBridgeUsername(t *testing.T) {
	t.Parallel()
	tests := []struct {
		username string
		prefix   string
		want     bool
	}{
		{"wa-relay", "", true},
		{"whatsapp_123", "", true},
		{"bot_x", "bot_", true},
		{"alice", "bot_", false},
		{"alice", "", false},
	}
	for _, tt := range tests {
		if got := isBridgeUsername(tt.username, tt.prefix); got != tt.want {
			t.Errorf("isBridgeUsername(%q, %q) = %v, want %v", tt.username, tt.prefix, got, tt.want)
		}
	}
}
