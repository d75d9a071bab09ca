// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package mattermost

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/wa-mattermost-relay/pkg/bridge"
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// fakeMM is a test helper that wraps an httptest.Server simulating the
// Mattermost API. It records calls and provides canned responses.
type fakeMM struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall
	posts []*model.Post

	// Users maps user ID to model.User for GetMe responses.
	Users map[string]*model.User
	// TokenToUser maps bearer tokens to user IDs for GetMe auth.
	TokenToUser map[string]string
	// ChannelsByName maps "teamID:name" to an existing channel.
	ChannelsByName map[string]*model.Channel
	// Files maps file ID to model.FileInfo.
	Files map[string]*model.FileInfo
	// FileData maps file ID to its content.
	FileData map[string][]byte
	// FailEndpoints causes specific path prefixes to return 500.
	FailEndpoints map[string]bool
}

func newFakeMM() *fakeMM {
	f := &fakeMM{
		Users:          make(map[string]*model.User),
		TokenToUser:    make(map[string]string),
		ChannelsByName: make(map[string]*model.Channel),
		Files:          make(map[string]*model.FileInfo),
		FileData:       make(map[string][]byte),
		FailEndpoints:  make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeMM) Close() {
	f.Server.Close()
}

func (f *fakeMM) record(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Path: path, Body: body})
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeMM) CalledPath(path string) bool {
	for _, c := range f.Calls() {
		if strings.Contains(c.Path, path) {
			return true
		}
	}
	return false
}

// Posts returns every post created through the API.
func (f *fakeMM) Posts() []*model.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.Post(nil), f.posts...)
}

func (f *fakeMM) resolveToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	for tok, uid := range f.TokenToUser {
		if auth == "BEARER "+tok || auth == "Bearer "+tok {
			return uid
		}
	}
	return ""
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r.Method, r.URL.Path, string(body))

	// Check if this endpoint should fail.
	for prefix := range f.FailEndpoints {
		if strings.Contains(r.URL.Path, prefix) {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "fake error"})
			return
		}
	}

	path := r.URL.Path

	switch {
	// GET /api/v4/users/me
	case r.Method == "GET" && path == "/api/v4/users/me":
		uid := f.resolveToken(r)
		if uid == "" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "unauthorized"})
			return
		}
		if u, ok := f.Users[uid]; ok {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	// POST /api/v4/channels
	case r.Method == "POST" && path == "/api/v4/channels":
		var ch model.Channel
		_ = json.Unmarshal(body, &ch)
		if _, exists := f.ChannelsByName[ch.TeamId+":"+ch.Name]; exists {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":          "store.sql_channel.save_channel.exists.app_error",
				"message":     "A channel with that name already exists on the same team.",
				"status_code": http.StatusBadRequest,
			})
			return
		}
		ch.Id = "created-channel-id"
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(&ch)

	// GET /api/v4/teams/{team_id}/channels/name/{channel_name}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/teams/") && strings.Contains(path, "/channels/name/"):
		parts := strings.Split(path, "/")
		// /api/v4/teams/{tid}/channels/name/{name}
		if len(parts) >= 8 {
			if ch, ok := f.ChannelsByName[parts[4]+":"+parts[7]]; ok {
				_ = json.NewEncoder(w).Encode(ch)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not found"})

	// PUT /api/v4/channels/{channel_id}/patch
	case r.Method == "PUT" && strings.HasPrefix(path, "/api/v4/channels/") && strings.HasSuffix(path, "/patch"):
		var patch model.ChannelPatch
		_ = json.Unmarshal(body, &patch)
		ch := &model.Channel{Id: strings.Split(path, "/")[4]}
		if patch.DisplayName != nil {
			ch.DisplayName = *patch.DisplayName
		}
		_ = json.NewEncoder(w).Encode(ch)

	// POST /api/v4/posts
	case r.Method == "POST" && path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		post.Id = "created-post-id"
		f.mu.Lock()
		f.posts = append(f.posts, &post)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(&post)

	// POST /api/v4/reactions
	case r.Method == "POST" && path == "/api/v4/reactions":
		var reaction model.Reaction
		_ = json.Unmarshal(body, &reaction)
		_ = json.NewEncoder(w).Encode(&reaction)

	// GET /api/v4/files/{file_id}/info
	case r.Method == "GET" && strings.HasSuffix(path, "/info") && strings.Contains(path, "/files/"):
		parts := strings.Split(path, "/")
		if len(parts) >= 5 {
			fileID := parts[4]
			if fi, ok := f.Files[fileID]; ok {
				_ = json.NewEncoder(w).Encode(fi)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)

	// GET /api/v4/files/{file_id}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/files/"):
		fileID := path[len("/api/v4/files/"):]
		if data, ok := f.FileData[fileID]; ok {
			_, _ = w.Write(data)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not found"})

	// POST /api/v4/files (upload)
	case r.Method == "POST" && path == "/api/v4/files":
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(&model.FileUploadResponse{
			FileInfos: []*model.FileInfo{{Id: "uploaded-file-id", Name: "upload"}},
		})

	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not found: " + path})
	}
}

// newWebSocketEvent creates a model.WebSocketEvent for testing handlers.
func newWebSocketEvent(eventType model.WebsocketEventType, channelID string, data map[string]any) *model.WebSocketEvent {
	evt := model.NewWebSocketEvent(eventType, "", channelID, "", nil, "")
	return evt.SetData(data)
}

// postedEvent builds a posted event carrying post.
func postedEvent(post *model.Post, senderName string) *model.WebSocketEvent {
	postJSON, _ := json.Marshal(post)
	return newWebSocketEvent(model.WebsocketEventPosted, post.ChannelId, map[string]any{
		"post":        string(postJSON),
		"sender_name": senderName,
	})
}

// newTestClient creates a Client connected to a fake server. The client is
// considered logged in as my-user-id.
func newTestClient(serverURL string) *Client {
	c := New(Config{
		ServerURL: serverURL,
		Token:     "test-token",
		TeamID:    "my-team-id",
		BotPrefix: "relaybot_",
	}, zerolog.Nop())
	c.userID = "my-user-id"
	return c
}

// recordingSink captures destination messages for assertions.
type recordingSink struct {
	mu   sync.Mutex
	msgs []*bridge.DestinationMessage
}

func (s *recordingSink) HandleDestinationEvent(_ context.Context, msg *bridge.DestinationMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func (s *recordingSink) Messages() []*bridge.DestinationMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*bridge.DestinationMessage(nil), s.msgs...)
}

// fakeStream is an eventStream fed by the test.
type fakeStream struct {
	ch     chan *model.WebSocketEvent
	closed chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		ch:     make(chan *model.WebSocketEvent, 8),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Events() <-chan *model.WebSocketEvent {
	return s.ch
}

func (s *fakeStream) Close() {
	s.once.Do(func() { close(s.closed) })
}
