// Copyright 2024-2026 Aiku AI

package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/wa-mattermost-relay/pkg/bridge"
	"github.com/aiku/wa-mattermost-relay/pkg/mapping"
)

func newTestStore(t *testing.T) *mapping.Store {
	t.Helper()
	ctx := context.Background()
	store := mapping.New(mapping.NewMemoryBackend(), zerolog.Nop())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []mapping.ChatMapping{
		{ConversationID: "15550001111@s.whatsapp.net", ThreadID: "ch-direct", CreatedAt: base, LastActivity: base},
		{ConversationID: "120363025246125486@g.us", ThreadID: "ch-group", CreatedAt: base, LastActivity: base.Add(time.Hour)},
		{ConversationID: bridge.StatusConversation, ThreadID: "ch-status", CreatedAt: base, LastActivity: base.Add(time.Minute)},
	}
	for _, m := range rows {
		if err := store.Chats.Upsert(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	store.SeeUser(ctx, "15550001111@s.whatsapp.net", "Alice", base)
	return store
}

func TestMappings(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(New(Options{Store: newTestStore(t)}, zerolog.Nop()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/mappings")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var body mappingsResponse
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Chats != 3 || body.Users != 1 || body.Contacts != 0 {
		t.Errorf("counts = %+v", body)
	}
	if body.ByKind["direct"] != 1 || body.ByKind["group"] != 1 || body.ByKind["status"] != 1 {
		t.Errorf("by kind = %v", body.ByKind)
	}
	order := []bridge.ThreadID{"ch-group", "ch-status", "ch-direct"}
	for i, want := range order {
		if body.Mappings[i].ThreadID != want {
			t.Errorf("mapping %d = %s, want %s", i, body.Mappings[i].ThreadID, want)
		}
	}
}

func TestMappingsMethodNotAllowed(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(New(Options{Store: newTestStore(t)}, zerolog.Nop()).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/mappings", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		checks     map[string]HealthCheck
		wantCode   int
		wantStatus string
	}{
		{"no checks", nil, http.StatusOK, "ok"},
		{
			"all healthy",
			map[string]HealthCheck{"gateway": func(context.Context) error { return nil }},
			http.StatusOK, "ok",
		},
		{
			"gateway down",
			map[string]HealthCheck{
				"gateway": func(context.Context) error { return errors.New("connection closed") },
				"store":   func(context.Context) error { return nil },
			},
			http.StatusServiceUnavailable, "degraded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := New(Options{Checks: tt.checks}, zerolog.Nop()).Handler()
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			var body healthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if tt.name == "gateway down" && body.Checks["gateway"] != "connection closed" {
				t.Errorf("checks = %v", body.Checks)
			}
		})
	}
}

func TestMetrics(t *testing.T) {
	t.Parallel()
	h := New(Options{}, zerolog.Nop()).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("expected default Go collector output")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := New(Options{Addr: "127.0.0.1:0"}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMappingsWithoutStore(t *testing.T) {
	t.Parallel()
	h := New(Options{}, zerolog.Nop()).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/mappings", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d", rec.Code)
	}
}
