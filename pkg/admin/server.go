// Copyright 2024-2026 Aiku AI

// Package admin serves the relay's operational HTTP API.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aiku/wa-mattermost-relay/pkg/bridge"
	"github.com/aiku/wa-mattermost-relay/pkg/mapping"
)

// HealthCheck reports an error when a dependency is unavailable.
type HealthCheck func(ctx context.Context) error

// Options configures a Server.
type Options struct {
	Addr   string
	Store  *mapping.Store
	Checks map[string]HealthCheck
}

// Server is the admin HTTP API.
type Server struct {
	store  *mapping.Store
	checks map[string]HealthCheck
	server *http.Server
	log    zerolog.Logger
}

// New creates the server. Nothing listens until Run.
func New(opts Options, log zerolog.Logger) *Server {
	s := &Server{
		store:  opts.Store,
		checks: opts.Checks,
		log:    log.With().Str("component", "admin").Logger(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/mappings", s.handleMappings)
	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.server.Addr).Msg("Starting admin API")
		errCh <- s.server.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("Admin API shutdown error")
	}
	return nil
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	code := http.StatusOK
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
	}
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	s.writeJSON(w, code, resp)
}

type mappingEntry struct {
	ConversationID bridge.ConversationID `json:"conversation_id"`
	ThreadID       bridge.ThreadID       `json:"thread_id"`
	Kind           string                `json:"kind"`
	CreatedAt      time.Time             `json:"created_at"`
	LastActivity   time.Time             `json:"last_activity"`
}

type mappingsResponse struct {
	Chats    int            `json:"chats"`
	ByKind   map[string]int `json:"by_kind"`
	Users    int            `json:"users"`
	Contacts int            `json:"contacts"`
	Mappings []mappingEntry `json:"mappings"`
}

// handleMappings lists chat mappings, most recently active first.
func (s *Server) handleMappings(w http.ResponseWriter, _ *http.Request) {
	if s.store == nil {
		http.Error(w, "store not available", http.StatusServiceUnavailable)
		return
	}
	chats := s.store.Chats.All()
	resp := mappingsResponse{
		Chats:    len(chats),
		ByKind:   make(map[string]int),
		Users:    s.store.Users.Len(),
		Contacts: s.store.Contacts.Len(),
		Mappings: make([]mappingEntry, 0, len(chats)),
	}
	for _, m := range chats {
		kind := m.ConversationID.Kind().String()
		resp.ByKind[kind]++
		resp.Mappings = append(resp.Mappings, mappingEntry{
			ConversationID: m.ConversationID,
			ThreadID:       m.ThreadID,
			Kind:           kind,
			CreatedAt:      m.CreatedAt,
			LastActivity:   m.LastActivity,
		})
	}
	sort.SliceStable(resp.Mappings, func(i, j int) bool {
		return resp.Mappings[i].LastActivity.After(resp.Mappings[j].LastActivity)
	})
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("Failed to write admin response")
	}
}
