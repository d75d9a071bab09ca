// Copyright 2024-2026 Aiku AI

// Package mapping holds the relay's persistent lookup tables: conversation
// to thread, user profiles and contact names.
//
// Tables are write-through caches over a pluggable Backend. Backends
// register themselves by name from their own packages; import them for side
// effects and open one with OpenBackend.
package mapping

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/wa-mattermost-relay/pkg/bridge"
)

// Store groups the three mapping tables over one backend.
type Store struct {
	Chats    *Table[ChatMapping]
	Users    *Table[UserProfile]
	Contacts *Table[ContactName]

	backend Backend
	log     zerolog.Logger
}

// New creates an empty store. Call Initialize to load persisted rows.
func New(backend Backend, log zerolog.Logger) *Store {
	log = log.With().Str("component", "mapping").Logger()
	return &Store{
		Chats: newTable(KindChat,
			func(m ChatMapping) string { return string(m.ConversationID) },
			func(m ChatMapping) string { return string(m.ThreadID) },
			backend, log),
		Users: newTable(KindUser,
			func(p UserProfile) string { return p.UserID },
			nil, backend, log),
		Contacts: newTable(KindContact,
			func(c ContactName) string { return c.Handle },
			nil, backend, log),
		backend: backend,
		log:     log,
	}
}

// SetPutTimeout bounds every backend write. Call it before the store is used.
func (s *Store) SetPutTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.Chats.putTimeout = d
	s.Users.putTimeout = d
	s.Contacts.putTimeout = d
}

// Initialize loads every persisted row into memory.
func (s *Store) Initialize(ctx context.Context) error {
	records, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load mappings: %w", err)
	}
	byKind := make(map[Kind][]Record)
	for _, rec := range records {
		byKind[rec.Kind] = append(byKind[rec.Kind], rec)
	}
	s.Chats.load(byKind[KindChat])
	s.Users.load(byKind[KindUser])
	s.Contacts.load(byKind[KindContact])
	s.log.Info().
		Int("chats", s.Chats.Len()).
		Int("users", s.Users.Len()).
		Int("contacts", s.Contacts.Len()).
		Msg("Loaded mappings")
	return nil
}

// Close releases the backend.
func (s *Store) Close(ctx context.Context) error {
	return s.backend.Close(ctx)
}

// Chat returns the mapping for conv.
func (s *Store) Chat(conv bridge.ConversationID) (ChatMapping, bool) {
	return s.Chats.Get(string(conv))
}

// FindConversationByThread is the reverse lookup from a destination thread
// to its source conversation.
func (s *Store) FindConversationByThread(thread bridge.ThreadID) (ChatMapping, bool) {
	return s.Chats.Find(func(m ChatMapping) bool { return m.ThreadID == thread })
}

// Touch updates the last activity time of an existing chat mapping.
func (s *Store) Touch(ctx context.Context, conv bridge.ConversationID, at time.Time) {
	if _, ok := s.Chats.Get(string(conv)); !ok {
		return
	}
	s.Chats.Modify(ctx, string(conv), func(cur ChatMapping, exists bool) ChatMapping {
		if exists && at.After(cur.LastActivity) {
			cur.LastActivity = at
		}
		return cur
	})
}

// SeeUser records that userID sent a message. A push name only fills in a
// missing display name; it never overwrites one.
func (s *Store) SeeUser(ctx context.Context, userID, pushName string, at time.Time) UserProfile {
	return s.Users.Modify(ctx, userID, func(cur UserProfile, exists bool) UserProfile {
		if !exists {
			cur = UserProfile{
				UserID:    userID,
				Handle:    bridge.Handle(userID),
				FirstSeen: at,
			}
		}
		if cur.DisplayName == "" && pushName != "" {
			cur.DisplayName = pushName
		}
		cur.LastSeen = at
		cur.MessageCount++
		return cur
	})
}

// SetContactName stores the authoritative display name for a handle.
func (s *Store) SetContactName(ctx context.Context, handle, name string, at time.Time) error {
	return s.Contacts.Upsert(ctx, ContactName{Handle: handle, DisplayName: name, UpdatedAt: at})
}

// DisplayName resolves the best known label for userID: contact name, then
// profile name, then fallback, then "+handle".
func (s *Store) DisplayName(userID, fallback string) string {
	handle := bridge.Handle(userID)
	if c, ok := s.Contacts.Get(handle); ok && c.DisplayName != "" {
		return c.DisplayName
	}
	if p, ok := s.Users.Get(userID); ok && p.DisplayName != "" {
		return p.DisplayName
	}
	if fallback != "" {
		return fallback
	}
	return "+" + handle
}
