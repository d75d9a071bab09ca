// Copyright 2024-2026 Aiku AI

package mapping

import (
	"time"

	"github.com/aiku/wa-mattermost-relay/pkg/bridge"
)

// Kind names one of the persisted tables.
type Kind string

const (
	KindChat    Kind = "chat"
	KindUser    Kind = "user"
	KindContact Kind = "contact"
)

// Kinds lists every table kind.
func Kinds() []Kind {
	return []Kind{KindChat, KindUser, KindContact}
}

// ChatMapping links a source conversation to its destination thread.
type ChatMapping struct {
	ConversationID bridge.ConversationID `json:"conversation_id"`
	ThreadID       bridge.ThreadID       `json:"thread_id"`
	CreatedAt      time.Time             `json:"created_at"`
	LastActivity   time.Time             `json:"last_activity"`
}

// UserProfile is what the relay has learned about a source user.
type UserProfile struct {
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name,omitempty"`
	Handle       string    `json:"handle"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	MessageCount int       `json:"message_count"`
}

// ContactName is an authoritative display name keyed by handle.
type ContactName struct {
	Handle      string    `json:"handle"`
	DisplayName string    `json:"display_name"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Record is the backend representation of one table row. Data holds the
// JSON encoding of the row.
type Record struct {
	Kind      Kind
	Key       string
	Data      []byte
	UpdatedAt time.Time
}
