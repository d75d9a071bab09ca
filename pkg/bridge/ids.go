// Copyright 2024-2026 Aiku AI

package bridge

import (
	"strings"
)

// ConversationID identifies a conversation on the source network, e.g.
// "15551234567@s.whatsapp.net" or "120363025246125486@g.us".
type ConversationID string

// ThreadID identifies a destination thread (a Mattermost channel ID).
type ThreadID string

const (
	// StatusConversation is the singleton broadcast conversation carrying status posts.
	StatusConversation ConversationID = "status@broadcast"
	// CallConversation is the singleton pseudo-conversation that collects call events.
	CallConversation ConversationID = "call@broadcast"

	groupSuffix  = "@g.us"
	directSuffix = "@s.whatsapp.net"
)

// ConversationKind is the classification of a conversation, computed once
// when an event enters the engine.
type ConversationKind int

const (
	KindDirect ConversationKind = iota
	KindGroup
	KindStatus
	KindCall
)

func (k ConversationKind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindGroup:
		return "group"
	case KindStatus:
		return "status"
	case KindCall:
		return "call"
	default:
		return "unknown"
	}
}

// IsBroadcast reports whether the kind is one of the fixed singleton threads.
func (k ConversationKind) IsBroadcast() bool {
	return k == KindStatus || k == KindCall
}

// IsMultiParticipant reports whether messages in this kind of conversation
// need a sender label to be readable.
func (k ConversationKind) IsMultiParticipant() bool {
	return k == KindGroup || k == KindStatus
}

// ClassifyConversation derives the conversation kind from the shape of the
// identifier alone.
func ClassifyConversation(id ConversationID) ConversationKind {
	switch {
	case id == StatusConversation:
		return KindStatus
	case id == CallConversation:
		return KindCall
	case strings.HasSuffix(string(id), groupSuffix):
		return KindGroup
	default:
		return KindDirect
	}
}

// Kind is shorthand for ClassifyConversation(id).
func (id ConversationID) Kind() ConversationKind {
	return ClassifyConversation(id)
}

// LocalPart returns the identifier without its server suffix.
func (id ConversationID) LocalPart() string {
	local, _, _ := strings.Cut(string(id), "@")
	return local
}

// Handle returns the phone number or handle of a user or direct conversation
// identifier. Device suffixes ("123:4@s.whatsapp.net") are dropped.
func Handle(userID string) string {
	local, _, _ := strings.Cut(userID, "@")
	local, _, _ = strings.Cut(local, ":")
	return local
}

// DirectConversation returns the direct conversation identifier for a user.
func DirectConversation(userID string) ConversationID {
	return ConversationID(Handle(userID) + directSuffix)
}

// MessageKey addresses one message on the source network.
type MessageKey struct {
	Conversation ConversationID `json:"conversation"`
	ID           string         `json:"id"`
	FromMe       bool           `json:"from_me,omitempty"`
	// Participant is the author in group and status conversations.
	Participant string `json:"participant,omitempty"`
}
