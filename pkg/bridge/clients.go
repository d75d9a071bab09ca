// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"io"
	"time"
)

// SourceEventSink receives the normalized source stream. Implementations
// must not block for long; the relay engine only enqueues.
type SourceEventSink interface {
	HandleSourceEvent(ctx context.Context, evt SourceEvent)
}

// DestinationEventSink receives posts typed in mirrored threads.
type DestinationEventSink interface {
	HandleDestinationEvent(ctx context.Context, msg *DestinationMessage)
}

// PresenceState is a chat-state signal sent to the source network.
type PresenceState string

const (
	PresenceComposing PresenceState = "composing"
	PresencePaused    PresenceState = "paused"
	PresenceAvailable PresenceState = "available"
)

// OutgoingMedia is a file sent to the source network.
type OutgoingMedia struct {
	Kind     MessageKind
	FileName string
	MimeType string
	Caption  string
	Data     []byte
}

// OutgoingContent is one message sent to the source network.
type OutgoingContent struct {
	Text     string
	Media    *OutgoingMedia
	Location *Location
	// Quoted makes the message a reply to an existing source message.
	Quoted *MessageKey
}

// ConversationInfo is metadata about a source conversation.
type ConversationInfo struct {
	Name             string
	ParticipantCount int
	CreatedAt        time.Time
}

// SourceClient is the boundary to the source network transport.
type SourceClient interface {
	// Run delivers events to sink until ctx is done or the transport fails.
	Run(ctx context.Context, sink SourceEventSink) error
	Send(ctx context.Context, conv ConversationID, content OutgoingContent) (MessageKey, error)
	MarkRead(ctx context.Context, keys []MessageKey) error
	SetPresence(ctx context.Context, state PresenceState, conv ConversationID) error
	GetConversationInfo(ctx context.Context, conv ConversationID) (*ConversationInfo, error)
	GetProfilePictureURL(ctx context.Context, conv ConversationID) (string, error)
}

// ThreadSpec describes a thread to create.
type ThreadSpec struct {
	Conversation ConversationID
	Kind         ConversationKind
	DisplayName  string
	Purpose      string

	// Name is the URL-safe channel slug.
	Name string
}

// Upload is a file ready to be posted to a destination thread.
type Upload struct {
	Kind     MessageKind
	Path     string
	FileName string
	MimeType string
	Caption  string
}

// Location is a shared map location.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// ContactCard is a shared contact.
type ContactCard struct {
	DisplayName string `json:"display_name"`
	VCard       string `json:"vcard"`
}

// DestinationClient is the boundary to the destination network transport.
// Every send returns the destination message ID.
type DestinationClient interface {
	Run(ctx context.Context, sink DestinationEventSink) error
	CreateThread(ctx context.Context, spec ThreadSpec) (ThreadID, error)
	RenameThread(ctx context.Context, thread ThreadID, name string) error
	SendText(ctx context.Context, thread ThreadID, text string) (string, error)
	// SendReply posts text into the discussion started by rootID.
	SendReply(ctx context.Context, thread ThreadID, rootID, text string) (string, error)
	SendFile(ctx context.Context, thread ThreadID, upload Upload) (string, error)
	SendLocation(ctx context.Context, thread ThreadID, loc Location, caption string) (string, error)
	SendContact(ctx context.Context, thread ThreadID, card ContactCard, caption string) (string, error)
	SetReaction(ctx context.Context, messageID, emoji string) error
	OpenFile(ctx context.Context, fileID string) (io.ReadCloser, error)
}
