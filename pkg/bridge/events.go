// Copyright 2024-2026 Aiku AI

package bridge

import (
	"time"
)

// MessageKind is the content type of a relayed message.
type MessageKind string

const (
	MessageText      MessageKind = "text"
	MessageImage     MessageKind = "image"
	MessageVideo     MessageKind = "video"
	MessageVideoNote MessageKind = "video_note"
	MessageAudio     MessageKind = "audio"
	MessageVoice     MessageKind = "voice"
	MessageDocument  MessageKind = "document"
	MessageSticker   MessageKind = "sticker"
	MessageLocation  MessageKind = "location"
	MessageContact   MessageKind = "contact"
)

// IsMedia reports whether the kind carries a file payload.
func (k MessageKind) IsMedia() bool {
	switch k {
	case MessageImage, MessageVideo, MessageVideoNote, MessageAudio, MessageVoice, MessageDocument, MessageSticker:
		return true
	default:
		return false
	}
}

// SourceEvent is one event from the source network stream. The concrete
// types are *SourceMessage, *CallOffer, *ConnectionState, *ContactUpdate and
// *ConversationRenamed.
type SourceEvent interface {
	sourceEvent()
}

// MediaRef points at a downloadable media payload on the source side.
type MediaRef struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	FileName string `json:"file_name,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Animated bool   `json:"animated,omitempty"`
}

// SourceMessage is a normalized message from the source network.
type SourceMessage struct {
	Key  MessageKey
	Kind ConversationKind

	Sender   string
	PushName string
	IsSelf   bool

	MessageKind MessageKind
	// Text is the body of text messages and the caption of media messages.
	Text     string
	Media    *MediaRef
	Location *Location
	Contact  *ContactCard
	QuotedID string

	Timestamp time.Time
}

// CallOffer is an incoming call signal.
type CallOffer struct {
	CallID    string
	From      string
	IsVideo   bool
	IsGroup   bool
	Timestamp time.Time
}

// CallKey is the deduplication key of a call offer.
func (c *CallOffer) CallKey() string {
	return c.From + "|" + c.CallID
}

// ConnectionStatus is the state reported by the source transport.
type ConnectionStatus string

const (
	ConnectionConnecting ConnectionStatus = "connecting"
	ConnectionOpen       ConnectionStatus = "open"
	ConnectionClosed     ConnectionStatus = "closed"
)

// ConnectionState reports a change in the source session.
type ConnectionState struct {
	Status ConnectionStatus
	Reason string
}

// ContactUpdate carries an authoritative display name from contact sync.
type ContactUpdate struct {
	UserID      string
	DisplayName string
}

// ConversationRenamed reports a new group subject.
type ConversationRenamed struct {
	Conversation ConversationID
	Name         string
}

func (*SourceMessage) sourceEvent()       {}
func (*CallOffer) sourceEvent()           {}
func (*ConnectionState) sourceEvent()     {}
func (*ContactUpdate) sourceEvent()       {}
func (*ConversationRenamed) sourceEvent() {}

// FileRef points at a file attached to a destination message.
type FileRef struct {
	ID       string
	Name     string
	MimeType string
	Size     int64
}

// DestinationMessage is a post typed by a user inside a mirrored thread.
type DestinationMessage struct {
	ThreadID  ThreadID
	MessageID string
	// ReplyTo is the destination message the post answers, if any.
	ReplyTo   string
	SenderID  string
	Text      string
	Files     []FileRef
	Timestamp time.Time
}
