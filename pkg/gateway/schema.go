// Copyright 2024-2026 Aiku AI

package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aiku/wa-mattermost-relay/pkg/bridge"
)

// Wire types shared with the WhatsApp gateway. Events flow gateway → relay
// on the events exchange; commands and queries flow relay → gateway on the
// commands exchange. The routing key is always the type.
const (
	TypeMessage    = "wa.message.v1"
	TypeCall       = "wa.call.v1"
	TypeConnection = "wa.connection.v1"
	TypeContact    = "wa.contact.v1"
	TypeGroup      = "wa.group.v1"

	TypeSend     = "wa.send.v1"
	TypeRead     = "wa.read.v1"
	TypePresence = "wa.presence.v1"
	TypeQuery    = "wa.query.v1"
)

// Meta is the envelope header.
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer,omitempty"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

// Envelope wraps every payload on the wire.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

type rawEnvelope struct {
	Meta Meta            `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// MessagePayload is the data of a wa.message.v1 event.
type MessagePayload struct {
	Key       bridge.MessageKey   `json:"key"`
	Sender    string              `json:"sender,omitempty"`
	PushName  string              `json:"push_name,omitempty"`
	Kind      bridge.MessageKind  `json:"kind"`
	Text      string              `json:"text,omitempty"`
	Media     *bridge.MediaRef    `json:"media,omitempty"`
	Location  *bridge.Location    `json:"location,omitempty"`
	Contact   *bridge.ContactCard `json:"contact,omitempty"`
	QuotedID  string              `json:"quoted_id,omitempty"`
	Timestamp int64               `json:"timestamp,omitempty"`
}

// CallPayload is the data of a wa.call.v1 event.
type CallPayload struct {
	CallID    string `json:"call_id"`
	From      string `json:"from"`
	IsVideo   bool   `json:"is_video,omitempty"`
	IsGroup   bool   `json:"is_group,omitempty"`
	Status    string `json:"status,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// ConnectionPayload is the data of a wa.connection.v1 event.
type ConnectionPayload struct {
	Status bridge.ConnectionStatus `json:"status"`
	Reason string                  `json:"reason,omitempty"`
}

// ContactPayload is the data of a wa.contact.v1 event.
type ContactPayload struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// GroupPayload is the data of a wa.group.v1 event.
type GroupPayload struct {
	Conversation bridge.ConversationID `json:"conversation"`
	Subject      string                `json:"subject"`
}

// MediaPayload is an outgoing file. Data is base64 on the wire.
type MediaPayload struct {
	Kind     bridge.MessageKind `json:"kind"`
	FileName string             `json:"file_name,omitempty"`
	MimeType string             `json:"mime_type,omitempty"`
	Caption  string             `json:"caption,omitempty"`
	Data     []byte             `json:"data"`
}

// SendCommand is the data of a wa.send.v1 command. MessageID is chosen by
// the relay and used by the gateway as the WhatsApp message id.
type SendCommand struct {
	MessageID    string                `json:"message_id"`
	Conversation bridge.ConversationID `json:"conversation"`
	Text         string                `json:"text,omitempty"`
	Media        *MediaPayload         `json:"media,omitempty"`
	Location     *bridge.Location      `json:"location,omitempty"`
	Quoted       *bridge.MessageKey    `json:"quoted,omitempty"`
}

// ReadCommand is the data of a wa.read.v1 command.
type ReadCommand struct {
	Keys []bridge.MessageKey `json:"keys"`
}

// PresenceCommand is the data of a wa.presence.v1 command.
type PresenceCommand struct {
	Conversation bridge.ConversationID `json:"conversation"`
	State        bridge.PresenceState  `json:"state"`
}

// Query names understood by the gateway.
const (
	QueryConversationInfo = "conversation_info"
	QueryProfilePicture   = "profile_picture"
)

// QueryRequest is the data of a wa.query.v1 request.
type QueryRequest struct {
	Query        string                `json:"query"`
	Conversation bridge.ConversationID `json:"conversation"`
}

// QueryResponse is the data of the reply to a wa.query.v1 request.
type QueryResponse struct {
	Error            string `json:"error,omitempty"`
	Name             string `json:"name,omitempty"`
	ParticipantCount int    `json:"participant_count,omitempty"`
	CreatedAt        int64  `json:"created_at,omitempty"`
	URL              string `json:"url,omitempty"`
}

func poison(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPoison, fmt.Sprintf(format, args...))
}

// DecodeEvent decodes a gateway event envelope. Unknown types and events the
// relay does not act on decode to nil. Malformed bodies return ErrPoison.
func DecodeEvent(body []byte, fallbackType string) (bridge.SourceEvent, error) {
	var env rawEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, poison("invalid envelope: %v", err)
	}
	typ := firstNonEmpty(env.Meta.Type, fallbackType)
	switch typ {
	case TypeMessage:
		var p MessagePayload
		if err := decodeData(env, &p); err != nil {
			return nil, err
		}
		msg, err := p.toBridge(env.Meta.Time)
		if err != nil {
			return nil, err
		}
		return msg, nil
	case TypeCall:
		var p CallPayload
		if err := decodeData(env, &p); err != nil {
			return nil, err
		}
		return p.toBridge(env.Meta.Time)
	case TypeConnection:
		var p ConnectionPayload
		if err := decodeData(env, &p); err != nil {
			return nil, err
		}
		switch p.Status {
		case bridge.ConnectionConnecting, bridge.ConnectionOpen, bridge.ConnectionClosed:
			return &bridge.ConnectionState{Status: p.Status, Reason: p.Reason}, nil
		default:
			return nil, poison("unknown connection status %q", p.Status)
		}
	case TypeContact:
		var p ContactPayload
		if err := decodeData(env, &p); err != nil {
			return nil, err
		}
		if p.UserID == "" || p.Name == "" {
			return nil, poison("contact event without user id or name")
		}
		return &bridge.ContactUpdate{UserID: p.UserID, DisplayName: p.Name}, nil
	case TypeGroup:
		var p GroupPayload
		if err := decodeData(env, &p); err != nil {
			return nil, err
		}
		if p.Conversation == "" || p.Subject == "" {
			return nil, poison("group event without conversation or subject")
		}
		return &bridge.ConversationRenamed{Conversation: p.Conversation, Name: p.Subject}, nil
	default:
		return nil, nil
	}
}

func decodeData(env rawEnvelope, v any) error {
	if len(env.Data) == 0 {
		return poison("%s without data", env.Meta.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return poison("invalid %s data: %v", env.Meta.Type, err)
	}
	return nil
}

func unixOr(sec int64, fallback time.Time) time.Time {
	if sec > 0 {
		return time.Unix(sec, 0)
	}
	if fallback.IsZero() {
		return time.Now()
	}
	return fallback
}

func (p *MessagePayload) toBridge(sent time.Time) (*bridge.SourceMessage, error) {
	if p.Key.Conversation == "" || p.Key.ID == "" {
		return nil, poison("message without conversation or id")
	}
	kind := p.Kind
	if kind == "" {
		kind = bridge.MessageText
	}
	switch {
	case kind == bridge.MessageText:
	case kind.IsMedia():
		if p.Media == nil || p.Media.URL == "" {
			return nil, poison("%s message without media url", kind)
		}
	case kind == bridge.MessageLocation:
		if p.Location == nil {
			return nil, poison("location message without location")
		}
	case kind == bridge.MessageContact:
		if p.Contact == nil {
			return nil, poison("contact message without contact")
		}
	default:
		return nil, poison("unknown message kind %q", kind)
	}

	sender := firstNonEmpty(p.Sender, p.Key.Participant)
	if sender == "" && !p.Key.FromMe {
		sender = string(p.Key.Conversation)
	}
	return &bridge.SourceMessage{
		Key:         p.Key,
		Kind:        bridge.ClassifyConversation(p.Key.Conversation),
		Sender:      sender,
		PushName:    p.PushName,
		IsSelf:      p.Key.FromMe,
		MessageKind: kind,
		Text:        p.Text,
		Media:       p.Media,
		Location:    p.Location,
		Contact:     p.Contact,
		QuotedID:    p.QuotedID,
		Timestamp:   unixOr(p.Timestamp, sent),
	}, nil
}

// toBridge returns nil for call states other than the initial offer.
func (p *CallPayload) toBridge(sent time.Time) (bridge.SourceEvent, error) {
	if p.CallID == "" || p.From == "" {
		return nil, poison("call without id or caller")
	}
	if p.Status != "" && p.Status != "offer" {
		return nil, nil
	}
	return &bridge.CallOffer{
		CallID:    p.CallID,
		From:      p.From,
		IsVideo:   p.IsVideo,
		IsGroup:   p.IsGroup,
		Timestamp: unixOr(p.Timestamp, sent),
	}, nil
}
