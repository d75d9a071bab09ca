// Copyright 2024-2026 Aiku AI

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/aiku/wa-mattermost-relay/pkg/bridge"
)

// broker is the part of *Client the source adapter uses.
type broker interface {
	RunWithConsumers(ctx context.Context, specs ...ConsumerSpec) error
	PublishJSON(ctx context.Context, exchange, routingKey string, env Envelope) error
	Call(ctx context.Context, exchange, routingKey string, env Envelope) ([]byte, error)
}

var _ broker = (*Client)(nil)

// Source implements bridge.SourceClient on top of the RabbitMQ gateway.
type Source struct {
	broker broker
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time
}

var _ bridge.SourceClient = (*Source)(nil)

// NewSource creates the source adapter for a connected client.
func NewSource(client *Client, log zerolog.Logger) *Source {
	return newSource(client, client.Config(), log)
}

func newSource(b broker, cfg Config, log zerolog.Logger) *Source {
	cfg.setDefaults()
	return &Source{
		broker: b,
		cfg:    cfg,
		log:    log.With().Str("component", "gateway").Logger(),
		now:    time.Now,
	}
}

// Run consumes gateway events into sink until ctx is done.
func (s *Source) Run(ctx context.Context, sink bridge.SourceEventSink) error {
	spec := ConsumerSpec{
		Name:          "events",
		Exchange:      s.cfg.EventsExchange,
		Queue:         s.cfg.EventsQueue,
		BindingKey:    s.cfg.EventsBindingKey,
		PoisonToFinal: true,
		Consume:       s.consumer(sink),
	}
	if s.cfg.Retry.Enabled {
		retry := s.cfg.Retry
		spec.Retry = &retry
	}
	err := s.broker.RunWithConsumers(ctx, spec)
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

func (s *Source) consumer(sink bridge.SourceEventSink) func(context.Context, amqp.Delivery) error {
	return func(ctx context.Context, d amqp.Delivery) error {
		evt, err := DecodeEvent(d.Body, d.Type)
		if err != nil {
			return err
		}
		if evt == nil {
			s.log.Debug().Str("type", d.Type).Str("message_id", d.MessageId).Msg("Ignoring gateway event")
			return nil
		}
		sink.HandleSourceEvent(ctx, evt)
		return nil
	}
}

func (s *Source) envelope(typ string, data any) Envelope {
	return Envelope{
		Meta: Meta{
			ID:       uuid.NewString(),
			Producer: s.cfg.Producer,
			Time:     s.now().UTC(),
			Type:     typ,
		},
		Data: data,
	}
}

func (s *Source) publish(ctx context.Context, typ string, data any) error {
	return s.broker.PublishJSON(ctx, s.cfg.CommandsExchange, typ, s.envelope(typ, data))
}

// newMessageID returns an id in the shape WhatsApp clients generate.
func newMessageID() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "3EB0" + id[:18]
}

// Send publishes a wa.send.v1 command. The returned key carries the id the
// gateway will use for the WhatsApp message.
func (s *Source) Send(ctx context.Context, conv bridge.ConversationID, content bridge.OutgoingContent) (bridge.MessageKey, error) {
	cmd := SendCommand{
		MessageID:    newMessageID(),
		Conversation: conv,
		Text:         content.Text,
		Location:     content.Location,
		Quoted:       content.Quoted,
	}
	if m := content.Media; m != nil {
		cmd.Media = &MediaPayload{
			Kind:     m.Kind,
			FileName: m.FileName,
			MimeType: m.MimeType,
			Caption:  m.Caption,
			Data:     m.Data,
		}
	}
	if cmd.Text == "" && cmd.Media == nil && cmd.Location == nil {
		return bridge.MessageKey{}, errors.New("nothing to send")
	}
	if err := s.publish(ctx, TypeSend, cmd); err != nil {
		return bridge.MessageKey{}, fmt.Errorf("failed to send message to %s: %w", conv, err)
	}
	return bridge.MessageKey{Conversation: conv, ID: cmd.MessageID, FromMe: true}, nil
}

// MarkRead publishes one wa.read.v1 command for all keys.
func (s *Source) MarkRead(ctx context.Context, keys []bridge.MessageKey) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.publish(ctx, TypeRead, ReadCommand{Keys: keys}); err != nil {
		return fmt.Errorf("failed to mark %d messages read: %w", len(keys), err)
	}
	return nil
}

// SetPresence publishes a wa.presence.v1 command.
func (s *Source) SetPresence(ctx context.Context, state bridge.PresenceState, conv bridge.ConversationID) error {
	if err := s.publish(ctx, TypePresence, PresenceCommand{Conversation: conv, State: state}); err != nil {
		return fmt.Errorf("failed to set presence %s: %w", state, err)
	}
	return nil
}

func (s *Source) query(ctx context.Context, name string, conv bridge.ConversationID) (*QueryResponse, error) {
	env := s.envelope(TypeQuery, QueryRequest{Query: name, Conversation: conv})
	body, err := s.broker.Call(ctx, s.cfg.CommandsExchange, TypeQuery, env)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", name, err)
	}
	var reply struct {
		Data QueryResponse `json:"data"`
	}
	if err = json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("failed to decode %s reply: %w", name, err)
	}
	if reply.Data.Error != "" {
		return nil, fmt.Errorf("gateway %s error: %s", name, reply.Data.Error)
	}
	return &reply.Data, nil
}

// GetConversationInfo asks the gateway for group metadata.
func (s *Source) GetConversationInfo(ctx context.Context, conv bridge.ConversationID) (*bridge.ConversationInfo, error) {
	resp, err := s.query(ctx, QueryConversationInfo, conv)
	if err != nil {
		return nil, err
	}
	info := &bridge.ConversationInfo{
		Name:             resp.Name,
		ParticipantCount: resp.ParticipantCount,
	}
	if resp.CreatedAt > 0 {
		info.CreatedAt = time.Unix(resp.CreatedAt, 0)
	}
	return info, nil
}

// GetProfilePictureURL asks the gateway for a profile picture URL. An empty
// URL means there is no picture.
func (s *Source) GetProfilePictureURL(ctx context.Context, conv bridge.ConversationID) (string, error) {
	resp, err := s.query(ctx, QueryProfilePicture, conv)
	if err != nil {
		return "", err
	}
	return resp.URL, nil
}
