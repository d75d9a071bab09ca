// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package mattermost is the destination side of the relay: one channel per
// mirrored conversation in a single Mattermost team.
package mattermost

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
	"go.mau.fi/util/ptr"

	"github.com/aiku/wa-mattermost-relay/pkg/bridge"
)

const (
	maxDisplayNameRunes = 64
	maxPurposeRunes     = 250
)

// Config holds the Mattermost connection settings.
type Config struct {
	ServerURL string
	Token     string
	TeamID    string
	// PrivateChannels creates mirrored channels as private channels.
	PrivateChannels bool
	// BotPrefix marks usernames whose posts are never relayed back.
	BotPrefix string

	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Client talks to Mattermost through the REST API and the websocket event
// stream.
type Client struct {
	cfg    Config
	client *model.Client4
	userID string
	log    zerolog.Logger

	// dial is replaced in tests.
	dial func(url, token string) (eventStream, error)
}

var _ bridge.DestinationClient = (*Client)(nil)

// eventStream is the part of model.WebSocketClient the listen loop uses.
type eventStream interface {
	Events() <-chan *model.WebSocketEvent
	Close()
}

type wsStream struct {
	ws *model.WebSocketClient
}

func (s *wsStream) Events() <-chan *model.WebSocketEvent {
	return s.ws.EventChannel
}

func (s *wsStream) Close() {
	s.ws.Close()
}

func dialWebSocket(url, token string) (eventStream, error) {
	ws, err := model.NewWebSocketClient4(url, token)
	if err != nil {
		return nil, fmt.Errorf("failed to create websocket client: %w", err)
	}
	ws.Listen()
	return &wsStream{ws: ws}, nil
}

// New creates a client. Call Connect before using it.
func New(cfg Config, log zerolog.Logger) *Client {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = time.Minute
	}
	client := model.NewAPIv4Client(strings.TrimSuffix(cfg.ServerURL, "/"))
	client.SetToken(cfg.Token)
	return &Client{
		cfg:    cfg,
		client: client,
		log:    log.With().Str("component", "mm_client").Logger(),
		dial:   dialWebSocket,
	}
}

// Connect verifies the token and learns the bot's own user ID.
func (c *Client) Connect(ctx context.Context) error {
	c.log.Info().Str("server_url", c.cfg.ServerURL).Msg("Connecting to Mattermost")
	me, _, err := c.client.GetMe(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to verify Mattermost session: %w", err)
	}
	c.userID = me.Id
	c.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")
	return nil
}

// UserID returns the authenticated user's ID.
func (c *Client) UserID() string {
	return c.userID
}

// Run listens on the websocket and hands every relayable post to sink. It
// reconnects with backoff until ctx is done.
func (c *Client) Run(ctx context.Context, sink bridge.DestinationEventSink) error {
	wsURL := httpToWS(strings.TrimSuffix(c.cfg.ServerURL, "/"))
	delay := c.cfg.ReconnectMin
	for {
		stream, err := c.dial(wsURL, c.cfg.Token)
		if err != nil {
			c.log.Error().Err(err).Dur("retry_in", delay).Msg("WebSocket connection failed")
		} else {
			c.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")
			delay = c.cfg.ReconnectMin
			if done := c.listen(ctx, stream, sink); done {
				return nil
			}
			c.log.Warn().Dur("retry_in", delay).Msg("WebSocket event channel closed, reconnecting")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(jitter(delay)):
		}
		delay = min(delay*2, c.cfg.ReconnectMax)
	}
}

// listen returns true when ctx ended and false when the stream closed.
func (c *Client) listen(ctx context.Context, stream eventStream, sink bridge.DestinationEventSink) bool {
	defer stream.Close()
	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			return true
		case evt, ok := <-events:
			if !ok {
				return false
			}
			if evt == nil {
				continue
			}
			c.handleEvent(ctx, sink, evt)
		}
	}
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + rand.N(d/2+1)
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

// CreateThread creates the channel for a conversation. If a channel with the
// same name already exists in the team it is adopted.
func (c *Client) CreateThread(ctx context.Context, spec bridge.ThreadSpec) (bridge.ThreadID, error) {
	channelType := model.ChannelTypeOpen
	if c.cfg.PrivateChannels {
		channelType = model.ChannelTypePrivate
	}
	ch, _, err := c.client.CreateChannel(ctx, &model.Channel{
		TeamId:      c.cfg.TeamID,
		Type:        channelType,
		Name:        spec.Name,
		DisplayName: truncate(spec.DisplayName, maxDisplayNameRunes),
		Purpose:     truncate(spec.Purpose, maxPurposeRunes),
	})
	if err == nil {
		return bridge.ThreadID(ch.Id), nil
	}
	existing, _, getErr := c.client.GetChannelByName(ctx, spec.Name, c.cfg.TeamID, "")
	if getErr != nil || existing == nil {
		return "", fmt.Errorf("failed to create channel %q: %w", spec.Name, err)
	}
	c.log.Info().
		Str("channel_id", existing.Id).
		Str("channel_name", existing.Name).
		Msg("Adopted existing channel")
	return bridge.ThreadID(existing.Id), nil
}

// RenameThread changes a channel's display name.
func (c *Client) RenameThread(ctx context.Context, thread bridge.ThreadID, name string) error {
	patch := &model.ChannelPatch{DisplayName: ptr.Ptr(truncate(name, maxDisplayNameRunes))}
	_, _, err := c.client.PatchChannel(ctx, string(thread), patch)
	if err != nil {
		return fmt.Errorf("failed to rename channel: %w", err)
	}
	return nil
}

func truncate(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes])
}
