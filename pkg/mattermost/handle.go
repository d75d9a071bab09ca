// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/wa-mattermost-relay/pkg/bridge"
)

// handleEvent dispatches a Mattermost WebSocket event to the appropriate handler.
func (c *Client) handleEvent(ctx context.Context, sink bridge.DestinationEventSink, evt *model.WebSocketEvent) {
	switch evt.EventType() {
	case model.WebsocketEventPosted:
		c.handlePosted(ctx, sink, evt)
	default:
		c.log.Trace().Str("event_type", string(evt.EventType())).Msg("Unhandled event type")
	}
}

// parsePostedEvent extracts and validates a post from a WebSocket event,
// applying all echo prevention layers. Returns (nil, nil) to skip silently,
// (nil, err) to log an error, or (post, nil) to proceed.
func (c *Client) parsePostedEvent(evt *model.WebSocketEvent) (*model.Post, error) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		return nil, fmt.Errorf("posted event missing post data")
	}

	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}

	// Echo prevention: skip own posts.
	if post.UserId == c.userID {
		return nil, nil
	}

	// Echo prevention: skip non-default post types (system messages).
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return nil, nil
	}

	// Echo prevention: skip posts from usernames matching known bridge patterns.
	senderName, _ := evt.GetData()["sender_name"].(string)
	senderName = strings.TrimPrefix(senderName, "@")
	if senderName != "" && isBridgeUsername(senderName, c.cfg.BotPrefix) {
		c.log.Debug().
			Str("post_id", post.Id).
			Str("username", senderName).
			Msg("Skipping bridge username post (echo prevention)")
		return nil, nil
	}

	return &post, nil
}

func (c *Client) handlePosted(ctx context.Context, sink bridge.DestinationEventSink, evt *model.WebSocketEvent) {
	post, err := c.parsePostedEvent(evt)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to parse posted event")
		return
	}
	if post == nil {
		return
	}

	c.log.Debug().
		Str("post_id", post.Id).
		Str("channel_id", post.ChannelId).
		Str("user_id", post.UserId).
		Msg("Received new message")

	sink.HandleDestinationEvent(ctx, c.convertPost(ctx, post))
}

// convertPost converts a Mattermost post to the relay's destination message.
func (c *Client) convertPost(ctx context.Context, post *model.Post) *bridge.DestinationMessage {
	msg := &bridge.DestinationMessage{
		ThreadID:  bridge.ThreadID(post.ChannelId),
		MessageID: post.Id,
		ReplyTo:   post.RootId,
		SenderID:  post.UserId,
		Text:      post.Message,
		Timestamp: time.UnixMilli(post.CreateAt),
	}
	for _, fileID := range post.FileIds {
		msg.Files = append(msg.Files, c.convertFile(ctx, fileID))
	}
	return msg
}

// convertFile looks up a file attachment's metadata. Lookup failures still
// return a reference so the download can be attempted.
func (c *Client) convertFile(ctx context.Context, fileID string) bridge.FileRef {
	ref := bridge.FileRef{ID: fileID}
	fileInfo, _, err := c.client.GetFileInfo(ctx, fileID)
	if err != nil {
		c.log.Warn().Err(err).Str("file_id", fileID).Msg("Failed to get file info")
		return ref
	}
	ref.Name = fileInfo.Name
	ref.MimeType = fileInfo.MimeType
	ref.Size = fileInfo.Size
	return ref
}

// isBridgeUsername returns true if the username belongs to a known bridge
// bot that should never be relayed. It checks against the hardcoded relay
// username and an optional configurable prefix.
func isBridgeUsername(username, botPrefix string) bool {
	switch {
	case username == "wa-relay":
		return true
	case strings.HasPrefix(username, "whatsapp_"):
		return true
	case botPrefix != "" && strings.HasPrefix(username, botPrefix):
		return true
	default:
		return false
	}
}
