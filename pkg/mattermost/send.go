// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package mattermost

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/wa-mattermost-relay/pkg/bridge"
)

func (c *Client) createPost(ctx context.Context, post *model.Post) (string, error) {
	createdPost, _, err := c.client.CreatePost(ctx, post)
	if err != nil {
		return "", fmt.Errorf("failed to create post: %w", err)
	}
	return createdPost.Id, nil
}

// SendText posts text to a channel.
func (c *Client) SendText(ctx context.Context, thread bridge.ThreadID, text string) (string, error) {
	return c.createPost(ctx, &model.Post{
		ChannelId: string(thread),
		Message:   text,
	})
}

// SendReply posts text as a reply in the thread rooted at rootID.
func (c *Client) SendReply(ctx context.Context, thread bridge.ThreadID, rootID, text string) (string, error) {
	return c.createPost(ctx, &model.Post{
		ChannelId: string(thread),
		RootId:    rootID,
		Message:   text,
	})
}

// SendFile uploads a file and posts it with its caption.
func (c *Client) SendFile(ctx context.Context, thread bridge.ThreadID, upload bridge.Upload) (string, error) {
	data, err := os.ReadFile(upload.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	fileID, err := c.uploadFile(ctx, thread, data, upload.FileName)
	if err != nil {
		return "", err
	}
	return c.createPost(ctx, &model.Post{
		ChannelId: string(thread),
		Message:   upload.Caption,
		FileIds:   []string{fileID},
	})
}

// SendLocation posts a location as text with a map link.
func (c *Client) SendLocation(ctx context.Context, thread bridge.ThreadID, loc bridge.Location, caption string) (string, error) {
	return c.SendText(ctx, thread, joinCaption(caption, LocationText(loc)))
}

// SendContact uploads a contact card as a .vcf file.
func (c *Client) SendContact(ctx context.Context, thread bridge.ThreadID, card bridge.ContactCard, caption string) (string, error) {
	text := joinCaption(caption, "👤 **Contact:** "+card.DisplayName)
	if card.VCard == "" {
		return c.SendText(ctx, thread, text)
	}
	fileID, err := c.uploadFile(ctx, thread, []byte(card.VCard), vcardFileName(card.DisplayName))
	if err != nil {
		return "", err
	}
	return c.createPost(ctx, &model.Post{
		ChannelId: string(thread),
		Message:   text,
		FileIds:   []string{fileID},
	})
}

// SetReaction adds a reaction from the bot account to a post.
func (c *Client) SetReaction(ctx context.Context, messageID, emoji string) error {
	_, _, err := c.client.SaveReaction(ctx, &model.Reaction{
		UserId:    c.userID,
		PostId:    messageID,
		EmojiName: emojiToReaction(emoji),
	})
	if err != nil {
		return fmt.Errorf("failed to save reaction: %w", err)
	}
	return nil
}

// OpenFile downloads a file attachment.
func (c *Client) OpenFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	data, _, err := c.client.GetFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (c *Client) uploadFile(ctx context.Context, thread bridge.ThreadID, data []byte, filename string) (string, error) {
	if filename == "" {
		filename = "upload"
	}
	fileUploadResp, _, err := c.client.UploadFile(ctx, data, string(thread), filename)
	if err != nil {
		return "", fmt.Errorf("failed to upload to Mattermost: %w", err)
	}
	if len(fileUploadResp.FileInfos) == 0 {
		return "", fmt.Errorf("no file info returned from upload")
	}
	return fileUploadResp.FileInfos[0].Id, nil
}

// LocationText renders a location with a map link.
func LocationText(loc bridge.Location) string {
	lat := strconv.FormatFloat(loc.Latitude, 'f', 6, 64)
	lng := strconv.FormatFloat(loc.Longitude, 'f', 6, 64)
	var sb strings.Builder
	sb.WriteString("📍 **Location**")
	if loc.Name != "" {
		sb.WriteString(": " + loc.Name)
	}
	if loc.Address != "" {
		sb.WriteString("\n" + loc.Address)
	}
	sb.WriteString("\nhttps://maps.google.com/?q=" + lat + "," + lng)
	return sb.String()
}

func joinCaption(caption, body string) string {
	if caption == "" {
		return body
	}
	return caption + "\n" + body
}

func vcardFileName(name string) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`/\:*?"<>|`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" {
		name = "contact"
	}
	return name + ".vcf"
}

// emojiToReaction converts a Unicode emoji to a Mattermost emoji name.
func emojiToReaction(emoji string) string {
	reverseMap := map[string]string{
		"\U0001f44d":   "+1",
		"\U0001f44e":   "-1",
		"\u2764\ufe0f": "heart",
		"\U0001f604":   "smile",
		"\U0001f606":   "laughing",
		"\U0001f44b":   "wave",
		"\U0001f44f":   "clap",
		"\U0001f525":   "fire",
		"\U0001f4af":   "100",
		"\U0001f389":   "tada",
		"\U0001f440":   "eyes",
		"\U0001f914":   "thinking",
		"\u2705":       "white_check_mark",
		"\u274c":       "x",
		"\u26a0\ufe0f": "warning",
		"\U0001f680":   "rocket",
		"\u2b50":       "star",
		"\U0001f64f":   "pray",
	}

	if name, ok := reverseMap[emoji]; ok {
		return name
	}
	// Strip colons for custom emoji names.
	if len(emoji) > 2 && emoji[0] == ':' && emoji[len(emoji)-1] == ':' {
		return emoji[1 : len(emoji)-1]
	}
	return emoji
}
