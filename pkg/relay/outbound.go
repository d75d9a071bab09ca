// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aiku/wa-mattermost-relay/pkg/bridge"
	"github.com/aiku/wa-mattermost-relay/pkg/format/mattermostfmt"
	"github.com/aiku/wa-mattermost-relay/pkg/media"
	"github.com/aiku/wa-mattermost-relay/pkg/topic"
)

const (
	reactionSuccess = "👍"
	reactionFailure = "❌"
)

var (
	errBroadcastPost = errors.New("only replies to a status can be sent from this thread")
	errUnknownStatus = errors.New("replied status is unknown or expired")
)

// outboundTarget is where a destination post goes on the source network.
type outboundTarget struct {
	conv   bridge.ConversationID
	quoted *bridge.MessageKey
}

// handleDestinationMessage relays a post typed in a mirrored thread and
// marks it with a success or failure reaction.
func (e *Engine) handleDestinationMessage(ctx context.Context, msg *bridge.DestinationMessage) {
	log := e.log.With().
		Str("thread_id", string(msg.ThreadID)).
		Str("post_id", msg.MessageID).
		Logger()
	ctx = log.WithContext(ctx)

	conv, err := e.router.Conversation(msg.ThreadID)
	if errors.Is(err, topic.ErrNotMirrored) {
		log.Debug().Msg("Post in unmapped channel, ignoring")
		return
	} else if err != nil {
		log.Err(err).Msg("Failed to look up conversation")
		return
	}

	target, err := e.outboundTarget(conv, msg)
	if err == nil {
		err = e.sendToSource(ctx, target, msg)
	}
	if err != nil {
		log.Err(err).Str("conversation_id", string(conv)).Msg("Failed to relay post")
		relayFailures.WithLabelValues(directionOutbound, outboundReason(err)).Inc()
		e.react(ctx, msg.MessageID, reactionFailure)
		return
	}
	messagesRelayed.WithLabelValues(directionOutbound, outboundKind(msg)).Inc()
	e.store.Touch(ctx, conv, e.now())
	e.react(ctx, msg.MessageID, reactionSuccess)
}

// outboundTarget routes status replies to the poster's direct conversation
// and rejects anything else typed in a broadcast thread.
func (e *Engine) outboundTarget(conv bridge.ConversationID, msg *bridge.DestinationMessage) (outboundTarget, error) {
	switch conv.Kind() {
	case bridge.KindStatus:
		if msg.ReplyTo == "" {
			return outboundTarget{}, errBroadcastPost
		}
		ref, ok := e.statusRefs.get(msg.ReplyTo)
		if !ok || ref.Participant == "" {
			return outboundTarget{}, errUnknownStatus
		}
		return outboundTarget{conv: bridge.DirectConversation(ref.Participant), quoted: &ref}, nil
	case bridge.KindCall:
		return outboundTarget{}, errBroadcastPost
	default:
		return outboundTarget{conv: conv}, nil
	}
}

func (e *Engine) sendToSource(ctx context.Context, target outboundTarget, msg *bridge.DestinationMessage) error {
	text := mattermostfmt.Format(msg.Text)
	if text == "" && len(msg.Files) == 0 {
		return errEmptyMessage
	}
	if e.features.Presence && e.presence != nil {
		e.presence.Composing(ctx, target.conv)
	}

	if len(msg.Files) == 0 {
		key, err := e.src.Send(ctx, target.conv, bridge.OutgoingContent{Text: text, Quoted: target.quoted})
		if err != nil {
			return err
		}
		if target.quoted == nil && key.ID != "" {
			// Quotes of this message on the source side join the post's discussion.
			root := msg.ReplyTo
			if root == "" {
				root = msg.MessageID
			}
			e.replyRoots.put(replyKey(target.conv, key.ID), root)
		}
		return nil
	}
	for i, file := range msg.Files {
		caption := ""
		if i == 0 {
			caption = text
		}
		if err := e.sendFile(ctx, target, file, caption); err != nil {
			return err
		}
	}
	return nil
}

// sendFile moves one destination attachment through the media pipeline and
// sends it to the source network.
func (e *Engine) sendFile(ctx context.Context, target outboundTarget, file bridge.FileRef, caption string) error {
	_, err := e.media.Transfer(ctx, media.Payload{
		Kind: kindForMime(file.MimeType),
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			return e.dest.OpenFile(ctx, file.ID)
		},
		FileName: file.Name,
		MimeType: file.MimeType,
		Size:     file.Size,
		Caption:  caption,
	}, func(ctx context.Context, upload bridge.Upload) (string, error) {
		data, err := os.ReadFile(upload.Path)
		if err != nil {
			return "", fmt.Errorf("failed to read prepared file: %w", err)
		}
		key, err := e.src.Send(ctx, target.conv, bridge.OutgoingContent{
			Media: &bridge.OutgoingMedia{
				Kind:     upload.Kind,
				FileName: upload.FileName,
				MimeType: upload.MimeType,
				Caption:  upload.Caption,
				Data:     data,
			},
			Quoted: target.quoted,
		})
		return key.ID, err
	})
	return err
}

func (e *Engine) react(ctx context.Context, postID, emoji string) {
	if !e.features.Reactions || postID == "" {
		return
	}
	if err := e.dest.SetReaction(ctx, postID, emoji); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("emoji", emoji).Msg("Failed to set reaction")
	}
}

func kindForMime(mimeType string) bridge.MessageKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return bridge.MessageImage
	case strings.HasPrefix(mimeType, "video/"):
		return bridge.MessageVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return bridge.MessageAudio
	default:
		return bridge.MessageDocument
	}
}

func outboundKind(msg *bridge.DestinationMessage) string {
	if len(msg.Files) > 0 {
		return string(kindForMime(msg.Files[0].MimeType))
	}
	return string(bridge.MessageText)
}

func outboundReason(err error) string {
	switch {
	case errors.Is(err, errBroadcastPost), errors.Is(err, errUnknownStatus):
		return "rejected"
	default:
		return failureReason(err)
	}
}
