// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aiku/wa-mattermost-relay/pkg/bridge"
	"github.com/aiku/wa-mattermost-relay/pkg/format/whatsappfmt"
	"github.com/aiku/wa-mattermost-relay/pkg/media"
	"github.com/aiku/wa-mattermost-relay/pkg/topic"
)

const outgoingMarker = "📤"

// handleSourceMessage relays one source message into its thread.
func (e *Engine) handleSourceMessage(ctx context.Context, msg *bridge.SourceMessage) {
	log := e.log.With().
		Str("conversation_id", string(msg.Key.Conversation)).
		Str("message_id", msg.Key.ID).
		Str("kind", msg.Kind.String()).
		Logger()
	ctx = log.WithContext(ctx)

	if msg.Kind == bridge.KindStatus && !e.features.StatusUpdates {
		log.Debug().Msg("Status updates disabled, skipping")
		return
	}
	if !msg.IsSelf && msg.Sender != "" {
		e.rememberSender(ctx, msg)
	}

	hints := topic.Hints{Kind: msg.Kind}
	if msg.Kind == bridge.KindDirect && !msg.IsSelf {
		hints.Name = msg.PushName
	}
	thread, err := e.router.Resolve(ctx, msg.Key.Conversation, hints)
	if err != nil {
		log.Err(err).Msg("Failed to resolve thread, dropping message")
		relayFailures.WithLabelValues(directionInbound, "resolve").Inc()
		return
	}

	root := e.replyRoot(msg)
	postID, err := e.sendToThread(ctx, thread, msg, root)
	if err != nil {
		log.Err(err).Msg("Failed to relay message")
		relayFailures.WithLabelValues(directionInbound, failureReason(err)).Inc()
		return
	}
	messagesRelayed.WithLabelValues(directionInbound, string(msg.MessageKind)).Inc()
	e.store.Touch(ctx, msg.Key.Conversation, msg.Timestamp)

	switch {
	case postID == "":
	case msg.Kind == bridge.KindStatus:
		key := msg.Key
		if key.Participant == "" {
			key.Participant = msg.Sender
		}
		if !e.statusRefs.put(postID, key) {
			log.Warn().Str("post_id", postID).Msg("Status reply reference was not stored")
		}
	default:
		if root == "" {
			root = postID
		}
		e.replyRoots.put(replyKey(msg.Key.Conversation, msg.Key.ID), root)
	}

	if msg.IsSelf && !e.features.OutgoingSideEffects {
		return
	}
	if e.features.ReadReceipts && e.presence != nil {
		e.presence.QueueRead(ctx, msg.Key)
	}
}

// replyRoot returns the root post of the discussion holding the message msg
// quotes, or "" when that message was never relayed or has expired. Only
// text messages are posted as replies.
func (e *Engine) replyRoot(msg *bridge.SourceMessage) string {
	if msg.QuotedID == "" || msg.Kind == bridge.KindStatus || msg.MessageKind != bridge.MessageText {
		return ""
	}
	root, _ := e.replyRoots.get(replyKey(msg.Key.Conversation, msg.QuotedID))
	return root
}

func replyKey(conv bridge.ConversationID, messageID string) string {
	return string(conv) + "|" + messageID
}

// rememberSender keeps the sender's profile and, from the push name, a
// missing contact name.
func (e *Engine) rememberSender(ctx context.Context, msg *bridge.SourceMessage) {
	at := msg.Timestamp
	if at.IsZero() {
		at = e.now()
	}
	e.store.SeeUser(ctx, msg.Sender, msg.PushName, at)
	if msg.PushName == "" {
		return
	}
	handle := bridge.Handle(msg.Sender)
	if _, ok := e.store.Contacts.Get(handle); ok {
		return
	}
	if err := e.store.SetContactName(ctx, handle, msg.PushName, at); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to store contact name")
	}
}

// senderPrefix labels messages in multi-participant conversations and
// marks messages sent by the mirrored account.
func (e *Engine) senderPrefix(msg *bridge.SourceMessage) string {
	if msg.IsSelf {
		return outgoingMarker + " **You:**"
	}
	if !msg.Kind.IsMultiParticipant() {
		return ""
	}
	return "**" + e.store.DisplayName(msg.Sender, msg.PushName) + ":**"
}

func withPrefix(prefix, body string) string {
	switch {
	case prefix == "":
		return body
	case body == "":
		return prefix
	default:
		return prefix + " " + body
	}
}

// sendToThread posts msg into thread. A non-empty root posts the text as a
// reply in that discussion.
func (e *Engine) sendToThread(ctx context.Context, thread bridge.ThreadID, msg *bridge.SourceMessage, root string) (string, error) {
	prefix := e.senderPrefix(msg)
	body := whatsappfmt.Parse(msg.Text)

	switch {
	case msg.MessageKind.IsMedia() && msg.Media != nil:
		id, err := e.media.Transfer(ctx, media.Payload{
			Kind:     msg.MessageKind,
			Open:     media.URLOpener(e.client, msg.Media.URL),
			FileName: msg.Media.FileName,
			MimeType: msg.Media.MimeType,
			Size:     msg.Media.Size,
			Caption:  withPrefix(prefix, body),
			Animated: msg.Media.Animated,
		}, func(ctx context.Context, upload bridge.Upload) (string, error) {
			return e.dest.SendFile(ctx, thread, upload)
		})
		if err == nil {
			return id, nil
		}
		// Keep the conversation readable: post a notice instead of the file.
		notice := withPrefix(prefix, fmt.Sprintf("⚠️ _%s could not be relayed_", msg.MessageKind))
		if body != "" {
			notice += "\n" + body
		}
		if _, nerr := e.dest.SendText(ctx, thread, notice); nerr != nil {
			zerolog.Ctx(ctx).Warn().Err(nerr).Msg("Failed to post media failure notice")
		}
		return "", err
	case msg.MessageKind == bridge.MessageLocation && msg.Location != nil:
		return e.dest.SendLocation(ctx, thread, *msg.Location, prefix)
	case msg.MessageKind == bridge.MessageContact && msg.Contact != nil:
		return e.dest.SendContact(ctx, thread, *msg.Contact, prefix)
	default:
		if body == "" {
			return "", errEmptyMessage
		}
		if root != "" {
			return e.dest.SendReply(ctx, thread, root, withPrefix(prefix, body))
		}
		return e.dest.SendText(ctx, thread, withPrefix(prefix, body))
	}
}

var errEmptyMessage = errors.New("message has no content")

func failureReason(err error) string {
	switch {
	case errors.Is(err, media.ErrTransferFailed):
		return "media"
	case errors.Is(err, topic.ErrResolutionFailed):
		return "resolve"
	case errors.Is(err, errEmptyMessage):
		return "empty"
	default:
		return "send"
	}
}

// handleCallOffer posts one notice per call, suppressing repeated offers for
// the same caller and call inside the dedup window.
func (e *Engine) handleCallOffer(ctx context.Context, call *bridge.CallOffer) {
	if !e.features.CallLogs {
		return
	}
	log := e.log.With().Str("call_id", call.CallID).Str("from", call.From).Logger()
	key := call.CallKey()
	if e.calls.Pending(key) {
		log.Debug().Msg("Suppressing duplicate call offer")
		callsSuppressed.Inc()
		return
	}
	e.calls.Schedule(key, e.callWindow, func() {})

	thread, err := e.router.Resolve(ctx, bridge.CallConversation, topic.Hints{Kind: bridge.KindCall})
	if err != nil {
		log.Err(err).Msg("Failed to resolve call thread")
		relayFailures.WithLabelValues(directionInbound, "resolve").Inc()
		return
	}
	if _, err = e.dest.SendText(ctx, thread, e.callNotice(call)); err != nil {
		log.Err(err).Msg("Failed to post call notice")
		relayFailures.WithLabelValues(directionInbound, "send").Inc()
		return
	}
	messagesRelayed.WithLabelValues(directionInbound, "call").Inc()
}

func (e *Engine) callNotice(call *bridge.CallOffer) string {
	label := e.store.DisplayName(call.From, "")
	text := "📞 Incoming call from **" + label + "**"
	if call.IsVideo {
		text = "📹 Incoming video call from **" + label + "**"
	}
	if call.IsGroup {
		text += " (group call)"
	}
	ts := call.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}
	return text + "\n🕐 " + ts.Format("2006-01-02 15:04:05")
}

func (e *Engine) handleConnectionState(ctx context.Context, state *bridge.ConnectionState) {
	e.log.Info().
		Str("status", string(state.Status)).
		Str("reason", state.Reason).
		Msg("Source connection state changed")
	if e.logTh == "" {
		return
	}
	var text string
	switch state.Status {
	case bridge.ConnectionOpen:
		text = "✅ WhatsApp connected and ready"
	case bridge.ConnectionClosed:
		text = "⚠️ WhatsApp disconnected"
		if state.Reason != "" {
			text += ": " + state.Reason
		}
	default:
		return
	}
	if _, err := e.dest.SendText(ctx, e.logTh, text); err != nil {
		e.log.Warn().Err(err).Msg("Failed to post connection notice")
	}
}

// handleContactUpdate stores the synced name and renames the direct thread
// when the name changed.
func (e *Engine) handleContactUpdate(ctx context.Context, upd *bridge.ContactUpdate) {
	handle := bridge.Handle(upd.UserID)
	prev, had := e.store.Contacts.Get(handle)
	if err := e.store.SetContactName(ctx, handle, upd.DisplayName, e.now()); err != nil {
		e.log.Warn().Err(err).Str("handle", handle).Msg("Failed to store contact name")
		return
	}
	if had && prev.DisplayName == upd.DisplayName {
		return
	}
	e.rename(ctx, bridge.DirectConversation(upd.UserID), upd.DisplayName)
}

func (e *Engine) handleConversationRenamed(ctx context.Context, evt *bridge.ConversationRenamed) {
	e.rename(ctx, evt.Conversation, evt.Name)
}

func (e *Engine) rename(ctx context.Context, conv bridge.ConversationID, name string) {
	err := e.router.Rename(ctx, conv, name)
	switch {
	case errors.Is(err, topic.ErrNotMirrored):
		e.log.Debug().Str("conversation_id", string(conv)).Msg("Conversation not mirrored, nothing to rename")
	case err != nil:
		e.log.Warn().Err(err).Str("conversation_id", string(conv)).Msg("Failed to rename thread")
	}
}
