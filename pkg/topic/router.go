// Copyright 2024-2026 Aiku AI

// Package topic maps source conversations onto destination threads,
// creating each thread exactly once.
package topic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/aiku/wa-mattermost-relay/pkg/bridge"
	"github.com/aiku/wa-mattermost-relay/pkg/keylock"
	"github.com/aiku/wa-mattermost-relay/pkg/mapping"
	"github.com/aiku/wa-mattermost-relay/pkg/media"
)

// ErrResolutionFailed wraps every error that prevented a thread from being
// created. Nothing is cached on failure.
var ErrResolutionFailed = errors.New("topic resolution failed")

// ErrNotMirrored is returned for conversations or threads with no mapping.
var ErrNotMirrored = errors.New("conversation is not mirrored")

const (
	statusDisplayName = "📊 Status Updates"
	callDisplayName   = "📞 Call Logs"

	defaultChannelPrefix = "wa"
	maxChannelName       = 64
	dateLayout           = "2006-01-02"
)

var threadsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wa_relay_threads_created_total",
	Help: "Destination threads created, by conversation kind.",
}, []string{"kind"})

// Hints carries what the triggering event already knows about the
// conversation.
type Hints struct {
	// Kind is the classification computed when the event entered the engine.
	Kind bridge.ConversationKind
	// Name is the sender's push name (direct) or the group subject.
	Name string
}

// Options configures a Router.
type Options struct {
	Store       *mapping.Store
	Source      bridge.SourceClient
	Destination bridge.DestinationClient
	// Media relays profile pictures of new threads. Nil disables them.
	Media      *media.Pipeline
	HTTPClient *http.Client
	// ChannelPrefix prefixes every destination channel name.
	ChannelPrefix string
}

// Router resolves conversations to threads.
type Router struct {
	store  *mapping.Store
	src    bridge.SourceClient
	dest   bridge.DestinationClient
	media  *media.Pipeline
	client *http.Client
	prefix string
	locks  *keylock.Map[bridge.ConversationID]
	log    zerolog.Logger

	now func() time.Time
}

// New creates a router.
func New(opts Options, log zerolog.Logger) *Router {
	prefix := opts.ChannelPrefix
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Router{
		store:  opts.Store,
		src:    opts.Source,
		dest:   opts.Destination,
		media:  opts.Media,
		client: client,
		prefix: prefix,
		locks:  &keylock.Map[bridge.ConversationID]{},
		log:    log.With().Str("component", "topic").Logger(),
		now:    time.Now,
	}
}

// Resolve returns the thread mirroring conv, creating it on first use.
// Concurrent callers for the same conversation all observe one thread.
func (r *Router) Resolve(ctx context.Context, conv bridge.ConversationID, hints Hints) (bridge.ThreadID, error) {
	if m, ok := r.store.Chat(conv); ok {
		return m.ThreadID, nil
	}

	unlock := r.locks.Lock(conv)
	if m, ok := r.store.Chat(conv); ok {
		unlock()
		return m.ThreadID, nil
	}
	thread, err := r.create(ctx, conv, hints)
	unlock()
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrResolutionFailed, conv, err)
	}

	if r.media != nil && !hints.Kind.IsBroadcast() {
		r.relayProfilePicture(ctx, conv, thread)
	}
	return thread, nil
}

// Conversation is the reverse lookup from a thread to its conversation.
func (r *Router) Conversation(thread bridge.ThreadID) (bridge.ConversationID, error) {
	m, ok := r.store.FindConversationByThread(thread)
	if !ok {
		return "", fmt.Errorf("%w: thread %s", ErrNotMirrored, thread)
	}
	return m.ConversationID, nil
}

// Rename changes the display name of the thread mirroring conv.
func (r *Router) Rename(ctx context.Context, conv bridge.ConversationID, name string) error {
	m, ok := r.store.Chat(conv)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotMirrored, conv)
	}
	if err := r.dest.RenameThread(ctx, m.ThreadID, name); err != nil {
		return fmt.Errorf("failed to rename thread %s: %w", m.ThreadID, err)
	}
	r.log.Debug().
		Str("conversation_id", string(conv)).
		Str("thread_id", string(m.ThreadID)).
		Str("name", name).
		Msg("Renamed thread")
	return nil
}

// create runs with the conversation's lock held.
func (r *Router) create(ctx context.Context, conv bridge.ConversationID, hints Hints) (bridge.ThreadID, error) {
	log := r.log.With().
		Str("conversation_id", string(conv)).
		Stringer("kind", hints.Kind).
		Logger()

	w := r.welcome(ctx, conv, hints)
	thread, err := r.dest.CreateThread(ctx, bridge.ThreadSpec{
		Conversation: conv,
		Kind:         hints.Kind,
		Name:         ChannelName(r.prefix, conv, hints.Kind),
		DisplayName:  w.displayName,
		Purpose:      w.purpose,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create thread: %w", err)
	}

	now := r.now()
	err = r.store.Chats.Upsert(ctx, mapping.ChatMapping{
		ConversationID: conv,
		ThreadID:       thread,
		CreatedAt:      now,
		LastActivity:   now,
	})
	if err != nil {
		return "", fmt.Errorf("failed to save mapping for thread %s: %w", thread, err)
	}
	threadsCreated.WithLabelValues(hints.Kind.String()).Inc()
	log.Info().Str("thread_id", string(thread)).Msg("Created thread")

	if w.text != "" {
		if _, err = r.dest.SendText(ctx, thread, w.text); err != nil {
			log.Warn().Err(err).Msg("Failed to send welcome message")
		}
	}
	return thread, nil
}

type welcome struct {
	displayName string
	purpose     string
	text        string
}

func (r *Router) welcome(ctx context.Context, conv bridge.ConversationID, hints Hints) welcome {
	switch hints.Kind {
	case bridge.KindStatus:
		return welcome{displayName: statusDisplayName, purpose: "WhatsApp status updates"}
	case bridge.KindCall:
		return welcome{displayName: callDisplayName, purpose: "WhatsApp call log"}
	case bridge.KindGroup:
		return r.groupWelcome(ctx, conv, hints)
	default:
		return r.directWelcome(conv, hints)
	}
}

func (r *Router) groupWelcome(ctx context.Context, conv bridge.ConversationID, hints Hints) welcome {
	name := hints.Name
	var info bridge.ConversationInfo
	if got, err := r.src.GetConversationInfo(ctx, conv); err != nil {
		r.log.Warn().Err(err).Str("conversation_id", string(conv)).Msg("Failed to get group info")
	} else if got != nil {
		info = *got
		if info.Name != "" {
			name = info.Name
		}
	}
	if name == "" {
		name = "Group " + conv.LocalPart()
	}

	var sb strings.Builder
	sb.WriteString("👥 **Group Information**\n\n")
	fmt.Fprintf(&sb, "📝 **Name:** %s\n", name)
	if info.ParticipantCount > 0 {
		fmt.Fprintf(&sb, "👥 **Participants:** %d\n", info.ParticipantCount)
	}
	if !info.CreatedAt.IsZero() {
		fmt.Fprintf(&sb, "📅 **Created:** %s\n", info.CreatedAt.Format(dateLayout))
	}
	return welcome{
		displayName: name,
		purpose:     "WhatsApp group " + string(conv),
		text:        strings.TrimSuffix(sb.String(), "\n"),
	}
}

func (r *Router) directWelcome(conv bridge.ConversationID, hints Hints) welcome {
	userID := string(conv)
	handle := bridge.Handle(userID)
	name := r.store.DisplayName(userID, hints.Name)
	firstContact := r.now()
	if p, ok := r.store.Users.Get(userID); ok && !p.FirstSeen.IsZero() {
		firstContact = p.FirstSeen
	}
	text := fmt.Sprintf("👤 **Contact Information**\n\n"+
		"📝 **Name:** %s\n"+
		"📱 **Phone:** +%s\n"+
		"🖐 **First Contact:** %s",
		name, handle, firstContact.Format(dateLayout))
	return welcome{
		displayName: name,
		purpose:     "WhatsApp chat with +" + handle,
		text:        text,
	}
}

func (r *Router) relayProfilePicture(ctx context.Context, conv bridge.ConversationID, thread bridge.ThreadID) {
	log := r.log.With().Str("conversation_id", string(conv)).Logger()
	url, err := r.src.GetProfilePictureURL(ctx, conv)
	if err != nil {
		log.Debug().Err(err).Msg("No profile picture")
		return
	} else if url == "" {
		return
	}
	_, err = r.media.Transfer(ctx, media.Payload{
		Kind:     bridge.MessageImage,
		Open:     media.URLOpener(r.client, url),
		FileName: "profile.jpg",
		MimeType: "image/jpeg",
		Caption:  "🖼️ Profile picture",
	}, func(ctx context.Context, upload bridge.Upload) (string, error) {
		return r.dest.SendFile(ctx, thread, upload)
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to relay profile picture")
	}
}

// ChannelName builds the destination channel slug for conv: the prefix and
// the conversation's local part, lowercased, with anything outside
// [a-z0-9_-] replaced by '-', cut to 64 characters.
func ChannelName(prefix string, conv bridge.ConversationID, kind bridge.ConversationKind) string {
	local := conv.LocalPart()
	switch kind {
	case bridge.KindStatus:
		local = "status"
	case bridge.KindCall:
		local = "calls"
	}
	raw := strings.ToLower(prefix + "-" + local)
	var sb strings.Builder
	sb.Grow(len(raw))
	for _, c := range raw {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
			sb.WriteRune(c)
		default:
			sb.WriteByte('-')
		}
	}
	name := sb.String()
	if len(name) > maxChannelName {
		name = name[:maxChannelName]
	}
	return strings.Trim(name, "-_")
}
