// Copyright 2024-2026 Aiku AI

// Package presence coordinates chat-state and read-receipt signals sent to
// the source network.
//
// Composing signals are rate limited per conversation and automatically
// followed by a paused signal once activity stops. Read receipts are
// collected per conversation and flushed in one call after a debounce
// window. Signal failures are logged and never reach the caller.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/wa-mattermost-relay/pkg/bridge"
	"github.com/aiku/wa-mattermost-relay/pkg/schedule"
)

// Signaler is the subset of the source client used for presence.
type Signaler interface {
	SetPresence(ctx context.Context, state bridge.PresenceState, conv bridge.ConversationID) error
	MarkRead(ctx context.Context, keys []bridge.MessageKey) error
}

// Config holds the coordinator intervals.
type Config struct {
	ComposingInterval time.Duration
	PausedAfter       time.Duration
	ReadDebounce      time.Duration
	SignalTimeout     time.Duration
}

// DefaultConfig returns the standard intervals.
func DefaultConfig() Config {
	return Config{
		ComposingInterval: time.Second,
		PausedAfter:       3 * time.Second,
		ReadDebounce:      2 * time.Second,
		SignalTimeout:     10 * time.Second,
	}
}

// Coordinator owns the per-conversation presence timers and read batches.
type Coordinator struct {
	signaler Signaler
	cfg      Config
	log      zerolog.Logger

	mu            sync.Mutex
	lastComposing map[bridge.ConversationID]time.Time
	batches       map[bridge.ConversationID][]bridge.MessageKey

	pauseTimers *schedule.Timers[bridge.ConversationID]
	readTimers  *schedule.Timers[bridge.ConversationID]

	// inflight tracks composing signals sent in the background.
	inflight sync.WaitGroup
}

// New creates a coordinator. Zero intervals in cfg fall back to DefaultConfig.
func New(signaler Signaler, cfg Config, log zerolog.Logger) *Coordinator {
	def := DefaultConfig()
	if cfg.ComposingInterval <= 0 {
		cfg.ComposingInterval = def.ComposingInterval
	}
	if cfg.PausedAfter <= 0 {
		cfg.PausedAfter = def.PausedAfter
	}
	if cfg.ReadDebounce <= 0 {
		cfg.ReadDebounce = def.ReadDebounce
	}
	if cfg.SignalTimeout <= 0 {
		cfg.SignalTimeout = def.SignalTimeout
	}
	return &Coordinator{
		signaler:      signaler,
		cfg:           cfg,
		log:           log.With().Str("component", "presence").Logger(),
		lastComposing: make(map[bridge.ConversationID]time.Time),
		batches:       make(map[bridge.ConversationID][]bridge.MessageKey),
		pauseTimers:   schedule.New[bridge.ConversationID](),
		readTimers:    schedule.New[bridge.ConversationID](),
	}
}

// Composing signals that a message is about to be sent to conv. At most one
// composing signal goes out per ComposingInterval; every call re-arms the
// paused timer for the conversation. The signal is sent in the background,
// so Composing never waits on the source network.
func (c *Coordinator) Composing(ctx context.Context, conv bridge.ConversationID) {
	c.mu.Lock()
	now := time.Now()
	last, seen := c.lastComposing[conv]
	send := !seen || now.Sub(last) >= c.cfg.ComposingInterval
	if send {
		c.lastComposing[conv] = now
	}
	c.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	if send {
		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()
			c.signal(detached, bridge.PresenceComposing, conv)
		}()
	}

	c.pauseTimers.Schedule(conv, c.cfg.PausedAfter, func() {
		c.mu.Lock()
		delete(c.lastComposing, conv)
		c.mu.Unlock()
		c.signal(detached, bridge.PresencePaused, conv)
	})
}

func (c *Coordinator) signal(ctx context.Context, state bridge.PresenceState, conv bridge.ConversationID) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SignalTimeout)
	defer cancel()
	if err := c.signaler.SetPresence(ctx, state, conv); err != nil {
		c.log.Warn().Err(err).
			Str("conversation_id", string(conv)).
			Str("state", string(state)).
			Msg("Failed to send presence")
	}
}

// QueueRead adds key to its conversation's pending batch and restarts the
// debounce window.
func (c *Coordinator) QueueRead(ctx context.Context, key bridge.MessageKey) {
	conv := key.Conversation
	c.mu.Lock()
	c.batches[conv] = append(c.batches[conv], key)
	c.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	c.readTimers.Schedule(conv, c.cfg.ReadDebounce, func() {
		c.flush(detached, conv)
	})
}

// PendingReads returns the number of keys waiting in conv's batch.
func (c *Coordinator) PendingReads(conv bridge.ConversationID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches[conv])
}

func (c *Coordinator) flush(ctx context.Context, conv bridge.ConversationID) {
	c.mu.Lock()
	keys := c.batches[conv]
	delete(c.batches, conv)
	c.mu.Unlock()
	if len(keys) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.SignalTimeout)
	defer cancel()
	if err := c.signaler.MarkRead(ctx, keys); err != nil {
		c.log.Warn().Err(err).
			Str("conversation_id", string(conv)).
			Int("count", len(keys)).
			Msg("Failed to send read receipts")
		return
	}
	c.log.Debug().
		Str("conversation_id", string(conv)).
		Int("count", len(keys)).
		Msg("Sent read receipts")
}

// Close cancels pending presence timers, waits for composing signals in
// flight and flushes queued read receipts.
func (c *Coordinator) Close(ctx context.Context) {
	c.pauseTimers.Stop()
	c.readTimers.Stop()
	c.inflight.Wait()

	c.mu.Lock()
	convs := make([]bridge.ConversationID, 0, len(c.batches))
	for conv := range c.batches {
		convs = append(convs, conv)
	}
	c.mu.Unlock()
	for _, conv := range convs {
		c.flush(ctx, conv)
	}
}
