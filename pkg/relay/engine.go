// Copyright 2024-2026 Aiku AI

// Package relay translates and forwards messages between the source
// network and the destination threads mirroring it.
//
// Each event is handled as a short pipeline on its conversation's lane:
// events of one conversation are relayed in arrival order, different
// conversations run in parallel. A failed message is logged and counted and
// never stops the engine.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/wa-mattermost-relay/pkg/bridge"
	"github.com/aiku/wa-mattermost-relay/pkg/mapping"
	"github.com/aiku/wa-mattermost-relay/pkg/media"
	"github.com/aiku/wa-mattermost-relay/pkg/presence"
	"github.com/aiku/wa-mattermost-relay/pkg/schedule"
	"github.com/aiku/wa-mattermost-relay/pkg/topic"
)

const (
	taskTimeout          = 5 * time.Minute
	defaultShutdownGrace = 10 * time.Second
)

// Features switches optional behavior.
type Features struct {
	ReadReceipts  bool
	Presence      bool
	CallLogs      bool
	StatusUpdates bool
	Reactions     bool
	// OutgoingSideEffects enables read receipts for messages sent by the
	// mirrored account itself.
	OutgoingSideEffects bool
}

// DefaultFeatures enables everything except outgoing side effects.
func DefaultFeatures() Features {
	return Features{
		ReadReceipts:  true,
		Presence:      true,
		CallLogs:      true,
		StatusUpdates: true,
		Reactions:     true,
	}
}

// Options wires an Engine to its collaborators.
type Options struct {
	Store       *mapping.Store
	Router      *topic.Router
	Source      bridge.SourceClient
	Destination bridge.DestinationClient
	Media       *media.Pipeline
	Presence    *presence.Coordinator
	HTTPClient  *http.Client
	Features    Features

	// LogThread receives connection notices. Empty disables them.
	LogThread bridge.ThreadID

	CallDedupWindow time.Duration
	// StatusRefTTL bounds how long a relayed status post can be replied to
	// and how long a relayed message can be quoted into its discussion.
	StatusRefTTL time.Duration
	// ShutdownGrace is how long Run waits for queued events after the
	// clients stop before canceling the tasks still running.
	ShutdownGrace time.Duration
}

// Engine is the relay engine. It implements both event sinks.
type Engine struct {
	store    *mapping.Store
	router   *topic.Router
	src      bridge.SourceClient
	dest     bridge.DestinationClient
	media    *media.Pipeline
	presence *presence.Coordinator
	client   *http.Client
	features Features
	logTh    bridge.ThreadID

	callWindow time.Duration
	calls      *schedule.Timers[string]
	statusRefs *refCache[bridge.MessageKey]
	// replyRoots maps conversation|source message ID to the root post of
	// the destination discussion the message belongs to.
	replyRoots *refCache[string]
	lanes      *lanes

	grace       time.Duration
	tasks       context.Context
	cancelTasks context.CancelFunc

	log zerolog.Logger
	now func() time.Time
}

var (
	_ bridge.SourceEventSink      = (*Engine)(nil)
	_ bridge.DestinationEventSink = (*Engine)(nil)
)

// New creates an engine.
func New(opts Options, log zerolog.Logger) (*Engine, error) {
	if opts.Store == nil || opts.Router == nil || opts.Source == nil || opts.Destination == nil || opts.Media == nil {
		return nil, errors.New("relay engine requires a store, router, media pipeline and both clients")
	}
	if opts.CallDedupWindow <= 0 {
		opts.CallDedupWindow = 30 * time.Second
	}
	if opts.StatusRefTTL <= 0 {
		opts.StatusRefTTL = 7 * 24 * time.Hour
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = defaultShutdownGrace
	}
	refs, err := newRefCache[bridge.MessageKey]("status reply", opts.StatusRefTTL, maxRefs)
	if err != nil {
		return nil, err
	}
	roots, err := newRefCache[string]("reply root", opts.StatusRefTTL, maxRefs)
	if err != nil {
		refs.close()
		return nil, err
	}
	tasks, cancelTasks := context.WithCancel(context.Background())
	log = log.With().Str("component", "relay").Logger()
	return &Engine{
		store:      opts.Store,
		router:     opts.Router,
		src:        opts.Source,
		dest:       opts.Destination,
		media:      opts.Media,
		presence:   opts.Presence,
		client:     opts.HTTPClient,
		features:   opts.Features,
		logTh:      opts.LogThread,
		callWindow: opts.CallDedupWindow,
		calls:      schedule.New[string](),
		statusRefs: refs,
		replyRoots: roots,
		lanes:      newLanes(log),
		log:        log,
		now:        time.Now,

		grace:       opts.ShutdownGrace,
		tasks:       tasks,
		cancelTasks: cancelTasks,
	}, nil
}

// Run drives both event flows until ctx is done or one client fails.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := e.src.Run(ctx, e); err != nil {
			return fmt.Errorf("source client stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := e.dest.Run(ctx, e); err != nil {
			return fmt.Errorf("destination client stopped: %w", err)
		}
		return nil
	})
	err := g.Wait()
	e.drain()
	return err
}

// drain waits for queued events. Tasks still running once the shutdown grace
// period is over have their contexts canceled so they fail fast.
func (e *Engine) drain() {
	done := make(chan struct{})
	go func() {
		e.lanes.wait()
		close(done)
	}()
	select {
	case <-done:
		return
	case <-time.After(e.grace):
	}
	e.log.Warn().
		Int("active_lanes", e.lanes.active()).
		Dur("grace", e.grace).
		Msg("Canceling relay tasks still running after shutdown grace period")
	e.cancelTasks()
	<-done
}

// Close cancels running tasks and pending timers and releases the reference
// caches. Call it after Run has returned.
func (e *Engine) Close(ctx context.Context) {
	e.cancelTasks()
	e.calls.Stop()
	if e.presence != nil {
		e.presence.Close(ctx)
	}
	e.statusRefs.close()
	e.replyRoots.close()
}

// Wait blocks until every queued event has been handled.
func (e *Engine) Wait() {
	e.lanes.wait()
}

// HandleSourceEvent queues evt on its conversation's lane.
func (e *Engine) HandleSourceEvent(ctx context.Context, evt bridge.SourceEvent) {
	var key string
	var handle func(context.Context)
	switch evt := evt.(type) {
	case *bridge.SourceMessage:
		key = "src:" + string(evt.Key.Conversation)
		handle = func(ctx context.Context) { e.handleSourceMessage(ctx, evt) }
	case *bridge.CallOffer:
		key = "src:" + string(bridge.CallConversation)
		handle = func(ctx context.Context) { e.handleCallOffer(ctx, evt) }
	case *bridge.ConnectionState:
		key = "src:connection"
		handle = func(ctx context.Context) { e.handleConnectionState(ctx, evt) }
	case *bridge.ContactUpdate:
		key = "src:" + string(bridge.DirectConversation(evt.UserID))
		handle = func(ctx context.Context) { e.handleContactUpdate(ctx, evt) }
	case *bridge.ConversationRenamed:
		key = "src:" + string(evt.Conversation)
		handle = func(ctx context.Context) { e.handleConversationRenamed(ctx, evt) }
	default:
		e.log.Warn().Type("event_type", evt).Msg("Unhandled source event")
		return
	}
	e.submit(ctx, key, handle)
}

// HandleDestinationEvent queues msg on its thread's lane.
func (e *Engine) HandleDestinationEvent(ctx context.Context, msg *bridge.DestinationMessage) {
	e.submit(ctx, "dst:"+string(msg.ThreadID), func(ctx context.Context) {
		e.handleDestinationMessage(ctx, msg)
	})
}

// submit queues handle on a lane. The task outlives the delivering context
// but is bounded by taskTimeout and canceled when the engine shuts down.
func (e *Engine) submit(ctx context.Context, key string, handle func(context.Context)) {
	detached := context.WithoutCancel(ctx)
	e.lanes.submit(key, func() {
		ctx, cancel := context.WithTimeout(detached, taskTimeout)
		defer cancel()
		stop := context.AfterFunc(e.tasks, cancel)
		defer stop()
		handle(ctx)
	})
}
