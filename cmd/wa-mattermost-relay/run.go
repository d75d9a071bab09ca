// Copyright 2024-2026 Aiku AI

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/wa-mattermost-relay/pkg/admin"
	"github.com/aiku/wa-mattermost-relay/pkg/config"
	"github.com/aiku/wa-mattermost-relay/pkg/gateway"
	"github.com/aiku/wa-mattermost-relay/pkg/mapping"
	"github.com/aiku/wa-mattermost-relay/pkg/mattermost"
	"github.com/aiku/wa-mattermost-relay/pkg/media"
	"github.com/aiku/wa-mattermost-relay/pkg/presence"
	"github.com/aiku/wa-mattermost-relay/pkg/relay"
	"github.com/aiku/wa-mattermost-relay/pkg/topic"

	// Storage backends register themselves.
	_ "github.com/aiku/wa-mattermost-relay/pkg/mapping/dynamostore"
	_ "github.com/aiku/wa-mattermost-relay/pkg/mapping/mongostore"
	_ "github.com/aiku/wa-mattermost-relay/pkg/mapping/redisstore"
	_ "github.com/aiku/wa-mattermost-relay/pkg/mapping/sqlitestore"
)

const shutdownTimeout = 10 * time.Second

// run loads the config and relays until ctx is done. An incomplete config
// is reported once and is not an error.
func run(ctx context.Context, configPath string, save bool) error {
	bootLog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load(configPath, save)
	if errors.Is(err, config.ErrConfigurationMissing) {
		bootLog.Warn().Err(err).Msg("Relay not started")
		return nil
	} else if err != nil {
		return err
	}
	logPtr, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	log := *logPtr

	if cfg.HasSecretParams() {
		ssmClient, err := config.NewSSMClient(ctx, cfg.SSM.Region)
		if err != nil {
			return err
		}
		if err = cfg.ResolveSecrets(ctx, ssmClient, log); err != nil {
			return err
		}
	}
	if err = cfg.Validate(); errors.Is(err, config.ErrConfigurationMissing) {
		log.Warn().Err(err).Msg("Relay not started, fill in the config and restart")
		return nil
	} else if err != nil {
		return err
	}

	backend, err := mapping.OpenBackend(ctx, cfg.Storage.Backend, cfg.BackendConfig())
	if err != nil {
		return err
	}
	store := mapping.New(backend, log)
	store.SetPutTimeout(cfg.Storage.PutTimeout)
	if err = store.Initialize(ctx); err != nil {
		_ = backend.Close(ctx)
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to close storage")
		}
	}()

	mm := mattermost.New(cfg.MattermostClientConfig(), log)
	if err = mm.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to Mattermost: %w", err)
	}

	gw, err := gateway.NewClient(ctx, cfg.GatewayClientConfig(), log)
	if err != nil {
		return fmt.Errorf("failed to connect to the gateway: %w", err)
	}
	defer gw.Close()
	src := gateway.NewSource(gw, log)

	pipeline, err := media.New(cfg.MediaConfig(), media.FFmpeg{}, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := pipeline.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to clean media temp dir")
		}
	}()

	engine, err := relay.New(relay.Options{
		Store: store,
		Router: topic.New(topic.Options{
			Store:         store,
			Source:        src,
			Destination:   mm,
			Media:         pipeline,
			ChannelPrefix: cfg.Mattermost.ChannelPrefix,
		}, log),
		Source:          src,
		Destination:     mm,
		Media:           pipeline,
		Presence:        presence.New(src, cfg.PresenceConfig(), log),
		Features:        cfg.RelayFeatures(),
		LogThread:       cfg.LogThread(),
		CallDedupWindow: cfg.Relay.CallDedupWindow,
		StatusRefTTL:    cfg.Relay.StatusReplyTTL,
		ShutdownGrace:   cfg.Relay.ShutdownGrace,
	}, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		engine.Close(closeCtx)
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(ctx) })
	if cfg.Admin.ListenAddr != "" {
		srv := admin.New(admin.Options{
			Addr:  cfg.Admin.ListenAddr,
			Store: store,
			Checks: map[string]admin.HealthCheck{
				"gateway": gw.Healthy,
			},
		}, log)
		g.Go(func() error { return srv.Run(ctx) })
	}

	log.Info().
		Str("storage", cfg.Storage.Backend).
		Str("team_id", cfg.Mattermost.TeamID).
		Str("mattermost_user_id", mm.UserID()).
		Msg("Relay started")
	err = g.Wait()
	log.Info().Msg("Relay stopped")
	return err
}
