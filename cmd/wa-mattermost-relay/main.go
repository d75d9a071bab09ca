// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command wa-mattermost-relay mirrors a WhatsApp account into Mattermost.
// Every WhatsApp conversation gets its own channel, and replies typed in
// those channels are sent back to WhatsApp through the RabbitMQ gateway.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/aiku/wa-mattermost-relay/pkg/config"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:    "wa-mattermost-relay",
		Usage:   "Relay WhatsApp conversations into Mattermost channels",
		Version: fmt.Sprintf("%s (commit %s, built %s)", Tag, Commit, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Sources: cli.EnvVars("WA_RELAY_CONFIG"),
				Usage:   "Path to the YAML config file",
				Value:   "config.yaml",
			},
			&cli.BoolFlag{
				Name:  "no-update",
				Usage: "Do not write the merged config back to disk",
			},
		},
		DefaultCommand: "run",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run the relay until interrupted",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return run(ctx, cmd.String("config"), !cmd.Bool("no-update"))
				},
			},
			{
				Name:  "example-config",
				Usage: "Print the example config",
				Action: func(_ context.Context, cmd *cli.Command) error {
					_, err := fmt.Fprint(cmd.Root().Writer, config.ExampleConfig)
					return err
				},
			},
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
