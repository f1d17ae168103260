package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/pocketclaude/pocketclaude/config"
	"github.com/pocketclaude/pocketclaude/history"
	"github.com/pocketclaude/pocketclaude/internal/logging"
	"github.com/pocketclaude/pocketclaude/project"
	"github.com/pocketclaude/pocketclaude/session"
	"github.com/pocketclaude/pocketclaude/uplink"
)

func main() {
	var cfg config.Agent
	flagSet := pflag.NewFlagSet("pocketclaude-agent", pflag.ContinueOnError)
	cfg.AddFlags(flagSet)
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	log := logging.For("agent.main")

	if cfg.Token == "" {
		log.Fatal().Msg("RELAY_TOKEN (or --token) must be set")
	}

	catalog, err := project.Load(cfg.ProjectsPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.ProjectsPath).Msg("failed to load project catalog")
	}

	store := history.NewStore(cfg.HistoryDir)

	// uplinkClient is assigned once, below, before Run starts — the
	// Manager's callbacks only ever fire in response to commands that
	// arrive over that same connection, so this forward reference is
	// always populated by the time it's used.
	var uplinkClient *uplink.Client

	mgr := session.NewManager(session.Config{
		Catalog:    catalog,
		History:    store,
		QuickHome:  cfg.QuickHome,
		LaunchCmd:  cfg.LaunchCommand,
		DoubleTap:  cfg.DoubleTapSubmit,
		TapDelay:   100 * time.Millisecond,
		StartDelay: 500 * time.Millisecond,
		OnOutput: func(sessionID string, data []byte) {
			if uplinkClient != nil {
				uplinkClient.SendOutput(sessionID, data)
			}
		},
		OnClosed: func(sessionID string) {
			if uplinkClient != nil {
				uplinkClient.SendClosed(sessionID)
			}
		},
	})
	defer mgr.Shutdown()

	dispatcher := uplink.NewDispatcher(mgr, catalog, store)
	uplinkClient = uplink.New(cfg.RelayURL, cfg.Token, dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("signal received, shutting down")
		cancel()
	}()

	log.Info().Str("relayUrl", cfg.RelayURL).Msg("agent starting")
	uplinkClient.Run(ctx)
}
