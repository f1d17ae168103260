package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/pocketclaude/pocketclaude/config"
	"github.com/pocketclaude/pocketclaude/internal/logging"
	"github.com/pocketclaude/pocketclaude/relay"
)

func main() {
	var cfg config.Relay
	flagSet := pflag.NewFlagSet("pocketclaude-relay", pflag.ContinueOnError)
	cfg.AddFlags(flagSet)
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	log := logging.For("relay.main")

	if cfg.Token == "" {
		log.Fatal().Msg("RELAY_TOKEN (or --token) must be set")
	}

	hub := relay.NewHub()
	srv := relay.NewServer(relay.Config{Addr: cfg.Addr, Token: cfg.Token}, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("signal received, shutting down")
		cancel()
	}()

	if err := srv.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("relay stopped with error")
	}
}
