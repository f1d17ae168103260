// Command termclient is a minimal interactive reference Client: it
// connects to a Relay, lets the operator start a session and type
// input, and renders output through the terminal adapter's
// replace-or-append buffer. Not a product surface — a worked example
// of a conforming Client.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/pocketclaude/pocketclaude/client"
	"github.com/pocketclaude/pocketclaude/client/terminal"
	"github.com/pocketclaude/pocketclaude/wire"
)

func main() {
	var relayURL, token, projectID string
	flagSet := pflag.NewFlagSet("pocketclaude-termclient", pflag.ContinueOnError)
	flagSet.StringVar(&relayURL, "relay-url", envOr("RELAY_URL", "ws://localhost:8080/connect"), "Relay WebSocket URL")
	flagSet.StringVar(&token, "token", os.Getenv("RELAY_TOKEN"), "shared bearer token")
	flagSet.StringVar(&projectID, "project", "", "project ID to start a session for (empty = quick session)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if token == "" {
		fmt.Fprintln(os.Stderr, "error: --token or RELAY_TOKEN must be set")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	c := client.Dial(ctx, relayURL, token)

	var sessionID string
	buf := terminal.NewBuffer()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-c.Events():
				if !ok {
					return
				}
				handleEvent(env, buf, &sessionID)
			}
		}
	}()

	if err := c.Send(ctx, wire.CommandPayload{Command: wire.CommandStartSession, ProjectID: projectID}); err != nil {
		fmt.Fprintf(os.Stderr, "start_session failed: %v\n", err)
		return
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if sessionID == "" {
			fmt.Fprintln(os.Stderr, "no active session yet")
			continue
		}
		c.Send(ctx, wire.CommandPayload{Command: wire.CommandSendInput, SessionID: sessionID, Input: line})
	}
}

func handleEvent(env wire.Envelope, buf *terminal.Buffer, sessionID *string) {
	switch env.Type {
	case wire.TypeOutput:
		var out wire.OutputPayload
		env.Decode(&out)
		buf.Write(out.Data)
		fmt.Print(out.Data)
	case wire.TypeStatus:
		var status wire.StatusPayload
		env.Decode(&status)
		if status.Status == wire.StatusSessionStarted && status.SessionID != "" {
			*sessionID = status.SessionID
		}
		fmt.Fprintf(os.Stderr, "\n[status] %s\n", status.Status)
	case wire.TypeError:
		var errPayload wire.ErrorPayload
		env.Decode(&errPayload)
		fmt.Fprintf(os.Stderr, "\n[error] %s: %s\n", errPayload.Code, errPayload.Message)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
