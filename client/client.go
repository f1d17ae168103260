// Package client is a reference implementation of the Client side of
// the overlay: authenticate with role "client", send commands, and
// receive the output/status/error stream, reconnecting with backoff.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pocketclaude/pocketclaude/internal/logging"
	"github.com/pocketclaude/pocketclaude/wire"
)

var log = logging.For("client")

const (
	backoffBase = 1 * time.Second
	backoffCap  = 30 * time.Second
)

// Client holds a Relay connection and exposes channels of outbound
// commands and inbound events. A single Client serves one logical
// session with the Relay, reconnecting transparently on disruption.
type Client struct {
	url   string
	token string

	commands chan wire.Envelope
	events   chan wire.Envelope

	mu            sync.Mutex
	agentConnected bool
}

// Dial creates a Client targeting relayURL, authenticating with
// token, and starts its connection loop in the background. Call
// Commands() to send and Events() to receive.
func Dial(ctx context.Context, relayURL, token string) *Client {
	c := &Client{
		url:      relayURL,
		token:    token,
		commands: make(chan wire.Envelope, 64),
		events:   make(chan wire.Envelope, 64),
	}
	go c.run(ctx)
	return c
}

// Commands returns the channel to send command envelopes on.
func (c *Client) Commands() chan<- wire.Envelope { return c.commands }

// Send builds and queues a command envelope. Convenience wrapper over
// Commands() for the common case of sending a single command.
func (c *Client) Send(ctx context.Context, cmd wire.CommandPayload) error {
	env, err := wire.New(wire.TypeCommand, cmd.SessionID, cmd)
	if err != nil {
		return err
	}
	select {
	case c.commands <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the channel of output/status/error envelopes
// received from the Relay.
func (c *Client) Events() <-chan wire.Envelope { return c.events }

// AgentConnected reports the last known agent-connected state, as
// tracked from broadcast status{connected}/status{disconnected}
// messages. Per §4.3, no Client is authoritative over this — it is a
// best-effort cache.
func (c *Client) AgentConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentConnected
}

func (c *Client) setAgentConnected(v bool) {
	c.mu.Lock()
	c.agentConnected = v
	c.mu.Unlock()
}

// trackAgentConnected updates the cached agent-connected flag from a
// status envelope, distinguishing the two distinct reasons a
// status{connected} can arrive on this wire (§4.1): the per-peer
// post-auth ack (wire.ConnectedData, carrying this Client's own
// agentConnected snapshot) versus the Agent-bind/release broadcast to
// every Client (wire.AgentStatusData, carrying a reason). Only the
// field that actually says so moves the flag.
func (c *Client) trackAgentConnected(reply wire.Envelope) {
	var raw struct {
		Status wire.StatusKind `json:"status"`
		Data   json.RawMessage `json:"data,omitempty"`
	}
	if err := reply.Decode(&raw); err != nil || len(raw.Data) == 0 {
		return
	}

	var connected wire.ConnectedData
	if json.Unmarshal(raw.Data, &connected) == nil && connected.Role != "" {
		c.setAgentConnected(connected.AgentConnected)
		return
	}

	var agentStatus wire.AgentStatusData
	if json.Unmarshal(raw.Data, &agentStatus) == nil {
		switch agentStatus.Reason {
		case wire.ReasonAgentConnected:
			c.setAgentConnected(true)
		case wire.ReasonAgentDisconnected:
			c.setAgentConnected(false)
		}
	}
}

func (c *Client) run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.runOnce(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("client connection lost")
		}
		if ctx.Err() != nil {
			return
		}

		delay := nextBackoff(attempt)
		attempt++
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func nextBackoff(attempt int) time.Duration {
	d := backoffBase << attempt
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}
	jitter := float64(d) * (0.1 * (2*rand.Float64() - 1))
	return time.Duration(float64(d) + jitter)
}

func (c *Client) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close()

	env, err := wire.New(wire.TypeAuth, "", wire.AuthPayload{Token: c.token, Role: wire.RoleClient})
	if err != nil {
		return err
	}
	if err := writeEnvelope(conn, env); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx, conn)

	for {
		reply, err := readEnvelope(conn)
		if err != nil {
			return err
		}

		if reply.Type == wire.TypeStatus {
			c.trackAgentConnected(reply)
		}

		select {
		case c.events <- reply:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.commands:
			if err := writeEnvelope(conn, env); err != nil {
				log.Debug().Err(err).Msg("write command failed")
				return
			}
		}
	}
}

func writeEnvelope(conn *websocket.Conn, env wire.Envelope) error {
	env.Timestamp = wire.Now()
	return conn.WriteJSON(env)
}

func readEnvelope(conn *websocket.Conn) (wire.Envelope, error) {
	var env wire.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		return wire.Envelope{}, err
	}
	return env, nil
}
