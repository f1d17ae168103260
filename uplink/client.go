// Package uplink implements the Agent's side of the Relay connection:
// dial, authenticate, reconnect with backoff, and pump command
// envelopes through a Dispatcher while streaming session output back.
package uplink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/pocketclaude/pocketclaude/internal/logging"
	"github.com/pocketclaude/pocketclaude/wire"
)

var log = logging.For("agent.uplink")

// pingStaleTimeout mirrors the Relay's own heartbeat policy: if the
// Agent receives no envelope from the Relay for this long, it pings the
// Relay, and if no pong comes back within stalePingTimeout it treats
// the link as dead and reconnects rather than waiting for the
// underlying TCP connection to notice.
const (
	pingStaleTimeout = 60 * time.Second
	stalePingTimeout = 10 * time.Second
)

// Client manages the Agent's persistent uplink to a Relay: connect,
// authenticate, and run until the context is cancelled, reconnecting
// with backoff on every disruption.
type Client struct {
	relayURL string
	token    string
	dispatch *Dispatcher

	mu    sync.Mutex
	state State
	conn  *websocket.Conn
}

// New creates an uplink Client for the given Relay URL and bearer
// token, dispatching commands through d.
func New(relayURL, token string, d *Dispatcher) *Client {
	return &Client{relayURL: relayURL, token: token, dispatch: d, state: StateDisconnected}
}

// State returns the Client's current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run connects to the Relay and serves the uplink until ctx is
// cancelled, reconnecting with exponential backoff between attempts.
// It never returns until ctx is done.
func (c *Client) Run(ctx context.Context) {
	var b backoff

	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}

		softFail, err := c.runOnce(ctx, &b)
		c.setState(StateDisconnected)

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn().Err(err).Msg("uplink disconnected")
		}

		if softFail {
			b.penalize()
		}
		delay := b.next()
		log.Info().Dur("delay", delay).Msg("reconnecting")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// runOnce performs a single connect-authenticate-serve cycle. The
// returned bool reports whether the failure was the AGENT_EXISTS soft
// failure, which backs off harder than an ordinary disconnect.
func (c *Client) runOnce(ctx context.Context, b *backoff) (bool, error) {
	c.setState(StateConnecting)

	conn, _, err := websocket.Dial(ctx, c.relayURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.setState(StateAuthenticating)
	softFail, err := c.authenticate(ctx, conn)
	if err != nil {
		return softFail, err
	}

	c.setState(StateAuthenticated)
	b.reset()
	log.Info().Msg("uplink authenticated")

	return c.serve(ctx, conn)
}

func (c *Client) authenticate(ctx context.Context, conn *websocket.Conn) (bool, error) {
	env, err := wire.New(wire.TypeAuth, "", wire.AuthPayload{Token: c.token, Role: wire.RoleAgent})
	if err != nil {
		return false, err
	}
	if err := wire.WriteEnvelope(ctx, conn, env); err != nil {
		return false, fmt.Errorf("send auth: %w", err)
	}

	reply, err := wire.ReadEnvelope(ctx, conn)
	if err != nil {
		return false, fmt.Errorf("read auth reply: %w", err)
	}

	if reply.Type == wire.TypeError {
		var errPayload wire.ErrorPayload
		reply.Decode(&errPayload)
		return errPayload.Code == wire.ErrAgentExists, fmt.Errorf("auth rejected: %s", errPayload.Code)
	}
	return false, nil
}

// serve pumps incoming command envelopes through the Dispatcher and
// writes the resulting envelopes back, until the connection fails or
// ctx is cancelled. It also watches for the Relay going silent past
// pingStaleTimeout.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lastSeen := make(chan struct{}, 1)
	touch := func() {
		select {
		case lastSeen <- struct{}{}:
		default:
		}
	}

	go c.watchStale(ctx, conn, lastSeen)

	for {
		env, err := wire.ReadEnvelope(ctx, conn)
		if err != nil {
			var malformed *wire.MalformedEnvelopeError
			if errors.As(err, &malformed) {
				touch()
				c.sendInvalidJSON(ctx, conn, malformed.Error())
				continue
			}
			return false, err
		}
		touch()

		if env.Type != wire.TypeCommand {
			continue
		}

		for _, out := range c.dispatch.Dispatch(env) {
			if err := wire.WriteEnvelope(ctx, conn, out); err != nil {
				return false, fmt.Errorf("write response: %w", err)
			}
		}
	}
}

// watchStale force-closes conn if no envelope has been observed for
// pingStaleTimeout and a ping sent then gets no pong within
// stalePingTimeout, unblocking serve's ReadEnvelope call.
func (c *Client) watchStale(ctx context.Context, conn *websocket.Conn, lastSeen <-chan struct{}) {
	timer := time.NewTimer(pingStaleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-lastSeen:
			timer.Reset(pingStaleTimeout)
		case <-timer.C:
			// Relay pings are answered inside conn.Read and never reach
			// serve, so an idle link is probed before it is dropped.
			pingCtx, pingCancel := context.WithTimeout(ctx, stalePingTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err == nil {
				timer.Reset(pingStaleTimeout)
				continue
			}
			log.Warn().Err(err).Msg("relay silent past stale timeout, forcing reconnect")
			conn.Close(websocket.StatusPolicyViolation, "stale connection")
			return
		}
	}
}

// sendInvalidJSON replies to a malformed frame from the Relay without
// dropping the connection, per the routing rules' bad-wire-frame case.
func (c *Client) sendInvalidJSON(ctx context.Context, conn *websocket.Conn, message string) {
	env, err := wire.New(wire.TypeError, "", wire.ErrorPayload{Code: wire.ErrInvalidJSON, Message: message})
	if err != nil {
		return
	}
	if err := wire.WriteEnvelope(ctx, conn, env); err != nil {
		log.Debug().Err(err).Msg("send invalid-json reply failed")
	}
}

// SendOutput pushes a raw PTY output chunk for sessionID to the Relay
// over the current connection, if the uplink is authenticated. Called
// from the session.Manager's OnOutput callback.
func (c *Client) SendOutput(sessionID string, data []byte) {
	c.mu.Lock()
	conn := c.conn
	authenticated := c.state == StateAuthenticated
	c.mu.Unlock()
	if conn == nil || !authenticated {
		return
	}

	env, err := wire.New(wire.TypeOutput, sessionID, wire.OutputPayload{SessionID: sessionID, Data: string(data)})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wire.WriteEnvelope(ctx, conn, env); err != nil {
		log.Debug().Err(err).Str("sessionId", sessionID).Msg("send output failed")
	}
}

// SendClosed notifies the Relay that sessionID has ended, whether by
// explicit close_session, idle reaping, or spontaneous PTY exit.
// Called from the session.Manager's OnClosed callback; dropped unless
// the uplink is authenticated.
func (c *Client) SendClosed(sessionID string) {
	c.mu.Lock()
	conn := c.conn
	authenticated := c.state == StateAuthenticated
	c.mu.Unlock()
	if conn == nil || !authenticated {
		return
	}

	env, err := wire.New(wire.TypeStatus, sessionID, wire.StatusPayload{Status: wire.StatusSessionClosed, SessionID: sessionID})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wire.WriteEnvelope(ctx, conn, env); err != nil {
		log.Debug().Err(err).Str("sessionId", sessionID).Msg("send closed failed")
	}
}
