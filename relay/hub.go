// Package relay implements the cloud-resident message switch between
// exactly one Agent and any number of Clients. The Relay holds no
// persistent state: every fact it knows about a session lives only as
// long as the underlying WebSocket connections do.
package relay

import (
	"context"

	"github.com/coder/websocket"

	"github.com/pocketclaude/pocketclaude/internal/logging"
	"github.com/pocketclaude/pocketclaude/wire"
)

var log = logging.For("relay.hub")

// Peer is one connected, authenticated WebSocket: either the single
// Agent or one of possibly many Clients.
type Peer struct {
	conn *websocket.Conn
	role wire.Role

	limiter *limiter
}

func (p *Peer) send(ctx context.Context, env wire.Envelope) error {
	return wire.WriteEnvelope(ctx, p.conn, env)
}

// ErrAgentExists is returned by RegisterAgent when an Agent connection
// is already registered.
var ErrAgentExists = &hubError{"agent already connected"}

type hubError struct{ msg string }

func (e *hubError) Error() string { return e.msg }

// hubState is the agent slot and client set. It is mutated only by
// the single goroutine run() runs, so no mutex guards it — the Hub's
// ops channel is the only synchronization.
type hubState struct {
	agent   *Peer
	clients map[*Peer]struct{}
}

// Hub routes envelopes between the Agent and Clients, and enforces the
// single-agent invariant: at most one Agent connection may be
// registered at a time. All state is owned by a single goroutine;
// every method hands that goroutine a closure over Hub's ops channel
// and waits for it to run.
type Hub struct {
	ops  chan func(*hubState)
	done chan struct{}
}

// NewHub starts the Hub's owning goroutine and returns the running Hub.
func NewHub() *Hub {
	h := &Hub{ops: make(chan func(*hubState)), done: make(chan struct{})}
	go h.run()
	return h
}

func (h *Hub) run() {
	state := &hubState{clients: make(map[*Peer]struct{})}
	for op := range h.ops {
		op(state)
	}
	close(h.done)
}

// Close stops the Hub's goroutine. Not required for process-lifetime
// Hubs; provided for symmetry and tests.
func (h *Hub) Close() {
	close(h.ops)
	<-h.done
}

// RegisterAgent attaches conn as the Hub's single Agent connection. If
// an Agent is already registered, it returns ErrAgentExists and the
// caller must close the incoming connection with CloseAgentExists
// without registering it.
func (h *Hub) RegisterAgent(conn *websocket.Conn, lim *limiter) (*Peer, error) {
	peer := &Peer{conn: conn, role: wire.RoleAgent, limiter: lim}
	result := make(chan error, 1)
	h.ops <- func(s *hubState) {
		if s.agent != nil {
			result <- ErrAgentExists
			return
		}
		s.agent = peer
		result <- nil
	}
	if err := <-result; err != nil {
		return nil, err
	}
	log.Info().Msg("agent registered")
	return peer, nil
}

// RemoveAgent detaches p if it is the currently registered Agent.
func (h *Hub) RemoveAgent(p *Peer) {
	done := make(chan struct{})
	h.ops <- func(s *hubState) {
		if s.agent == p {
			s.agent = nil
			log.Info().Msg("agent disconnected")
		}
		close(done)
	}
	<-done
}

// RegisterClient adds conn to the Hub's client set.
func (h *Hub) RegisterClient(conn *websocket.Conn, lim *limiter) *Peer {
	peer := &Peer{conn: conn, role: wire.RoleClient, limiter: lim}
	done := make(chan struct{})
	h.ops <- func(s *hubState) {
		s.clients[peer] = struct{}{}
		log.Info().Int("clients", len(s.clients)).Msg("client registered")
		close(done)
	}
	<-done
	return peer
}

// RemoveClient removes p from the client set.
func (h *Hub) RemoveClient(p *Peer) {
	done := make(chan struct{})
	h.ops <- func(s *hubState) {
		delete(s.clients, p)
		log.Info().Int("clients", len(s.clients)).Msg("client disconnected")
		close(done)
	}
	<-done
}

// HasAgent reports whether an Agent is currently registered.
func (h *Hub) HasAgent() bool {
	result := make(chan bool, 1)
	h.ops <- func(s *hubState) {
		result <- s.agent != nil
	}
	return <-result
}

// Stats is a snapshot of the Hub's agent/client counts for /health.
type Stats struct {
	AgentConnected bool
	ClientCount    int
}

// SnapshotStats returns the Hub's current agent-connected flag and
// client count, read together under a single op so they can't race
// against each other.
func (h *Hub) SnapshotStats() Stats {
	result := make(chan Stats, 1)
	h.ops <- func(s *hubState) {
		result <- Stats{AgentConnected: s.agent != nil, ClientCount: len(s.clients)}
	}
	return <-result
}

// ForwardToAgent sends env to the registered Agent. Returns false if
// none is connected.
func (h *Hub) ForwardToAgent(ctx context.Context, env wire.Envelope) bool {
	result := make(chan *Peer, 1)
	h.ops <- func(s *hubState) {
		result <- s.agent
	}
	agent := <-result
	if agent == nil {
		return false
	}
	if err := agent.send(ctx, env); err != nil {
		log.Warn().Err(err).Msg("forward to agent failed")
	}
	return true
}

// BroadcastToClients sends env to every registered Client.
func (h *Hub) BroadcastToClients(ctx context.Context, env wire.Envelope) {
	result := make(chan []*Peer, 1)
	h.ops <- func(s *hubState) {
		peers := make([]*Peer, 0, len(s.clients))
		for p := range s.clients {
			peers = append(peers, p)
		}
		result <- peers
	}

	for _, p := range <-result {
		if err := p.send(ctx, env); err != nil {
			log.Warn().Err(err).Msg("broadcast to client failed")
		}
	}
}
