package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/pocketclaude/pocketclaude/internal/logging"
	"github.com/pocketclaude/pocketclaude/wire"
)

// broadcastTimeout bounds how long an Agent-bind/release broadcast may
// take, decoupled from the departing peer's own (possibly already
// cancelled) connection context.
const broadcastTimeout = 5 * time.Second

func (s *Server) handleConnect(c *gin.Context) {
	logging.MarkHijacked(c)

	w := http.ResponseWriter(c.Writer)
	if unwrapper, ok := c.Writer.(interface{ Unwrap() http.ResponseWriter }); ok {
		w = unwrapper.Unwrap()
	}

	conn, err := websocket.Accept(w, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	c.Abort()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	peer, role, err := s.authenticate(ctx, conn)
	if err != nil {
		log.Debug().Err(err).Msg("authentication failed")
		return
	}
	if peer == nil {
		// Soft failure already communicated and connection closed by
		// authenticate (e.g. AGENT_EXISTS).
		return
	}

	defer func() {
		if role == wire.RoleAgent {
			s.hub.RemoveAgent(peer)
			s.broadcastAgentStatus(wire.StatusDisconnected, wire.ReasonAgentDisconnected)
		} else {
			s.hub.RemoveClient(peer)
		}
	}()

	go runHeartbeat(ctx, conn, cancel)

	s.pump(ctx, conn, peer, role)
}

// authenticate reads the first envelope off conn, validates it as an
// auth envelope bearing the configured token, and registers the
// resulting Peer with the Hub. Returns (nil, role, nil) when a soft
// failure (AGENT_EXISTS) has already been communicated to the peer and
// the caller should simply return.
func (s *Server) authenticate(ctx context.Context, conn *websocket.Conn) (*Peer, wire.Role, error) {
	env, err := wire.ReadEnvelope(ctx, conn)
	if err != nil {
		return nil, "", err
	}
	if env.Type != wire.TypeAuth {
		s.sendAuthError(ctx, conn, wire.ErrNotAuthenticated, "expected auth")
		conn.Close(websocket.StatusPolicyViolation, "expected auth")
		return nil, "", errAuthExpected
	}

	var auth wire.AuthPayload
	if err := env.Decode(&auth); err != nil {
		s.sendAuthError(ctx, conn, wire.ErrInvalidJSON, err.Error())
		conn.Close(websocket.StatusPolicyViolation, "invalid auth payload")
		return nil, "", err
	}

	if auth.Token != s.cfg.Token {
		s.sendAuthError(ctx, conn, wire.ErrAuthFailed, "invalid token")
		conn.Close(websocket.StatusCode(wire.CloseAuthFailed), "auth failed")
		return nil, "", errAuthFailed
	}

	if auth.Role != wire.RoleAgent && auth.Role != wire.RoleClient {
		s.sendAuthError(ctx, conn, wire.ErrInvalidRole, string(auth.Role))
		conn.Close(websocket.StatusCode(wire.CloseInvalidRole), "invalid role")
		return nil, "", errInvalidRole
	}

	lim := newLimiter()

	if auth.Role == wire.RoleAgent {
		peer, err := s.hub.RegisterAgent(conn, lim)
		if err != nil {
			s.sendAuthError(ctx, conn, wire.ErrAgentExists, "agent already connected")
			conn.Close(websocket.StatusCode(wire.CloseAgentExists), "agent already connected")
			return nil, wire.RoleAgent, nil
		}
		s.sendConnected(ctx, peer, wire.RoleAgent)
		s.broadcastAgentStatus(wire.StatusConnected, wire.ReasonAgentConnected)
		return peer, wire.RoleAgent, nil
	}

	peer := s.hub.RegisterClient(conn, lim)
	s.sendConnected(ctx, peer, wire.RoleClient)
	return peer, wire.RoleClient, nil
}

func (s *Server) sendAuthError(ctx context.Context, conn *websocket.Conn, code wire.ErrorCode, message string) {
	env, err := wire.New(wire.TypeError, "", wire.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	wire.WriteEnvelope(ctx, conn, env)
}

func (s *Server) sendConnected(ctx context.Context, peer *Peer, role wire.Role) {
	data := wire.ConnectedData{Role: role, AgentConnected: s.hub.HasAgent()}
	env, err := wire.New(wire.TypeStatus, "", wire.StatusPayload{Status: wire.StatusConnected, Data: data})
	if err != nil {
		return
	}
	peer.send(ctx, env)
}

// broadcastAgentStatus notifies every connected Client that the Agent
// has bound to or released from the Relay, per §4.1.
func (s *Server) broadcastAgentStatus(status wire.StatusKind, reason wire.AgentStatusReason) {
	env, err := wire.New(wire.TypeStatus, "", wire.StatusPayload{Status: status, Data: wire.AgentStatusData{Reason: reason}})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()
	s.hub.BroadcastToClients(ctx, env)
}

// pump relays envelopes between this peer and the rest of the Hub for
// the lifetime of the connection: Client commands go to the Agent,
// Agent output/status/error go to all Clients.
func (s *Server) pump(ctx context.Context, conn *websocket.Conn, peer *Peer, role wire.Role) {
	for {
		env, err := wire.ReadEnvelope(ctx, conn)
		if err != nil {
			var malformed *wire.MalformedEnvelopeError
			if errors.As(err, &malformed) {
				s.sendAuthError(ctx, conn, wire.ErrInvalidJSON, malformed.Error())
				continue
			}
			return
		}

		if env.Type == wire.TypeCommand && !peer.limiter.Allow() {
			s.sendAuthError(ctx, conn, wire.ErrRateLimited, "")
			continue
		}

		switch role {
		case wire.RoleClient:
			if env.Type != wire.TypeCommand {
				continue
			}
			if !s.hub.ForwardToAgent(ctx, env) {
				s.sendAuthError(ctx, conn, wire.ErrNoAgent, "")
			}
		case wire.RoleAgent:
			switch env.Type {
			case wire.TypeOutput, wire.TypeStatus, wire.TypeError:
				s.hub.BroadcastToClients(ctx, env)
			}
		}
	}
}
