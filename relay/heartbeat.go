package relay

import (
	"context"
	"time"

	"github.com/coder/websocket"
)

// pingInterval and pongTimeout implement the heartbeat contract: the
// Relay pings every 30s, and a connection that hasn't answered within
// 60s is force-closed. coder/websocket's Ping blocks until the pong
// arrives or ctx expires, so the timeout is expressed directly as the
// ping call's context deadline.
const (
	pingInterval = 30 * time.Second
	pongTimeout  = 60 * time.Second
)

// runHeartbeat pings conn every pingInterval until ctx is cancelled or
// a ping fails to get a pong within pongTimeout, in which case it
// force-closes conn and cancels cancel so the connection's read loop
// unblocks.
func runHeartbeat(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, pongTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				log.Debug().Err(err).Msg("heartbeat ping failed, closing connection")
				conn.Close(websocket.StatusPolicyViolation, "heartbeat timeout")
				cancel()
				return
			}
		}
	}
}
