package relay

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pocketclaude/pocketclaude/internal/logging"
)

// Config configures a Relay Server.
type Config struct {
	Addr  string
	Token string
}

// Server is the Relay's HTTP/WebSocket front end: a single /connect
// upgrade route shared by both Agent and Client roles, plus a /health
// endpoint. The Relay itself keeps no persistent state; Hub is the
// whole of it.
type Server struct {
	cfg       Config
	hub       *Hub
	startedAt time.Time
	httpSrv   *http.Server
}

// NewServer builds a Relay Server bound to addr, authenticating peers
// against token, routing through hub.
func NewServer(cfg Config, hub *Hub) *Server {
	return &Server{cfg: cfg, hub: hub, startedAt: time.Now()}
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.GinRequestLogger())

	r.GET("/health", s.handleHealth)
	r.GET("/connect", s.handleConnect)
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.hub.SnapshotStats()
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"agent":         stats.AgentConnected,
		"clients":       stats.ClientCount,
		"uptimeSeconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("relay starting")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("relay listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	log.Info().Msg("relay shutting down")
	return s.httpSrv.Shutdown(shutdownCtx)
}
