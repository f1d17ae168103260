package logging

import (
	"time"

	"github.com/gin-gonic/gin"
)

// hijackedKey marks a Gin context whose connection has been hijacked
// for a WebSocket upgrade, so the request-logging middleware below
// does not touch c.Writer afterward.
const hijackedKey = "pocketclaude.hijacked"

// MarkHijacked marks the connection as hijacked. Call this in the
// /connect handler before calling websocket.Accept.
//
// net/http gives no portable way to ask a ResponseWriter whether it has
// already been hijacked, so callers must say so explicitly or the
// request logger below will try to read response status off a
// connection gin no longer owns.
func MarkHijacked(c *gin.Context) {
	c.Set(hijackedKey, true)
}

func isHijacked(c *gin.Context) bool {
	v, ok := c.Get(hijackedKey)
	return ok && v.(bool)
}

// GinRequestLogger returns Gin middleware that logs each request
// through the "http" component logger, skipping hijacked connections.
func GinRequestLogger() gin.HandlerFunc {
	logger := For("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if isHijacked(c) {
			return
		}

		status := c.Writer.Status()
		event := logger.Info()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
