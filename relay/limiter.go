package relay

import (
	"golang.org/x/time/rate"
)

// commandRate and commandBurst bound how many command envelopes a
// single connection may send per second before the Relay starts
// replying RATE_LIMITED instead of forwarding. The connection is never
// closed for exceeding this — only throttled.
const (
	commandRate  = 10
	commandBurst = 20
)

// limiter wraps a per-connection rate.Limiter.
type limiter struct {
	l *rate.Limiter
}

func newLimiter() *limiter {
	return &limiter{l: rate.NewLimiter(rate.Limit(commandRate), commandBurst)}
}

// Allow reports whether another command may be forwarded right now.
func (l *limiter) Allow() bool {
	return l.l.Allow()
}
