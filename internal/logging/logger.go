// Package logging configures zerolog for pocketclaude's binaries and
// hands out component-scoped sub-loggers.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	base     zerolog.Logger
	baseLock sync.RWMutex
)

func init() {
	Configure(os.Getenv("ENV") != "production")
}

// Configure (re)builds the base logger. Development mode uses a pretty
// console writer; production mode writes JSON lines to stdout.
func Configure(development bool) {
	var output io.Writer = os.Stdout
	if development {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.Kitchen,
		}
	}

	baseLock.Lock()
	base = zerolog.New(output).Level(zerolog.InfoLevel).With().Timestamp().Logger()
	baseLock.Unlock()
}

// SetLevel sets the global log level at runtime from a string such as
// "debug", "info", "warn", "error".
func SetLevel(levelStr string) {
	level := parseLevel(levelStr)
	baseLock.Lock()
	base = base.Level(level)
	baseLock.Unlock()
}

func parseLevel(levelStr string) zerolog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// For returns a sub-logger tagged with the given component name, e.g.
// logging.For("relay.hub").Info().Msg("started").
func For(component string) zerolog.Logger {
	baseLock.RLock()
	defer baseLock.RUnlock()
	return base.With().Str("component", component).Logger()
}
