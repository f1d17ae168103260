// Package config loads Relay and Agent configuration from environment
// variables, with pflag-bound command-line flags taking precedence.
package config

import (
	"os"
	"strconv"

	"github.com/spf13/pflag"
)

// Relay holds the Relay process's configuration.
type Relay struct {
	Addr  string
	Token string
}

// AddFlags binds Relay's fields to flagSet, pre-seeded from the
// environment so an unset flag still picks up env-derived defaults.
func (c *Relay) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.Addr, "addr", getEnv("PORT_ADDR", defaultRelayAddr()), "address to listen on")
	flagSet.StringVar(&c.Token, "token", getEnv("RELAY_TOKEN", ""), "shared bearer token Agent and Clients must present")
}

func defaultRelayAddr() string {
	return ":" + getEnv("PORT", "8080")
}

// Agent holds the Agent process's configuration.
type Agent struct {
	RelayURL        string
	Token           string
	ProjectsPath    string
	QuickHome       string
	HistoryDir      string
	LaunchCommand   string
	DoubleTapSubmit bool
}

// AddFlags binds Agent's fields to flagSet, pre-seeded from the
// environment.
func (c *Agent) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.RelayURL, "relay-url", getEnv("RELAY_URL", "ws://localhost:8080/connect"), "Relay WebSocket URL to dial")
	flagSet.StringVar(&c.Token, "token", getEnv("RELAY_TOKEN", ""), "shared bearer token to authenticate with")
	flagSet.StringVar(&c.ProjectsPath, "projects", getEnv("PROJECTS_PATH", "projects.json"), "path to the project catalog")
	flagSet.StringVar(&c.QuickHome, "quick-session-path", getEnv("QUICK_SESSION_PATH", getEnv("HOME", ".")), "working directory for quick sessions")
	flagSet.StringVar(&c.HistoryDir, "history-dir", getEnv("HISTORY_DIR", defaultHistoryDir()), "directory to store per-session history")
	flagSet.StringVar(&c.LaunchCommand, "launch-command", getEnv("CLAUDE_PATH", "claude"), "command launched inside every new session's PTY")
	flagSet.BoolVar(&c.DoubleTapSubmit, "double-tap-submit", getEnvBool("DOUBLE_TAP_SUBMIT", true), "send a second bare carriage return after send_input")
}

func defaultHistoryDir() string {
	home := getEnv("HOME", ".")
	return home + "/.pocketclaude/history"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
