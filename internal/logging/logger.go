// Package logging provides structured logging for the taior library and
// tools. Addresses and circuit ids are pseudonymous but still linkable
// across log lines, so the context helpers record only a short prefix of
// either; full identifiers never reach the log output.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// idPrefixLen is how much of an address or circuit id a log line carries.
const idPrefixLen = 8

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string // "json" or "console"
	Output io.Writer
}

// Logger wraps zerolog.Logger with taior context helpers
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a structured logger. Unknown or empty levels fall
// back to info; the level is scoped to this logger, not the process.
func NewLogger(cfg LogConfig) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil && cfg.Level != "" {
		level = parsed
	}

	logger := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", "taior").
		Logger()

	return &Logger{Logger: logger}
}

// Nop returns a logger that discards everything. Library types accept
// this when the caller does not care about logs.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// WithComponent returns a logger with component context
func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// WithCircuit returns a logger carrying a shortened circuit id
func (l *Logger) WithCircuit(circuitID string) *Logger {
	return l.with("circuit", Abbrev(circuitID))
}

// WithPeer returns a logger carrying a shortened peer id
func (l *Logger) WithPeer(peerID string) *Logger {
	return l.with("peer", Abbrev(peerID))
}

// WithAddress returns a logger carrying a shortened taior address
func (l *Logger) WithAddress(addr string) *Logger {
	return l.with("address", Abbrev(addr))
}

func (l *Logger) with(key, value string) *Logger {
	return &Logger{Logger: l.With().Str(key, value).Logger()}
}

// Abbrev shortens a pseudonymous identifier for logging: the taior scheme
// is stripped and only the leading characters are kept. Short values pass
// through unchanged.
func Abbrev(id string) string {
	id = strings.TrimPrefix(id, "taior://")
	if len(id) > idPrefixLen {
		return id[:idPrefixLen]
	}
	return id
}
