// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level, defaulting to info.
func parseLevel(level LogLevel) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(string(level)))
	if name == "warning" {
		name = "warn"
	}
	parsed, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		return zerolog.InfoLevel
	}
	return parsed
}

// NewLogger creates a child of the global logger tagged with a component name.
//
// Loggers are resolved when a component is constructed, so Setup must run
// before components are built for its output settings to apply.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: batch enqueue/flush, dedupe joins, cache hit/miss, page cursor moves
// Info:  server startup/shutdown, token acquired, retry succeeded
// Warn:  retries, throttle windows, degraded search aggregations, cache write failures
// Error: exhausted retries, rejected batch entries, token refresh failures
//
// Context Fields:
//   - component: emitting package (transport, batch, auth, cache, content, pagination)
//   - url / method: request target
//   - status: HTTP status code
//   - batch_size / chunk / attempt: batch execution position
//   - resource: token audience
//   - cache_key: cache entry key
//   - page_index: 0-based enumerator page
