// Package logging configures zerolog for the userdata client and names the
// structured fields its components log.
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

// Field names shared by every component.
const (
	FieldComponent    = "component"
	FieldFormat       = "format"
	FieldRequestID    = "request_id"
	FieldStatusCode   = "status_code"
	FieldETag         = "etag"
	FieldLastModified = "last_modified"
	FieldErrorKind    = "error_kind"
	FieldWireBytes    = "wire_bytes"
	FieldPayloadBytes = "payload_bytes"
	FieldUsers        = "users"
	FieldTotal        = "total"
	FieldShared       = "shared"

	// zerolog reserves "message"; schema fields carry a prefix.
	FieldSchemaOrigin  = "schema_origin"
	FieldSchemaMessage = "schema_message"
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
	zerolog.SetGlobalLevel(ParseLevel(string(cfg.Level)))

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

// ParseLevel converts a level name to a zerolog.Level. Unknown or empty
// names fall back to info.
func ParseLevel(level string) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "warning" {
		name = "warn"
	}
	parsed, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		return zerolog.InfoLevel
	}
	return parsed
}

// NewLogger creates a logger for the given component from the global logger.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str(FieldComponent, component).Logger()
}

// Log level guidelines:
//
// Debug: request build, validators sent and observed, schema cache hits.
// Info: snapshot published, 304 Not Modified, schema loaded.
// Warn: decode failures, unexpected HTTP status.
// Error: transport failures, schema load failures.
