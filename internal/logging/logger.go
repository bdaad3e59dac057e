// Package logging builds the broker's structured zerolog logger,
// Loki-compatible JSON by default with a human-readable pretty mode for
// local development.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New creates a structured logger for level ("debug"|"info"|"warn"|
// "error") and format ("json"|"text"|"pretty").
//
// Example:
//
//	logger := logging.New("info", "json")
//	logger.Info().Str("component", "broker").Int("connections", 100).Msg("started")
func New(level, format string) zerolog.Logger {
	var output io.Writer = os.Stdout

	var zl zerolog.Level
	switch level {
	case "debug":
		zl = zerolog.DebugLevel
	case "info":
		zl = zerolog.InfoLevel
	case "warn":
		zl = zerolog.WarnLevel
	case "error":
		zl = zerolog.ErrorLevel
	default:
		zl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(zl)

	if format == "pretty" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "netplay-broker").
		Logger()
}

// Init creates a logger per New and installs it as the global logger,
// for packages that reach for the top-level rs/zerolog/log convenience
// API instead of holding a *zerolog.Logger.
func Init(level, format string) zerolog.Logger {
	logger := New(level, format)
	log.Logger = logger
	return logger
}

// Error logs err with msg and any extra context fields.
func Error(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// Panic logs a recovered panic with its stack trace. Intended for use
// inside a deferred recover() in a connection-handling goroutine, which
// should log and drop the connection rather than crash the broker.
func Panic(logger zerolog.Logger, panicValue any, msg string, fields map[string]any) {
	event := logger.Error().
		Interface("panic_value", panicValue).
		Str("stack_trace", string(debug.Stack()))
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
