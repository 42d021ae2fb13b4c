// Package log provides structured logging for the voyage orchestrator using zerolog.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/shipfleet/voyage/pkg/voyageerr"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

func init() {
	Init(Config{Level: InfoLevel})
}

// Init initializes the global logger
func Init(cfg Config) {
	// Set log level
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	// Use JSON or console output
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithVoyageID creates a child logger with voyage_id field
func WithVoyageID(voyageID string) zerolog.Logger {
	return Logger.With().Str("voyage_id", voyageID).Logger()
}

// WithShipID creates a child logger with ship_id field
func WithShipID(shipID string) zerolog.Logger {
	return Logger.With().Str("ship_id", shipID).Logger()
}

// WithTaskID creates a child logger with task_id field
func WithTaskID(taskID string) zerolog.Logger {
	return Logger.With().Str("task_id", taskID).Logger()
}

// Fault logs err against logger at warn or error level, enriched with the
// voyage error taxonomy: kind, the CLI exit code it maps to, and the
// operator's recommended next action. Untyped errors (not produced by
// voyageerr) log with just the message, since there is no kind to attach.
// retried reports whether the caller intends to retry the operation that
// produced err; a fault that will be retried logs at warn, one that is
// final logs at error.
func Fault(logger zerolog.Logger, err error, msg string, retried bool) {
	event := logger.Error()
	if retried {
		event = logger.Warn()
	}
	if kind, ok := voyageerr.KindOf(err); ok {
		event = event.
			Str("kind", string(kind)).
			Int("exit_code", voyageerr.CLIExitCode(err)).
			Str("next_action", voyageerr.NextAction(kind))
	}
	event.Err(err).Msg(msg)
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
