// Package log provides structured logging for silofs using zerolog.
//
// It wraps zerolog to provide JSON-structured logging with component-scoped
// child loggers and a configurable level, mirroring how a Go service in
// this corpus typically sets up its logging: one process-wide logger,
// derived per-component loggers for call sites, and either JSON or
// console output as Config.JSONOutput selects (JSON to stderr until Init
// is called); whether stderr is a terminal is not checked.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the package-wide logger instance, configured by Init.
var Logger zerolog.Logger

func init() {
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Level mirrors the subset of zerolog levels silofs configuration exposes.
type Level string

const (
	DebugLevel Level = "DEBUG"
	InfoLevel  Level = "INFO"
	WarnLevel  Level = "WARN"
	ErrorLevel Level = "ERROR"
)

// Config controls how Init sets up the global logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init (re)configures the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with the given component,
// e.g. log.WithComponent("journal") inside the async journal package.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithAddress returns a child logger tagged with a block address, for
// call sites that log repeatedly about the same address.
func WithAddress(logger zerolog.Logger, addr string) zerolog.Logger {
	return logger.With().Str("address", addr).Logger()
}
