// Package logging builds the base zerolog.Logger each component derives
// its own child logger from (log.With().Str("component", ...).Logger()).
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls the base logger's verbosity and output format.
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // console-friendly output for local development
}

// New builds the base structured logger.
func New(cfg Config) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// SetGlobal installs l as the package-level logger used by rs/zerolog/log.
func SetGlobal(l zerolog.Logger) {
	log.Logger = l
}

// Component returns a child logger tagged with the given component name,
// the convention every repository and worker in this codebase follows.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
