package config

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger builds a zerolog logger writing to w. An unknown level falls back
// to info.
func (l LoggingConfig) Logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(l.Level)
	if err != nil || l.Level == "" {
		level = zerolog.InfoLevel
	}
	if l.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Setup installs the logger as the global zerolog logger on stdout.
func (l LoggingConfig) Setup() zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = l.Logger(os.Stdout)
	return log.Logger
}
