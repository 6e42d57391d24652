// Package logging builds the process-wide zerolog.Logger, grounded on the
// teacher's setupLogger in cmd/api/main.go: pretty console output in
// development, bare JSON in production.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

func New(levelStr, environment, service string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		level = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if environment == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			Level(level).
			With().
			Timestamp().
			Caller().
			Logger()
	}

	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Str("environment", environment).
		Logger()
}
