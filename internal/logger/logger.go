package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup returns the process logger. Output goes to stderr so that PEM written
// to stdout stays clean. In dev mode the level drops to debug and records are
// rendered by the console writer.
func Setup(dev bool) zerolog.Logger {
	return New(os.Stderr, dev)
}

// New builds a logger writing to w.
func New(w io.Writer, dev bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).
			Level(level).With().Timestamp().Caller().Logger()
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
