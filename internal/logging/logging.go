// Package logging configures the process-wide zerolog logger: console
// output for interactive runs, plus a rotated file when LOG_FILE is set.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the root logger. Component loggers are derived from it via
// log.With().Str("component", ...).
func New(level, file string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	var w io.Writer = console
	if file != "" {
		w = zerolog.MultiLevelWriter(console, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
