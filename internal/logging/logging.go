// Package logging configures the process-wide structured logger.
// All engine components log JSON lines through zerolog; files rotate
// via lumberjack when a log directory is configured.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction.
type Options struct {
	// Level is the minimum level name ("debug", "info", "warn", "error").
	Level string
	// Dir, when non-empty, adds a rotating file sink at Dir/steer.log.
	Dir string
	// MaxSizeMB bounds a single log file before rotation.
	MaxSizeMB int
	// MaxBackups bounds the number of rotated files kept.
	MaxBackups int
}

// New builds the root logger. Output always includes stderr; a rotating
// file sink is added when opts.Dir is set.
func New(opts Options) zerolog.Logger {
	level := parseLevel(opts.Level)

	writers := []io.Writer{os.Stderr}
	if opts.Dir != "" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 64
		}
		maxBackups := opts.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 5
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, "steer.log"),
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			Compress:   true,
		})
	}

	out := io.MultiWriter(writers...)
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the given component name.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "", "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
