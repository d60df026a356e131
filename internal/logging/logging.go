// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the structured, leveled logger used throughout
// meshcore. It wraps github.com/charmbracelet/log so call sites use plain
// key-value pairs (logger.Info("msg", "key", value)) and adds an optional
// syslog fan-out for centralized collection across a node fleet.
package logging

import (
	"io"
	"os"

	charmlog "github.com/charmbracelet/log"

	"meshcore.dev/core/internal/errors"
)

// Level is a logging verbosity threshold.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config configures a Logger.
type Config struct {
	// Level is the minimum level that will be emitted.
	Level Level
	// JSON switches the formatter from the human-readable default to
	// newline-delimited JSON, for log shippers that expect structured lines.
	JSON bool
	// Output is the primary writer. Defaults to os.Stderr.
	Output io.Writer
	// Syslog optionally fans out every log line to a syslog daemon.
	Syslog SyslogConfig
}

// DefaultConfig returns info-level, human-readable logging to stderr with
// syslog disabled.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Syslog: DefaultSyslogConfig(),
	}
}

// Logger is the structured logger passed to every meshcore component.
type Logger struct {
	inner *charmlog.Logger
}

// New builds a Logger from cfg. It returns an error only if syslog fan-out
// is enabled and the syslog daemon cannot be dialed.
func New(cfg Config) (*Logger, error) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	w := out
	if cfg.Syslog.Enabled {
		sw, err := NewSyslogWriter(cfg.Syslog)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "failed to dial syslog")
		}
		w = io.MultiWriter(out, sw)
	}

	opts := charmlog.Options{ReportTimestamp: true}
	if cfg.JSON {
		opts.Formatter = charmlog.JSONFormatter
	}

	l := charmlog.NewWithOptions(w, opts)
	l.SetLevel(toCharmLevel(cfg.Level))

	return &Logger{inner: l}, nil
}

// Nop returns a Logger that discards everything. Used by tests and by
// components that have not been given a real logger.
func Nop() *Logger {
	return &Logger{inner: charmlog.NewWithOptions(io.Discard, charmlog.Options{})}
}

func toCharmLevel(l Level) charmlog.Level {
	switch l {
	case LevelDebug:
		return charmlog.DebugLevel
	case LevelWarn:
		return charmlog.WarnLevel
	case LevelError:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// Debug logs at debug level with structured key-value pairs.
func (l *Logger) Debug(msg string, kv ...any) { l.inner.Debug(msg, kv...) }

// Info logs at info level with structured key-value pairs.
func (l *Logger) Info(msg string, kv ...any) { l.inner.Info(msg, kv...) }

// Warn logs at warn level with structured key-value pairs.
func (l *Logger) Warn(msg string, kv ...any) { l.inner.Warn(msg, kv...) }

// Error logs at error level with structured key-value pairs.
func (l *Logger) Error(msg string, kv ...any) { l.inner.Error(msg, kv...) }

// With returns a child Logger that always includes the given key-value
// pairs, e.g. logger.With("interface", "eth0").
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{inner: l.inner.With(kv...)}
}
