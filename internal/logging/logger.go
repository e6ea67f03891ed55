// Package logging wraps zerolog into the small structured-logging surface
// used throughout irrig-core.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level is a logging verbosity level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the wire shape of log output.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config configures a Logger.
type Config struct {
	Level  Level
	Format Format
	Output io.Writer
}

// Logger provides structured, leveled logging with a fixed field-pair calling
// convention: Info("message", "key", value, "key2", value2, ...).
type Logger struct {
	zl zerolog.Logger
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Format == FormatText {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: false}
	}

	zl := zerolog.New(out).With().Timestamp().Logger()
	switch cfg.Level {
	case LevelDebug:
		zl = zl.Level(zerolog.DebugLevel)
	case LevelWarn:
		zl = zl.Level(zerolog.WarnLevel)
	case LevelError:
		zl = zl.Level(zerolog.ErrorLevel)
	default:
		zl = zl.Level(zerolog.InfoLevel)
	}
	return &Logger{zl: zl}
}

// Nop returns a Logger that discards everything; useful for tests.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func (l *Logger) Debug(msg string, fields ...interface{}) { l.emit(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.emit(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.emit(l.zl.Warn(), msg, fields) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.emit(l.zl.Error(), msg, fields) }

// With returns a child logger with a persistent field attached.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

func (l *Logger) emit(event *zerolog.Event, msg string, fields []interface{}) {
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, fields[i+1])
	}
	event.Msg(msg)
}
