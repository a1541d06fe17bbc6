// log.go - Structured logging for Zip Drop.
//
// A thin wrapper over zerolog that keeps the call shape used throughout the
// service: a message plus a flat map of fields.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level represents the severity of a log entry
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the output encoding
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Logger provides structured logging
type Logger struct {
	zl zerolog.Logger
}

// Default is the process-wide logger used by the package-level helpers.
var Default = New(os.Stdout, LevelInfo, FormatText)

// New builds a logger writing to out at the given minimum level.
func New(out io.Writer, level Level, format Format) *Logger {
	w := out
	if format != FormatJSON {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: true}
	}
	zl := zerolog.New(w).With().Timestamp().Logger().Level(zerologLevel(level))
	return &Logger{zl: zl}
}

// Configure replaces Default. Called once from main after config is loaded.
func Configure(level, format string) {
	Default = New(os.Stdout, ParseLevel(level), ParseFormat(format))
}

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn:
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// ParseFormat maps a config string to a Format, defaulting to text.
func ParseFormat(s string) Format {
	if Format(strings.ToLower(strings.TrimSpace(s))) == FormatJSON {
		return FormatJSON
	}
	return FormatText
}

func zerologLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) log(ev *zerolog.Event, msg string, fields map[string]any, err error) {
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg(msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields map[string]any) {
	l.log(l.zl.Debug(), msg, fields, nil)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields map[string]any) {
	l.log(l.zl.Info(), msg, fields, nil)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields map[string]any) {
	l.log(l.zl.Warn(), msg, fields, nil)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields map[string]any, err error) {
	l.log(l.zl.Error(), msg, fields, err)
}

// Global logging functions

func Debug(msg string, fields map[string]any) { Default.Debug(msg, fields) }

func Info(msg string, fields map[string]any) { Default.Info(msg, fields) }

func Warn(msg string, fields map[string]any) { Default.Warn(msg, fields) }

func Error(msg string, fields map[string]any, err error) { Default.Error(msg, fields, err) }
