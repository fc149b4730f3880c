// SPDX-License-Identifier: MIT
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync/atomic"
)

// Level defines the severity of a log message.
type Level uint32

// Constants for log levels.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the string representation of the Level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string (case-insensitive) to a Level.
// Returns LevelInfo and false if the string is not recognized.
func ParseLevel(levelStr string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL":
		return LevelFatal, true
	default:
		return LevelInfo, false
	}
}

// --- Global Logger State ---

// currentLevel holds the current global log level atomically.
var currentLevel atomic.Uint32

// std is the underlying writer shared by every component logger.
var std = stdlog.New(os.Stderr, "", stdlog.Ldate|stdlog.Ltime|stdlog.Lmicroseconds)

// root has no component prefix and backs the package-level helpers.
var root = &Logger{}

func init() {
	SetLevel(LevelInfo)
}

// SetLevel sets the global logging level atomically.
func SetLevel(level Level) {
	currentLevel.Store(uint32(level))
}

// GetLevel gets the current global logging level atomically.
func GetLevel() Level {
	return Level(currentLevel.Load())
}

// SetOutput redirects all log output. Tests use it to capture messages.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

// Enabled reports whether a message at level would be written.
func Enabled(level Level) bool {
	return level >= GetLevel()
}

// Logger tags each message with the component that emitted it, e.g.
// "Store: evicted 2 pages". The zero value logs without a tag.
type Logger struct {
	component string
}

// New returns a Logger for the named component.
func New(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) output(level Level, msg string) {
	if !Enabled(level) {
		return
	}
	if l != nil && l.component != "" {
		msg = l.component + ": " + msg
	}
	if level == LevelFatal {
		std.Fatalf("[%s] %s", level, msg)
	}
	std.Printf("[%-5s] %s", level, msg)
}

// Debugf logs a formatted debug message if the level is appropriate.
func (l *Logger) Debugf(format string, v ...any) {
	if Enabled(LevelDebug) {
		l.output(LevelDebug, fmt.Sprintf(format, v...))
	}
}

// Infof logs a formatted info message if the level is appropriate.
func (l *Logger) Infof(format string, v ...any) {
	if Enabled(LevelInfo) {
		l.output(LevelInfo, fmt.Sprintf(format, v...))
	}
}

// Warnf logs a formatted warning message if the level is appropriate.
func (l *Logger) Warnf(format string, v ...any) {
	if Enabled(LevelWarn) {
		l.output(LevelWarn, fmt.Sprintf(format, v...))
	}
}

// Errorf logs a formatted error message if the level is appropriate.
func (l *Logger) Errorf(format string, v ...any) {
	if Enabled(LevelError) {
		l.output(LevelError, fmt.Sprintf(format, v...))
	}
}

// Fatalf logs a formatted fatal message and exits the application.
// Fatal messages are always logged regardless of the current level.
func (l *Logger) Fatalf(format string, v ...any) {
	l.output(LevelFatal, fmt.Sprintf(format, v...))
}

// --- Package-level helpers ---

// Debugf logs a formatted debug message without a component tag.
func Debugf(format string, v ...any) { root.Debugf(format, v...) }

// Infof logs a formatted info message without a component tag.
func Infof(format string, v ...any) { root.Infof(format, v...) }

// Warnf logs a formatted warning message without a component tag.
func Warnf(format string, v ...any) { root.Warnf(format, v...) }

// Errorf logs a formatted error message without a component tag.
func Errorf(format string, v ...any) { root.Errorf(format, v...) }

// Fatalf logs a formatted fatal message and exits the application.
func Fatalf(format string, v ...any) { root.Fatalf(format, v...) }
