package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	defaultLogger *Logger
	defaultLock   sync.RWMutex
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	defaultLogger = New(os.Stdout, FormatJSON, LogLevelDebug)
}

type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
	LogLevelTrace
)

func (level LogLevel) String() string {
	switch level {
	case LogLevelError:
		return "error"
	case LogLevelWarn:
		return "warn"
	case LogLevelInfo:
		return "info"
	case LogLevelDebug:
		return "debug"
	case LogLevelTrace:
		return "trace"
	default:
		return "unknown"
	}
}

func (level LogLevel) zerologLevel() zerolog.Level {
	switch level {
	case LogLevelError:
		return zerolog.ErrorLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelInfo:
		return zerolog.InfoLevel
	case LogLevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// ParseLogLevel parses a log level string into a LogLevel.
// Valid log levels are: error, warn, info, debug, trace.
func ParseLogLevel(level string) (LogLevel, error) {
	switch level {
	case "error":
		return LogLevelError, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "info":
		return LogLevelInfo, nil
	case "debug":
		return LogLevelDebug, nil
	case "trace":
		return LogLevelTrace, nil
	default:
		return LogLevelError, fmt.Errorf("unknown log level: %s", level)
	}
}

// Format selects how log lines are written.
type Format int

const (
	// FormatJSON writes one JSON object per line.
	FormatJSON Format = iota
	// FormatConsole writes human readable, colorized lines.
	FormatConsole
)

// ParseFormat parses "json" or "console".
func ParseFormat(format string) (Format, error) {
	switch format {
	case "json", "":
		return FormatJSON, nil
	case "console", "text":
		return FormatConsole, nil
	default:
		return FormatJSON, fmt.Errorf("unknown log format: %s", format)
	}
}

// Logger is a leveled printf-style logger.
type Logger struct {
	zl    zerolog.Logger
	level LogLevel
}

// New creates a logger writing to out.
func New(out io.Writer, format Format, level LogLevel) *Logger {
	if format == FormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(out).Level(level.zerologLevel()).With().Timestamp().Logger()
	return &Logger{zl: zl, level: level}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop(), level: LogLevelError}
}

// SetDefaultLogger replaces the logger used by the package level functions.
func SetDefaultLogger(logger *Logger) {
	defaultLock.Lock()
	defer defaultLock.Unlock()
	defaultLogger = logger
}

// Default returns the package level logger.
func Default() *Logger {
	defaultLock.RLock()
	defer defaultLock.RUnlock()
	return defaultLogger
}

func SetLevel(level LogLevel) {
	Default().SetLevel(level)
	Default().Info("Log level set to %s", level)
}

func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.zl = l.zl.Level(level.zerologLevel())
}

func (l *Logger) Level() LogLevel {
	return l.level
}

// WithComponent returns a child logger tagging every line with the component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		zl:    l.zl.With().Str("component", name).Logger(),
		level: l.level,
	}
}

func (l *Logger) logf(level LogLevel, format string, args ...interface{}) {
	if level > l.level {
		return
	}
	var ev *zerolog.Event
	switch level {
	case LogLevelError:
		ev = l.zl.Error()
	case LogLevelWarn:
		ev = l.zl.Warn()
	case LogLevelInfo:
		ev = l.zl.Info()
	case LogLevelDebug:
		ev = l.zl.Debug()
	default:
		ev = l.zl.Trace()
	}
	ev.Msgf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.logf(LogLevelError, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.logf(LogLevelWarn, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.logf(LogLevelInfo, format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.logf(LogLevelDebug, format, args...)
}

func (l *Logger) Trace(format string, args ...interface{}) {
	l.logf(LogLevelTrace, format, args...)
}

func Info(format string, args ...interface{}) {
	Default().Info(format, args...)
}

func Error(format string, args ...interface{}) {
	Default().Error(format, args...)
}

func Warn(format string, args ...interface{}) {
	Default().Warn(format, args...)
}

func Debug(format string, args ...interface{}) {
	Default().Debug(format, args...)
}

func Trace(format string, args ...interface{}) {
	Default().Trace(format, args...)
}
