package pkg

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Component identifies a subsystem for log filtering.
type Component string

// Link layer component identifiers.
const (
	ComponentLink     Component = "link"
	ComponentLTSSM    Component = "ltssm"
	ComponentHeader   Component = "header"
	ComponentCommand  Component = "command"
	ComponentTraining Component = "training"
	ComponentPHY      Component = "phy"
	ComponentStack    Component = "stack"
)

// LogFormat selects the handler that renders log records.
type LogFormat int

// Log formats.
const (
	LogFormatText LogFormat = iota // key=value pairs (default)
	LogFormatJSON                  // one JSON object per record
)

// String returns the flag value naming the format.
func (f LogFormat) String() string {
	if f == LogFormatJSON {
		return "json"
	}
	return "text"
}

// ParseLogFormat maps a flag value ("text" or "json") to a LogFormat.
func ParseLogFormat(s string) (LogFormat, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return LogFormatText, nil
	case "json":
		return LogFormatJSON, nil
	}
	return LogFormatText, fmt.Errorf("log format %q: %w", s, ErrInvalidParameter)
}

// ParseLogLevel maps a flag value such as "debug" or "warn+2" to a level.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelWarn, fmt.Errorf("log level %q: %w", s, ErrInvalidParameter)
	}
	return level, nil
}

var (
	linkLogger *slog.Logger
	logLevel   = new(slog.LevelVar)
	logFormat  = LogFormatText
	logOutput  io.Writer = os.Stderr

	// logMutex guards linkLogger, logFormat and logOutput.
	logMutex sync.RWMutex
)

func init() {
	logLevel.Set(slog.LevelWarn)
	rebuildLogger()
}

// rebuildLogger must be called with logMutex held for writing.
func rebuildLogger() {
	opts := &slog.HandlerOptions{Level: logLevel}
	if logFormat == LogFormatJSON {
		linkLogger = slog.New(slog.NewJSONHandler(logOutput, opts))
		return
	}
	linkLogger = slog.New(slog.NewTextHandler(logOutput, opts))
}

// SetLogLevel sets the minimum level logged by every link component.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// SetLogFormat switches the log handler, keeping the level and output.
func SetLogFormat(format LogFormat) {
	logMutex.Lock()
	defer logMutex.Unlock()
	logFormat = format
	rebuildLogger()
}

// SetLogOutput redirects logging to w (os.Stderr when w is nil).
func SetLogOutput(w io.Writer) {
	logMutex.Lock()
	defer logMutex.Unlock()
	if w == nil {
		w = os.Stderr
	}
	logOutput = w
	rebuildLogger()
}

// LogEnabled reports whether a message at level would be emitted.
// The link layer steps once per symbol word, so callers on that path
// check this before building attributes.
func LogEnabled(level slog.Level) bool {
	return logger().Enabled(context.Background(), level)
}

func logger() *slog.Logger {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return linkLogger
}

func logAt(level slog.Level, component Component, msg string, args []any) {
	l := logger()
	if !l.Enabled(context.Background(), level) {
		return
	}
	l.Log(context.Background(), level, msg, append([]any{"component", string(component)}, args...)...)
}

// LogDebug logs a debug message with the given component.
func LogDebug(component Component, msg string, args ...any) {
	logAt(slog.LevelDebug, component, msg, args)
}

// LogInfo logs an info message with the given component.
func LogInfo(component Component, msg string, args ...any) {
	logAt(slog.LevelInfo, component, msg, args)
}

// LogWarn logs a warning message with the given component.
func LogWarn(component Component, msg string, args ...any) {
	logAt(slog.LevelWarn, component, msg, args)
}

// LogError logs an error message with the given component.
func LogError(component Component, msg string, args ...any) {
	logAt(slog.LevelError, component, msg, args)
}
