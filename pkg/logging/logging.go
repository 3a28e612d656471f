// Package logging provides the structured, subsystem-tagged logging used
// throughout the proxy. It wraps log/slog with a small level type and a
// text/json format toggle; all output goes to the configured writer, never
// to stdout, since stdout carries the downstream MCP transport.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel defines the severity of the log entry.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String makes LogLevel satisfy the fmt.Stringer interface.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLogLevel parses ICA_MCP_LOG_LEVEL values (case-insensitive).
// Unrecognized values fall back to LevelInfo.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Format selects the slog handler used for rendering log entries.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// ParseFormat parses ICA_MCP_LOG_FORMAT values. Unrecognized values fall
// back to FormatText.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatText
}

var defaultLogger *slog.Logger

// Init initializes the package-level logger. It should be called once at
// process startup, before any subsystem begins logging. output is almost
// always os.Stderr; stdout is reserved for the MCP wire protocol.
func Init(level LogLevel, format Format, output io.Writer) {
	opts := &slog.HandlerOptions{Level: level.SlogLevel()}

	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// InitForCLI initializes logging in text format at the given level, writing
// to output. Kept for callers that don't need to choose a format explicitly.
func InitForCLI(filterLevel LogLevel, output io.Writer) {
	Init(filterLevel, FormatText, output)
}

func logInternal(level LogLevel, subsystem string, err error, messageFmt string, args ...interface{}) {
	if defaultLogger == nil {
		Init(LevelInfo, FormatText, os.Stderr)
	}
	if !defaultLogger.Enabled(context.Background(), level.SlogLevel()) {
		return
	}

	msg := messageFmt
	if len(args) > 0 {
		msg = fmt.Sprintf(messageFmt, args...)
	}

	var attrs []slog.Attr
	attrs = append(attrs, slog.String("subsystem", subsystem))
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	defaultLogger.LogAttrs(context.Background(), level.SlogLevel(), msg, attrs...)
}

// Debug logs a debug message.
func Debug(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelDebug, subsystem, nil, messageFmt, args...)
}

// Info logs an informational message.
func Info(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelInfo, subsystem, nil, messageFmt, args...)
}

// Warn logs a warning message.
func Warn(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelWarn, subsystem, nil, messageFmt, args...)
}

// Error logs an error message.
func Error(subsystem string, err error, messageFmt string, args ...interface{}) {
	logInternal(LevelError, subsystem, err, messageFmt, args...)
}

// TruncateSessionID returns a truncated session ID for secure logging.
// Format: first 8 chars + "..." (e.g., "abc12345...").
func TruncateSessionID(sessionID string) string {
	if len(sessionID) <= 8 {
		return sessionID
	}
	return sessionID[:8] + "..."
}

// AuditEvent represents a structured audit log event for security-sensitive
// operations such as trust decisions and digest mismatches.
type AuditEvent struct {
	Action    string
	Outcome   string // "success" or "failure"
	SessionID string
	Target    string
	Details   string
	Error     string
}

// Audit logs a structured audit event at INFO level with an [AUDIT] prefix
// so log aggregation can filter on it independently of subsystem.
func Audit(event AuditEvent) {
	parts := make([]string, 0, 6)
	parts = append(parts, "action="+event.Action)
	parts = append(parts, "outcome="+event.Outcome)
	if event.SessionID != "" {
		parts = append(parts, "session="+event.SessionID)
	}
	if event.Target != "" {
		parts = append(parts, "target="+event.Target)
	}
	if event.Details != "" {
		parts = append(parts, "details="+event.Details)
	}
	if event.Error != "" {
		parts = append(parts, "error="+event.Error)
	}
	logInternal(LevelInfo, "AUDIT", nil, "[AUDIT] %s", strings.Join(parts, " "))
}
