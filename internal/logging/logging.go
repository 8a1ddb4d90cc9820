package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns an info-level structured logger with secret redaction.
func New() *slog.Logger {
	return NewWithLevel("info")
}

// NewWithLevel returns a logger at the named level. Unknown names fall back
// to info. Output goes to stderr so decoded events on stdout stay clean.
func NewWithLevel(level string) *slog.Logger {
	return NewWriter(os.Stderr, level)
}

// NewWriter is NewWithLevel with an explicit destination.
func NewWriter(w io.Writer, level string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: redact,
	})
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func redact(groups []string, a slog.Attr) slog.Attr {
	if isSecretKey(a.Key) {
		a.Value = slog.StringValue("[redacted]")
	}
	return a
}

// Validator public keys are logged in the clear.
func isSecretKey(k string) bool {
	k = strings.ToLower(k)
	if k == "public_key" || k == "proposer" {
		return false
	}
	return strings.Contains(k, "token") || strings.Contains(k, "secret") || strings.Contains(k, "key") || strings.Contains(k, "pass")
}
