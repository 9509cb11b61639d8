// Package logging configures structured logging for the rawsock CLI.
//
// Logs are JSON on stderr so that stdout stays free for command output
// (frames, interface lists, rendered config). Source locations are included
// and shortened to the module-relative path.
//
// Usage:
//
//	logger := logging.SetupLogger("warn", os.Stderr)
//	brokerLog := logging.WithComponent(logger, "broker")
//
// The helper binary does not log; its exit status is its only report.
package logging

import (
	"io"
	"log/slog"
	"path/filepath"
	"strings"
)

// SetupLogger creates a JSON logger writing to w at the given level.
// The level parameter accepts: "debug", "info", "warn", "error" (case-insensitive).
// Invalid levels default to "warn".
//
// The logger is also set as the default via slog.SetDefault.
func SetupLogger(level string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(level),
		AddSource:   true,
		ReplaceAttr: shortenSource,
	}

	logger := slog.New(slog.NewJSONHandler(w, opts))
	slog.SetDefault(logger)

	return logger
}

// shortenSource trims source file and function names to start at internal/
// or cmd/.
func shortenSource(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.SourceKey {
		return a
	}
	source, ok := a.Value.Any().(*slog.Source)
	if !ok {
		return a
	}
	if idx := moduleIndex(source.File); idx != -1 {
		source.File = source.File[idx:]
	} else {
		source.File = filepath.Base(source.File)
	}
	if idx := moduleIndex(source.Function); idx != -1 {
		source.Function = source.Function[idx:]
	}
	return a
}

func moduleIndex(s string) int {
	for _, dir := range []string{"internal/", "cmd/"} {
		if idx := strings.Index(s, dir); idx != -1 {
			return idx
		}
	}
	return -1
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// WithComponent returns a logger with a pre-set component attribute.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}
