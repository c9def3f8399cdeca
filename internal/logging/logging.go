// Package logging provides the structured logger shared by the CLI, the
// engine and the HTTP server. It is built on [log/slog], configured once at
// startup via [New] and carried through request contexts using
// [WithLogger] / [FromContext].
//
// Environment variables:
//
//	LOG_LEVEL  = debug | info | warn | error  (default: info)
//	LOG_FORMAT = json | text                  (default: json)
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Environment variable names read by New.
const (
	EnvLevel  = "LOG_LEVEL"
	EnvFormat = "LOG_FORMAT"
)

// contextKey is an unexported type for context keys in this package.
type contextKey struct{}

// Options configures a logger independently of the environment.
type Options struct {
	// Level is the minimum severity: debug, info, warn or error.
	Level string
	// Format is "json" or "text". Anything else selects json.
	Format string
	// AddSource records the caller's file and line on every record.
	AddSource bool
}

// New constructs a [*slog.Logger] writing to stderr from LOG_LEVEL and
// LOG_FORMAT. Stdout is left for command output such as answers.
func New() *slog.Logger {
	return NewWriter(os.Stderr, Options{
		Level:  os.Getenv(EnvLevel),
		Format: os.Getenv(EnvFormat),
	})
}

// NewWriter constructs a logger that writes to w.
func NewWriter(w io.Writer, opts Options) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: parseLevel(opts.Level), AddSource: opts.AddSource}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		handler = slog.NewTextHandler(w, hopts)
	} else {
		handler = slog.NewJSONHandler(w, hopts)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the [*slog.Logger] stored in ctx, or [slog.Default]
// when none is present.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
