// Package audit records who ran what against the index. Entries go through
// the regular slog logger under an "audit:" message prefix, so they land in
// the same stream as the rest of the process output.
//
// Secret settings are logged as "set" or "unset", never by value.
package audit

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"strings"
)

// trackedEnv lists the settings recorded on every command start, in output
// order.
var trackedEnv = []string{
	"MODEL_PROVIDER",
	"OLLAMA_HOST", "OLLAMA_MODEL",
	"OPENAI_API_KEY", "OPENAI_MODEL",
	"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT",
	"GOOGLE_API_KEY", "GEMINI_MODEL",
	"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_API_KEY",
	"RAG_INDEX_KIND", "RAG_INDEX_DIR", "RAG_CACHE_DIR", "RAG_HYBRID", "RAG_DEDUPE",
	"QDRANT_HOST", "QDRANT_PORT", "QDRANT_COLLECTION", "QDRANT_API_KEY",
	"DOCRAG_API_KEY", "DOCRAG_HISTORY_DB",
	"LANGFUSE_PUBLIC_KEY", "LANGFUSE_SECRET_KEY",
	"LOG_LEVEL", "LOG_FORMAT",
}

// secretSuffixes mark a variable as secret by name.
var secretSuffixes = []string{"_API_KEY", "_SECRET_KEY", "_PUBLIC_KEY", "_TOKEN", "_PASSWORD"}

// IsSecret reports whether the named variable must be redacted.
func IsSecret(key string) bool {
	for _, s := range secretSuffixes {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}

// Redact returns the loggable form of an environment value: "set" or
// "unset" for secrets, the value itself (or "unset") otherwise.
func Redact(key, value string) string {
	switch {
	case value == "":
		return "unset"
	case IsSecret(key):
		return "set"
	default:
		return value
	}
}

// LogCommandStart records the command name, the config file in effect and
// the redacted environment.
func LogCommandStart(ctx context.Context, log *slog.Logger, command, configPath string) {
	env := make([]any, 0, len(trackedEnv))
	for _, k := range trackedEnv {
		env = append(env, slog.String(k, Redact(k, os.Getenv(k))))
	}
	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start",
		slog.String("command", command),
		slog.String("config_file", shortPath(configPath)),
		slog.Group("env", env...),
	)
}

// LogIngest records one ingest target and how many chunks it contributed.
// Failures are logged at warn level with the error kind.
func LogIngest(ctx context.Context, log *slog.Logger, target string, indexed int, err error) {
	attrs := []slog.Attr{
		slog.String("target", Target(target)),
		slog.Int("indexed", indexed),
	}
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	log.LogAttrs(ctx, level, "audit: ingest", attrs...)
}

// Target returns the loggable form of an ingest target. URLs lose their
// credentials, query and fragment; local paths have the home directory
// folded to "~".
func Target(t string) string {
	if u, err := url.Parse(t); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		u.User, u.RawQuery, u.Fragment = nil, "", ""
		u.ForceQuery = false
		return u.String()
	}
	return shortPath(t)
}

func shortPath(p string) string {
	if p == "" {
		return "none"
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" && strings.HasPrefix(p, home+string(os.PathSeparator)) {
		return "~" + p[len(home):]
	}
	return p
}
