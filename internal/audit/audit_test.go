package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestRedact(t *testing.T) {
	t.Parallel()
	tests := []struct {
		key, value, want string
	}{
		{"DOCRAG_API_KEY", "sk-abc123", "set"},
		{"LANGFUSE_SECRET_KEY", "s", "set"},
		{"LANGFUSE_PUBLIC_KEY", "p", "set"},
		{"OPENAI_API_KEY", "", "unset"},
		{"MODEL_PROVIDER", "azure", "azure"},
		{"MODEL_PROVIDER", "", "unset"},
		{"QDRANT_HOST", "qdrant.internal", "qdrant.internal"},
	}
	for _, tt := range tests {
		if got := Redact(tt.key, tt.value); got != tt.want {
			t.Errorf("Redact(%q, %q) = %q, want %q", tt.key, tt.value, got, tt.want)
		}
	}
}

func TestTrackedSecretsAreRedacted(t *testing.T) {
	t.Parallel()
	for _, k := range trackedEnv {
		if strings.Contains(k, "KEY") && !IsSecret(k) {
			t.Errorf("%s looks like a credential but is not redacted", k)
		}
	}
}

func TestTarget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"https://example.com/doc.html?token=secret", "https://example.com/doc.html"},
		{"http://example.com/a#frag", "http://example.com/a"},
		{"https://user:pw@example.com/a", "https://example.com/a"},
		{"/srv/docs", "/srv/docs"},
		{"", "none"},
	}
	for _, tt := range tests {
		if got := Target(tt.in); got != tt.want {
			t.Errorf("Target(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return
	}
	if got := Target(home + "/.docrag/config.yaml"); got != "~/.docrag/config.yaml" {
		t.Errorf("home path not folded: %q", got)
	}
}

func TestLogCommandStart(t *testing.T) {
	t.Setenv("DOCRAG_API_KEY", "hunter2")
	t.Setenv("MODEL_PROVIDER", "ollama")

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	LogCommandStart(context.Background(), log, "serve", "")

	if strings.Contains(buf.String(), "hunter2") {
		t.Fatalf("secret leaked into audit log: %s", buf.String())
	}
	var entry struct {
		Msg     string            `json:"msg"`
		Command string            `json:"command"`
		Config  string            `json:"config_file"`
		Env     map[string]string `json:"env"`
	}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.Msg != "audit: command start" || entry.Command != "serve" || entry.Config != "none" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Env["DOCRAG_API_KEY"] != "set" || entry.Env["MODEL_PROVIDER"] != "ollama" {
		t.Errorf("env group = %v", entry.Env)
	}
}

func TestLogIngest_FailureIsWarn(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	LogIngest(context.Background(), log, "https://example.com/x?sig=1", 0, errors.New("boom"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["level"] != "WARN" || entry["target"] != "https://example.com/x" || entry["error"] != "boom" {
		t.Errorf("unexpected entry: %v", entry)
	}
}
