package embedder

import (
	"log/slog"
	"os"
	"strings"

	"github.com/54b3r/docrag-go/internal/rag"
)

// chatModelMarkers are name fragments of chat models that users commonly
// paste into EMBEDDING_MODEL by mistake.
var chatModelMarkers = []string{
	"gpt-4", "gpt-3.5", "gpt-35", "o1", "o3",
	"llama2", "llama3", "llama-2", "llama-3",
	"mistral", "mixtral", "gemma", "phi-", "phi3",
	"claude", "command-r", "deepseek", "qwen",
}

func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, m := range chatModelMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// credential names a setting a backend cannot run without. Any of envs
// satisfies it, the first one is the override.
type credential struct {
	what string
	envs []string
}

// required lists the credentials each remote backend needs.
var required = map[string][]credential{
	"openai": {{"API key", []string{"EMBEDDING_API_KEY", "OPENAI_API_KEY"}}},
	"azure": {
		{"API key", []string{"EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY"}},
		{"endpoint", []string{"EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT"}},
	},
	"gemini": {{"API key", []string{"EMBEDDING_API_KEY", "GOOGLE_API_KEY"}}},
	"ollama": nil,
	"hash":   nil,
}

// Validate checks the embedding configuration before any document is
// touched. Missing credentials and unknown backends are user errors; a model
// name that looks like a chat model only logs a warning.
func Validate(log *slog.Logger) error {
	info := Resolve()
	if err := requireCredentials(info); err != nil {
		return err
	}

	if required[info.Backend] != nil && os.Getenv("EMBEDDING_PROVIDER") == "" {
		log.Warn("embedder: backend inherited from MODEL_PROVIDER",
			slog.String("backend", info.Backend),
			slog.String("hint", "set EMBEDDING_PROVIDER to choose the embedding backend explicitly"))
	}
	if looksLikeChatModel(info.Model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, embeddings will likely be poor",
			slog.String("model", info.Model))
	}
	return nil
}

// requireCredentials fails when info names a backend that cannot be built
// from the current environment.
func requireCredentials(info Info) error {
	if info.Backend == "bedrock" {
		return rag.Errorf(rag.KindUser, "embedder",
			"bedrock embedding is not supported, set EMBEDDING_PROVIDER to ollama, openai, azure, gemini or hash")
	}
	creds, ok := required[info.Backend]
	if !ok {
		return rag.Errorf(rag.KindUser, "embedder", "unknown backend %q", info.Backend)
	}
	for _, c := range creds {
		if firstEnv(c.envs...) == "" {
			return rag.Errorf(rag.KindUser, "embedder", "%s backend has no %s, set %s",
				info.Backend, c.what, strings.Join(c.envs, " or "))
		}
	}
	return nil
}
