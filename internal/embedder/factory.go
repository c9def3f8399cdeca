package embedder

import (
	"cmp"
	"context"
	"os"
	"strconv"

	"github.com/54b3r/docrag-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel  = "nomic-embed-text"
	defaultOpenAIModel  = "text-embedding-3-small"
	defaultBedrockModel = "amazon.titan-embed-text-v2"
	defaultGeminiModel  = "text-embedding-004"

	defaultOllamaHost = "http://localhost:11434"
	defaultOpenAIURL  = "https://api.openai.com/v1"
)

// apiKeyEnv is the chat provider variable each backend inherits its key from.
var apiKeyEnv = map[string]string{
	"openai": "OPENAI_API_KEY",
	"azure":  "AZURE_OPENAI_API_KEY",
	"gemini": "GOOGLE_API_KEY",
}

// Info describes the embedding backend resolved from the environment. Model
// is folded into every embedding cache key, so two backends serving the same
// model name must not share a cache directory.
type Info struct {
	// Backend is one of ollama, openai, azure, gemini, hash.
	Backend string
	// Model is the embedding model or deployment name.
	Model string
	// Dimensions is the requested vector size, 0 for the model default.
	Dimensions int
}

// Resolve reads the embedding backend selection from the environment.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER, if unset inherits MODEL_PROVIDER (default: ollama)
//  2. EMBEDDING_MODEL overrides the default model for the resolved backend
//  3. EMBEDDING_DIMENSIONS overrides the model's default dimensions
func Resolve() Info {
	backend := os.Getenv("EMBEDDING_PROVIDER")
	if backend == "" {
		backend = getEnvOrDefault("MODEL_PROVIDER", "ollama")
	}
	info := Info{Backend: backend, Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0)}
	switch backend {
	case "ollama":
		info.Model = getEnvOrDefault("EMBEDDING_MODEL", defaultOllamaModel)
	case "openai", "azure":
		info.Model = getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel)
	case "gemini":
		info.Model = getEnvOrDefault("EMBEDDING_MODEL", defaultGeminiModel)
	case "bedrock":
		info.Model = getEnvOrDefault("EMBEDDING_MODEL", defaultBedrockModel)
	case "hash":
		if info.Dimensions <= 0 {
			info.Dimensions = DefaultHashDimensions
		}
		info.Model = "hash-" + strconv.Itoa(info.Dimensions)
	}
	return info
}

// NewFromEnv builds the embedder selected by Resolve. Credentials fall back
// to the chat provider's variables; EMBEDDING_API_KEY and EMBEDDING_ENDPOINT
// take precedence when set.
func NewFromEnv(ctx context.Context) (rag.Embedder, Info, error) {
	info := Resolve()
	if err := requireCredentials(info); err != nil {
		return nil, info, err
	}
	apiKey := firstEnv("EMBEDDING_API_KEY", apiKeyEnv[info.Backend])

	switch info.Backend {
	case "ollama":
		return NewOllamaEmbedder(&OllamaConfig{
			Host:      cmp.Or(firstEnv("EMBEDDING_ENDPOINT", "OLLAMA_HOST"), defaultOllamaHost),
			Model:     info.Model,
			BatchSize: getEnvInt("EMBEDDING_BATCH", 0),
		}), info, nil
	case "openai":
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    cmp.Or(os.Getenv("EMBEDDING_ENDPOINT"), defaultOpenAIURL),
			APIKey:     apiKey,
			Model:      info.Model,
			Dimensions: info.Dimensions,
		}), info, nil
	case "azure":
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    firstEnv("EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT"),
			APIKey:     apiKey,
			Model:      info.Model,
			Dimensions: info.Dimensions,
			Azure:      true,
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
		}), info, nil
	case "gemini":
		emb, err := NewGeminiEmbedder(ctx, &GeminiConfig{APIKey: apiKey, Model: info.Model, Dimensions: info.Dimensions})
		if err != nil {
			return nil, info, rag.E(rag.KindProvider, "embedder", err)
		}
		return emb, info, nil
	default: // hash
		return NewHashEmbedder(info.Dimensions), info, nil
	}
}

func getEnvOrDefault(key, fallback string) string {
	return cmp.Or(os.Getenv(key), fallback)
}

// firstEnv returns the first non-empty value among keys. Empty key names
// are skipped.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if k == "" {
			continue
		}
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func getEnvInt(key string, fallback int) int {
	if i, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return i
	}
	return fallback
}
