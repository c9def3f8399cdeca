package provider

import (
	"context"
	"os"
	"strconv"

	"github.com/cloudwego/eino/components/model"
)

// Default models used when the backend's model variable is unset.
const (
	defaultOllamaModel = "llama3"
	defaultOpenAIModel = "gpt-4o"
	defaultGeminiModel = "gemini-1.5-pro"
	defaultAzureAPI    = "2024-02-01"
	defaultAWSRegion   = "us-east-1"
)

// Answer generation defaults. Answers are grounded in retrieved passages,
// so the temperature stays low.
const (
	defaultMaxTokens   = 1024
	defaultTemperature = 0.2
)

// FromEnv resolves the answer generator's provider from the process
// environment.
//
//	MODEL_PROVIDER   ollama | openai | azure | bedrock | gemini (default ollama)
//	Ollama           OLLAMA_HOST, OLLAMA_MODEL
//	OpenAI           OPENAI_API_KEY, OPENAI_MODEL, OPENAI_BASE_URL
//	Azure            AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT,
//	                 AZURE_OPENAI_DEPLOYMENT, AZURE_OPENAI_API_VERSION
//	Bedrock          AWS_REGION, BEDROCK_MODEL_ID, BEDROCK_API_KEY, BEDROCK_BASE_URL
//	Gemini           GOOGLE_API_KEY, GEMINI_MODEL
//	Tuning           ANSWER_MAX_TOKENS (falls back to MODEL_MAX_TOKENS),
//	                 MODEL_TEMPERATURE
func FromEnv() *Config {
	return FromLookup(os.Getenv)
}

// FromLookup is FromEnv with an explicit variable source.
func FromLookup(getenv func(string) string) *Config {
	e := env(getenv)
	maxTokens := e.int("ANSWER_MAX_TOKENS", e.int("MODEL_MAX_TOKENS", defaultMaxTokens))

	return &Config{
		Backend: Backend(e.str("MODEL_PROVIDER", string(BackendOllama))),
		Ollama: ProviderOllama{
			Host:  e.str("OLLAMA_HOST", "http://localhost:11434"),
			Model: e.str("OLLAMA_MODEL", defaultOllamaModel),
		},
		OpenAI: ProviderOpenAI{
			APIKey:  e.str("OPENAI_API_KEY", ""),
			Model:   e.str("OPENAI_MODEL", defaultOpenAIModel),
			BaseURL: e.str("OPENAI_BASE_URL", ""),
		},
		AzureOpenAI: ProviderAzureOpenAI{
			APIKey:     e.str("AZURE_OPENAI_API_KEY", ""),
			Endpoint:   e.str("AZURE_OPENAI_ENDPOINT", ""),
			Deployment: e.str("AZURE_OPENAI_DEPLOYMENT", ""),
			APIVersion: e.str("AZURE_OPENAI_API_VERSION", defaultAzureAPI),
		},
		Bedrock: ProviderBedrock{
			AWSRegion: e.str("AWS_REGION", defaultAWSRegion),
			ModelID:   e.str("BEDROCK_MODEL_ID", ""),
			APIKey:    e.str("BEDROCK_API_KEY", ""),
			BaseURL:   e.str("BEDROCK_BASE_URL", ""),
		},
		Gemini: ProviderGemini{
			APIKey: e.str("GOOGLE_API_KEY", ""),
			Model:  e.str("GEMINI_MODEL", defaultGeminiModel),
		},
		Tuning: SharedTuning{
			MaxTokens:   maxTokens,
			Temperature: e.float32("MODEL_TEMPERATURE", defaultTemperature),
		},
	}
}

// NewFromEnv builds the chat model selected by FromEnv.
func NewFromEnv(ctx context.Context) (model.BaseChatModel, *Config, error) {
	cfg := FromEnv()
	m, err := New(ctx, cfg)
	return m, cfg, err
}

// New validates cfg and builds the chat model for its backend.
func New(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	build := map[Backend]func(context.Context, *Config) (model.BaseChatModel, error){
		BackendOllama:  newOllama,
		BackendOpenAI:  newOpenAI,
		BackendAzure:   newAzure,
		BackendBedrock: newBedrock,
		BackendGemini:  newGemini,
	}[cfg.Backend]
	return build(ctx, cfg)
}

// env reads typed settings; unparseable numbers fall back to the default.
type env func(string) string

func (e env) str(key, fallback string) string {
	if v := e(key); v != "" {
		return v
	}
	return fallback
}

func (e env) int(key string, fallback int) int {
	if i, err := strconv.Atoi(e(key)); err == nil {
		return i
	}
	return fallback
}

func (e env) float32(key string, fallback float32) float32 {
	if f, err := strconv.ParseFloat(e(key), 32); err == nil {
		return float32(f)
	}
	return fallback
}
