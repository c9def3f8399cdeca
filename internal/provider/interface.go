// Package provider selects and constructs the chat model that backs answer
// generation. Supported backends: Ollama, OpenAI, Azure OpenAI, AWS Bedrock
// (through the ark runtime), Google Gemini.
package provider

import (
	"github.com/54b3r/docrag-go/internal/rag"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendBedrock selects AWS Bedrock.
	BackendBedrock Backend = "bedrock"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// ProviderOllama holds Ollama settings.
type ProviderOllama struct {
	// Host is the Ollama base URL.
	Host string
	// Model is the chat model name (e.g. "llama3").
	Model string
}

// ProviderOpenAI holds OpenAI settings.
type ProviderOpenAI struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// Model is the chat model name (e.g. "gpt-4o").
	Model string
	// BaseURL overrides the API endpoint for OpenAI-compatible servers.
	BaseURL string
}

// ProviderAzureOpenAI holds Azure OpenAI settings.
type ProviderAzureOpenAI struct {
	// APIKey is the Azure OpenAI key.
	APIKey string
	// Endpoint is the resource endpoint, e.g. https://my.openai.azure.com.
	Endpoint string
	// Deployment is the chat deployment name.
	Deployment string
	// APIVersion is the REST API version.
	APIVersion string
}

// ProviderBedrock holds AWS Bedrock settings.
type ProviderBedrock struct {
	// AWSRegion is the Bedrock region.
	AWSRegion string
	// ModelID is the Bedrock model identifier.
	ModelID string
	// APIKey is an optional bearer key for the runtime endpoint.
	APIKey string
	// BaseURL overrides the runtime endpoint.
	BaseURL string
}

// ProviderGemini holds Google Gemini settings.
type ProviderGemini struct {
	// APIKey is the Google AI Studio key.
	APIKey string
	// Model is the Gemini model name.
	Model string
}

// SharedTuning holds generation parameters common to every backend.
type SharedTuning struct {
	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values. Only the section matching
// Backend is consulted.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend
	// Ollama configures BackendOllama.
	Ollama ProviderOllama
	// OpenAI configures BackendOpenAI.
	OpenAI ProviderOpenAI
	// AzureOpenAI configures BackendAzure.
	AzureOpenAI ProviderAzureOpenAI
	// Bedrock configures BackendBedrock.
	Bedrock ProviderBedrock
	// Gemini configures BackendGemini.
	Gemini ProviderGemini
	// Tuning applies to every backend that supports it.
	Tuning SharedTuning
}

// Validate reports the first missing setting for the selected backend as a
// user error naming the environment variable that supplies it.
func (c *Config) Validate() error {
	var missing string
	switch c.Backend {
	case BackendOllama:
		missing = firstMissing(c.Ollama.Model, "OLLAMA_MODEL")
	case BackendOpenAI:
		missing = firstMissing(c.OpenAI.APIKey, "OPENAI_API_KEY", c.OpenAI.Model, "OPENAI_MODEL")
	case BackendAzure:
		missing = firstMissing(
			c.AzureOpenAI.APIKey, "AZURE_OPENAI_API_KEY",
			c.AzureOpenAI.Endpoint, "AZURE_OPENAI_ENDPOINT",
			c.AzureOpenAI.Deployment, "AZURE_OPENAI_DEPLOYMENT",
		)
	case BackendBedrock:
		missing = firstMissing(c.Bedrock.ModelID, "BEDROCK_MODEL_ID", c.Bedrock.AWSRegion, "AWS_REGION")
	case BackendGemini:
		missing = firstMissing(c.Gemini.APIKey, "GOOGLE_API_KEY", c.Gemini.Model, "GEMINI_MODEL")
	default:
		return rag.Errorf(rag.KindUser, "provider", "unknown backend %q, valid values: ollama, openai, azure, bedrock, gemini", c.Backend)
	}
	if missing != "" {
		return rag.Errorf(rag.KindUser, "provider", "%s requires %s", c.Backend, missing)
	}
	return nil
}

// firstMissing takes (value, envName) pairs and returns the env name of the
// first empty value.
func firstMissing(pairs ...string) string {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i] == "" {
			return pairs[i+1]
		}
	}
	return ""
}

// ModelName returns the model (or deployment) name of the selected backend.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendBedrock:
		return c.Bedrock.ModelID
	case BackendGemini:
		return c.Gemini.Model
	}
	return ""
}
