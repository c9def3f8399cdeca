package config

import (
	"strconv"
)

// File is the YAML configuration file. Every leaf maps onto one environment
// variable (see envPairs); the file is a convenient way to set them.
type File struct {
	Model     ModelSection     `yaml:"model"`
	Embedding EmbeddingSection `yaml:"embedding"`
	Index     IndexSection     `yaml:"index"`
	Chunking  ChunkingSection  `yaml:"chunking"`
	Retrieval RetrievalSection `yaml:"retrieval"`
	Cache     CacheSection     `yaml:"cache"`
	Server    ServerSection    `yaml:"server"`
	Logging   LoggingSection   `yaml:"logging"`
	History   HistorySection   `yaml:"history"`
	Tracing   TracingSection   `yaml:"tracing"`
}

// ModelSection configures the chat model that writes answers.
type ModelSection struct {
	// Provider is ollama, openai, azure, bedrock or gemini.
	Provider string `yaml:"provider"`
	// MaxTokens caps the generated answer length.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature is the sampling temperature.
	Temperature float32 `yaml:"temperature"`

	Ollama struct {
		Host  string `yaml:"host"`
		Model string `yaml:"model"`
	} `yaml:"ollama"`
	OpenAI struct {
		APIKey  string `yaml:"api_key"`
		Model   string `yaml:"model"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"openai"`
	Azure struct {
		APIKey     string `yaml:"api_key"`
		Endpoint   string `yaml:"endpoint"`
		Deployment string `yaml:"deployment"`
		APIVersion string `yaml:"api_version"`
	} `yaml:"azure"`
	Bedrock struct {
		Region  string `yaml:"region"`
		ModelID string `yaml:"model_id"`
	} `yaml:"bedrock"`
	Gemini struct {
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model"`
	} `yaml:"gemini"`
}

// EmbeddingSection configures the embedding backend. Unset fields inherit
// from the model section's provider credentials.
type EmbeddingSection struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
}

// IndexSection selects the vector index.
type IndexSection struct {
	// Kind is flat, collection or qdrant.
	Kind string `yaml:"kind"`
	// Dir holds the flat and collection index files.
	Dir    string       `yaml:"dir"`
	Qdrant QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig holds the Qdrant connection settings.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
	APIKey     string `yaml:"api_key"`
	TLS        bool   `yaml:"tls"`
}

// ChunkingSection sets the chunk window in characters.
type ChunkingSection struct {
	MinSize    int     `yaml:"min_size"`
	MaxSize    int     `yaml:"max_size"`
	OverlapPct float32 `yaml:"overlap_pct"`
}

// RetrievalSection tunes ingest batching and query retrieval. Timeouts are
// Go duration strings such as "90s".
type RetrievalSection struct {
	Hybrid           bool   `yaml:"hybrid"`
	K                int    `yaml:"k"`
	FusedK           int    `yaml:"fused_k"`
	RRFKappa         int    `yaml:"rrf_kappa"`
	BatchSize        int    `yaml:"batch_size"`
	Concurrency      int    `yaml:"concurrency"`
	Dedupe           string `yaml:"dedupe"`
	EmbedTimeout     string `yaml:"embed_timeout"`
	GenerateTimeout  string `yaml:"generate_timeout"`
	MaxContextTokens int    `yaml:"max_context_tokens"`
}

// CacheSection configures the on-disk embedding cache.
type CacheSection struct {
	Dir      string `yaml:"dir"`
	Disabled bool   `yaml:"disabled"`
}

// ServerSection configures `docrag serve`.
type ServerSection struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

// LoggingSection sets the slog level (debug, info, warn, error) and format
// (json, text).
type LoggingSection struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HistorySection locates the query history database. "disabled" turns it
// off.
type HistorySection struct {
	DBPath string `yaml:"db_path"`
}

// TracingSection holds the Langfuse credentials.
type TracingSection struct {
	PublicKey string `yaml:"public_key"`
	SecretKey string `yaml:"secret_key"`
	Host      string `yaml:"host"`
}

// envPair is one environment variable the file can set. Empty values are
// skipped.
type envPair struct {
	key, value string
}

// envPairs flattens f into environment assignments. Zero numbers and false
// booleans are treated as unset.
func (f *File) envPairs() []envPair {
	m, e, ix, r := &f.Model, &f.Embedding, &f.Index, &f.Retrieval
	return []envPair{
		{"MODEL_PROVIDER", m.Provider},
		{"MODEL_MAX_TOKENS", itoa(m.MaxTokens)},
		{"MODEL_TEMPERATURE", ftoa(m.Temperature)},
		{"OLLAMA_HOST", m.Ollama.Host},
		{"OLLAMA_MODEL", m.Ollama.Model},
		{"OPENAI_API_KEY", m.OpenAI.APIKey},
		{"OPENAI_MODEL", m.OpenAI.Model},
		{"OPENAI_BASE_URL", m.OpenAI.BaseURL},
		{"AZURE_OPENAI_API_KEY", m.Azure.APIKey},
		{"AZURE_OPENAI_ENDPOINT", m.Azure.Endpoint},
		{"AZURE_OPENAI_DEPLOYMENT", m.Azure.Deployment},
		{"AZURE_OPENAI_API_VERSION", m.Azure.APIVersion},
		{"AWS_REGION", m.Bedrock.Region},
		{"BEDROCK_MODEL_ID", m.Bedrock.ModelID},
		{"GOOGLE_API_KEY", m.Gemini.APIKey},
		{"GEMINI_MODEL", m.Gemini.Model},

		{"EMBEDDING_PROVIDER", e.Provider},
		{"EMBEDDING_MODEL", e.Model},
		{"EMBEDDING_DIMENSIONS", itoa(e.Dimensions)},
		{"EMBEDDING_API_KEY", e.APIKey},
		{"EMBEDDING_ENDPOINT", e.Endpoint},

		{EnvIndexKind, ix.Kind},
		{EnvIndexDir, ix.Dir},
		{"QDRANT_HOST", ix.Qdrant.Host},
		{"QDRANT_PORT", itoa(ix.Qdrant.Port)},
		{"QDRANT_COLLECTION", ix.Qdrant.Collection},
		{"QDRANT_API_KEY", ix.Qdrant.APIKey},
		{"QDRANT_TLS", btoa(ix.Qdrant.TLS)},

		{EnvChunkMin, itoa(f.Chunking.MinSize)},
		{EnvChunkMax, itoa(f.Chunking.MaxSize)},
		{EnvChunkOverlap, ftoa(f.Chunking.OverlapPct)},

		{EnvHybrid, btoa(r.Hybrid)},
		{EnvTopK, itoa(r.K)},
		{EnvFusedK, itoa(r.FusedK)},
		{EnvRRFKappa, itoa(r.RRFKappa)},
		{EnvBatchSize, itoa(r.BatchSize)},
		{EnvConcurrency, itoa(r.Concurrency)},
		{EnvDedupe, r.Dedupe},
		{EnvEmbedTimeout, r.EmbedTimeout},
		{EnvGenerateTimeout, r.GenerateTimeout},
		{EnvMaxContextTokens, itoa(r.MaxContextTokens)},

		{EnvCacheDir, f.Cache.Dir},
		{EnvCacheDisabled, btoa(f.Cache.Disabled)},
		{EnvHost, f.Server.Host},
		{EnvPort, itoa(f.Server.Port)},
		{EnvAPIKey, f.Server.APIKey},
		{"LOG_LEVEL", f.Logging.Level},
		{"LOG_FORMAT", f.Logging.Format},
		{EnvHistoryDB, f.History.DBPath},
		{"LANGFUSE_PUBLIC_KEY", f.Tracing.PublicKey},
		{"LANGFUSE_SECRET_KEY", f.Tracing.SecretKey},
		{"LANGFUSE_HOST", f.Tracing.Host},
	}
}

func itoa(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// ftoa formats with the fewest digits that round-trip through float32.
func ftoa(v float32) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(float64(v), 'f', -1, 32)
}

func btoa(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
