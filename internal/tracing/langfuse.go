// Package tracing wires optional Langfuse tracing into the eino callback
// system so every generation call made while answering a query is recorded.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// DefaultHost is used when LANGFUSE_HOST is unset.
const DefaultHost = "http://localhost:3000"

// Config holds Langfuse credentials.
type Config struct {
	// Host is the Langfuse API base URL.
	Host string
	// PublicKey and SecretKey authenticate the project.
	PublicKey string
	SecretKey string
	// Release tags traces with the binary version.
	Release string
}

// FromEnv reads LANGFUSE_HOST, LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY.
func FromEnv() Config {
	return Config{
		Host:      os.Getenv("LANGFUSE_HOST"),
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
	}
}

// Enabled reports whether both keys are present.
func (c Config) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// Setup builds the Langfuse callback handler. It returns a flush function
// that must be called before process exit to send buffered traces. When
// the config is not enabled it returns nil, nil, false.
func Setup(cfg Config) (callbacks.Handler, func(), bool) {
	if !cfg.Enabled() {
		return nil, nil, false
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      cfg.Host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
		Name:      "docrag",
		Release:   cfg.Release,
	})
	return handler, flusher, true
}

// Install registers the handler globally so every eino component reports
// to Langfuse. It returns a flush function, which is a no-op when tracing
// is disabled.
func Install(cfg Config) (flush func(), enabled bool) {
	handler, flusher, ok := Setup(cfg)
	if !ok {
		return func() {}, false
	}
	callbacks.AppendGlobalHandlers(handler)
	return flusher, true
}
