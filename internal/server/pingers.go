package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// OllamaPinger checks that an Ollama server is up and has the model a
// component needs. GET /api/tags lists pulled models without loading any.
type OllamaPinger struct {
	// name labels the probe in readiness responses, e.g. "ollama-embedder".
	name   string
	host   string
	model  string
	client *http.Client
}

// NewOllamaPinger probes host for model. An empty model only checks that the
// server answers.
func NewOllamaPinger(name, host, model string) *OllamaPinger {
	return &OllamaPinger{
		name:   name,
		host:   strings.TrimRight(host, "/"),
		model:  model,
		client: &http.Client{},
	}
}

// Name implements Pinger.
func (p *OllamaPinger) Name() string { return p.name }

type ollamaTags struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Ping fails when the server is unreachable, answers non-200, or has not
// pulled the model.
func (p *OllamaPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.host+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama: build probe: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: status %d", resp.StatusCode)
	}
	if p.model == "" {
		return nil
	}

	var tags ollamaTags
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("ollama: decode tags: %w", err)
	}
	for _, m := range tags.Models {
		if modelMatches(m.Name, p.model) {
			return nil
		}
	}
	return fmt.Errorf("ollama: model %q is not pulled", p.model)
}

// modelMatches treats a bare model name as its ":latest" tag.
func modelMatches(have, want string) bool {
	if !strings.Contains(want, ":") {
		want += ":latest"
	}
	if !strings.Contains(have, ":") {
		have += ":latest"
	}
	return have == want
}

// QdrantPinger probes Qdrant with its HealthCheck RPC.
type QdrantPinger struct {
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name implements Pinger.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping implements Pinger.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: %w", err)
	}
	return nil
}
