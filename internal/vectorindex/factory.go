package vectorindex

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/54b3r/docrag-go/internal/rag"
)

// Config selects and configures a backend.
type Config struct {
	// Kind selects the backend. Empty means rag.StoreFlat.
	Kind rag.StoreKind
	// Dir is the index directory for the flat and collection backends.
	Dir string
	// Qdrant configures the qdrant backend.
	Qdrant QdrantConfig
}

// New constructs the backend named by cfg.Kind. It does not load persisted
// state; callers decide when to call Load.
func New(cfg Config) (rag.VectorIndex, error) {
	switch cfg.Kind {
	case "", rag.StoreFlat:
		if cfg.Dir == "" {
			return nil, rag.Errorf(rag.KindUser, "vectorindex: new", "flat index requires a directory")
		}
		return NewFlat(cfg.Dir), nil
	case rag.StoreCollection:
		if cfg.Dir == "" {
			return nil, rag.Errorf(rag.KindUser, "vectorindex: new", "collection index requires a directory")
		}
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, rag.E(rag.KindFatal, "vectorindex: new", err)
		}
		c, err := OpenCollection(filepath.Join(cfg.Dir, CollectionFile))
		if err != nil {
			return nil, rag.E(rag.KindFatal, "vectorindex: new", err)
		}
		return c, nil
	case rag.StoreQdrant:
		q, err := NewQdrant(cfg.Qdrant)
		if err != nil {
			return nil, rag.E(rag.KindProvider, "vectorindex: new", err)
		}
		return q, nil
	default:
		return nil, rag.E(rag.KindUser, "vectorindex: new",
			fmt.Errorf("unknown vector store %q (valid: flat, collection, qdrant)", cfg.Kind))
	}
}
