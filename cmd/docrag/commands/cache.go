package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/config"
	"github.com/54b3r/docrag-go/internal/embedcache"
	"github.com/54b3r/docrag-go/internal/logging"
)

// NewCacheCmd constructs the `docrag cache` command group.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the embedding cache",
		Long: `The embedding cache stores one vector per (model, text) pair under
RAG_CACHE_DIR (default: ~/.docrag/cache), so re-ingesting unchanged text does
not call the embedding provider again.`,
	}
	cmd.AddCommand(newCacheStatsCmd(), newCacheClearCmd())
	return cmd
}

// openCache opens the configured cache directory without building an engine.
func openCache(cmd *cobra.Command) (*embedcache.Cache, error) {
	ragCfg, err := config.RAGFromEnv()
	if err != nil {
		return nil, err
	}
	if ragCfg.CacheDir == "" {
		return nil, fmt.Errorf("embedding cache is disabled (%s=true)", config.EnvCacheDisabled)
	}
	return embedcache.Open(ragCfg.CacheDir, logging.FromContext(cmd.Context()))
}

func newCacheStatsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the number and total size of cached embeddings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cache, err := openCache(cmd)
			if err != nil {
				return fmt.Errorf("cache stats: %w", err)
			}
			st, err := cache.Stats()
			if err != nil {
				return fmt.Errorf("cache stats: %w", err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(struct {
					Dir string `json:"dir"`
					embedcache.Stats
				}{cache.Dir(), st})
			}
			fmt.Fprintf(out, "%s: %d entries, %d bytes\n", cache.Dir(), st.Count, st.SizeBytes)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print statistics as JSON")
	return cmd
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached embedding",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cache, err := openCache(cmd)
			if err != nil {
				return fmt.Errorf("cache clear: %w", err)
			}
			n, err := cache.Clear()
			if err != nil {
				return fmt.Errorf("cache clear: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries from %s\n", n, cache.Dir())
			return nil
		},
	}
}
