package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/audit"
	"github.com/54b3r/docrag-go/internal/engine"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// NewIngestCmd constructs the `docrag ingest` command, which loads, chunks,
// embeds and indexes documents.
func NewIngestCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ingest <path|url>...",
		Short: "Ingest files, directories or URLs into the vector index",
		Long: `Load documents, split them into overlapping chunks, embed the chunks and
add them to the vector index. Directories are walked recursively; .txt, .md,
.rst, .html and .pdf files are picked up. http(s) URLs are fetched.

The index is persisted after every successful batch. If embedding fails part
way, the chunks embedded so far stay indexed and the command reports the
failing stage.

Environment variables:
  RAG_INDEX_KIND       flat | collection | qdrant (default: flat)
  RAG_INDEX_DIR        Index directory (default: ~/.docrag/index)
  RAG_DEDUPE           batch | source (default: batch)
  RAG_CHUNK_MIN/MAX    Chunk window in characters (default: 800/1000)
  EMBEDDING_PROVIDER   ollama | openai | azure | gemini | hash

Examples:
  docrag ingest ./docs
  docrag ingest notes.md handbook.pdf
  docrag ingest https://example.com/guide.html`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			rt, err := buildEngine(ctx, log, engineOptions{})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = rt.Close() }()

			out := cmd.OutOrStdout()
			for _, target := range args {
				res, err := rt.engine.Ingest(ctx, target)
				indexed := 0
				if res != nil {
					indexed = res.Indexed
				}
				audit.LogIngest(ctx, log, target, indexed, err)

				if asJSON {
					if encErr := writeIngestJSON(out, target, res, err); encErr != nil {
						return encErr
					}
				} else if res != nil {
					printIngest(out, target, res)
				}
				if err != nil {
					if engine.IsPartial(err) {
						return fmt.Errorf("ingest %s: partially indexed: %w", target, err)
					}
					return fmt.Errorf("ingest %s: %w", target, err)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON result per target")

	return cmd
}

func printIngest(w io.Writer, target string, res *engine.IngestResult) {
	fmt.Fprintf(w, "%s: %d documents, %d chunks, %d indexed", target, res.Documents, res.Chunks, res.Indexed)
	if res.Duplicates > 0 {
		fmt.Fprintf(w, ", %d duplicates", res.Duplicates)
	}
	if res.Skipped > 0 {
		fmt.Fprintf(w, ", %d already indexed", res.Skipped)
	}
	fmt.Fprintf(w, " (index size %d, %s)\n", res.IndexSize, res.Duration.Round(time.Millisecond))
}

// ingestLine is the --json output for one target.
type ingestLine struct {
	Target string               `json:"target"`
	Result *engine.IngestResult `json:"result,omitempty"`
	Stage  rag.Stage            `json:"stage,omitempty"`
	Error  string               `json:"error,omitempty"`
	Kind   string               `json:"kind,omitempty"`
}

func writeIngestJSON(w io.Writer, target string, res *engine.IngestResult, err error) error {
	line := ingestLine{Target: target, Result: res}
	if err != nil {
		line.Error = err.Error()
		line.Kind = rag.KindOf(err).String()
		if ie, ok := asIngestError(err); ok {
			line.Stage = ie.Stage
		}
	}
	return json.NewEncoder(w).Encode(line)
}
