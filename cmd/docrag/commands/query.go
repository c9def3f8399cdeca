package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/answer"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/tracing"
)

// NewQueryCmd constructs the `docrag query` command, which retrieves the
// most relevant passages and asks the chat model to answer from them.
func NewQueryCmd() *cobra.Command {
	var (
		k            int
		asJSON       bool
		showPassages bool
	)

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a question from the indexed documents",
		Long: `Embed the question, retrieve the top-k passages (dense, or BM25 + dense
fused with reciprocal rank fusion when RAG_HYBRID=true) and ask the chat
model to answer using only those passages. Sources are listed after the
answer in the order they were cited.

If the model call fails the retrieved passages are still printed.

Examples:
  docrag query "Where is St Andrews?"
  docrag query -k 8 --passages "How do I rotate the API key?"
  MODEL_PROVIDER=openai docrag query --json "What changed in v2?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			flush, enabled := tracing.Install(tracing.FromEnv())
			if enabled {
				defer flush()
			}

			rt, err := buildEngine(ctx, log, engineOptions{generator: true})
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer func() { _ = rt.Close() }()

			if k <= 0 {
				k = rt.rag.TopK
			}
			question := strings.Join(args, " ")
			res, qerr := rt.engine.Query(ctx, question, k)

			out := cmd.OutOrStdout()
			if res != nil {
				if asJSON {
					if err := json.NewEncoder(out).Encode(res); err != nil {
						return err
					}
				} else {
					printAnswer(out, res, showPassages || qerr != nil)
				}
			}
			if qerr != nil {
				return fmt.Errorf("query: %w", qerr)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "Number of passages to retrieve (default: RAG_TOP_K or 5)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	cmd.Flags().BoolVar(&showPassages, "passages", false, "Print the retrieved passages after the answer")

	return cmd
}

// NewSearchCmd constructs the `docrag search` command: retrieval only, no
// chat model required.
func NewSearchCmd() *cobra.Command {
	var (
		k      int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "search <question>",
		Short: "Print the passages most relevant to a question",
		Long: `Retrieve the top-k passages for a question without generating an answer.
Scores are cosine similarity in dense mode and accumulated RRF scores in
hybrid mode.

Examples:
  docrag search "St Andrews"
  RAG_HYBRID=true docrag search -k 10 "error code E1042"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			rt, err := buildEngine(ctx, log, engineOptions{})
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer func() { _ = rt.Close() }()

			if k <= 0 {
				k = rt.rag.TopK
			}
			passages, err := rt.engine.Search(ctx, strings.Join(args, " "), k)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(passages)
			}
			if len(passages) == 0 {
				fmt.Fprintln(out, "no passages found")
				return nil
			}
			printPassages(out, passages)
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "Number of passages to retrieve (default: RAG_TOP_K or 5)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print passages as JSON")

	return cmd
}

func printAnswer(w io.Writer, res *rag.AnswerResult, withPassages bool) {
	fmt.Fprintln(w, strings.TrimSpace(res.Answer))
	if len(res.Passages) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Sources:")
	for i, p := range res.Passages {
		fmt.Fprintf(w, "  [%d] %s\n", i+1, p.Source)
	}
	if withPassages {
		fmt.Fprintln(w)
		printPassages(w, res.Passages)
	}
}

func printPassages(w io.Writer, passages []rag.Passage) {
	for i, p := range passages {
		fmt.Fprintf(w, "%s (score %.4f)\n\n", answer.FormatPassage(i+1, p), p.Score)
	}
}
