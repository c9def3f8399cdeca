package engine

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/docrag-go/internal/answer"
	"github.com/54b3r/docrag-go/internal/hybrid"
	"github.com/54b3r/docrag-go/internal/rag"
)

// Query retrieves passages for question and asks the generator to answer
// from them. An empty index is not an error: the result explains that
// nothing has been ingested. When generation fails the result still carries
// the retrieved passages and the error is a *rag.QueryError.
func (e *Engine) Query(ctx context.Context, question string, k int) (*rag.AnswerResult, error) {
	start := time.Now()
	outcome := outcomeOK
	defer func() {
		e.metrics.queryTotal.WithLabelValues(outcome).Inc()
		e.metrics.queryDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	if e.index.Len() == 0 {
		outcome = outcomeEmpty
		return &rag.AnswerResult{
			Answer:          answer.NoDataAnswer,
			Passages:        []rag.Passage{},
			VectorStoreKind: e.index.Kind(),
		}, nil
	}
	if e.cfg.Generator == nil {
		outcome = outcomeError
		return nil, rag.Errorf(rag.KindUser, "engine: query", "no generator is configured")
	}

	passages, err := e.Search(ctx, question, k)
	if err != nil {
		outcome = outcomeError
		return nil, err
	}

	res := &rag.AnswerResult{Passages: passages, VectorStoreKind: e.index.Kind()}
	if len(passages) == 0 {
		res.Answer = answer.NoPassagesAnswer
		return res, nil
	}

	prompt := answer.Build(question, passages, e.cfg.MaxContextTokens)
	res.Passages = passages[:prompt.Used]
	if prompt.Used < len(passages) {
		e.log.DebugContext(ctx, "context trimmed to budget",
			"retrieved", len(passages),
			"used", prompt.Used,
			"max_tokens", e.cfg.MaxContextTokens,
		)
	}

	gctx, cancel := context.WithTimeout(ctx, e.cfg.GenerateTimeout)
	defer cancel()
	text, err := e.cfg.Generator.Complete(gctx, prompt.Messages)
	if err != nil {
		outcome = outcomeGenerator
		err = rag.Classify("engine: generate", err)
		e.log.ErrorContext(ctx, "generation failed", "passages", len(res.Passages), "error", err)
		return res, &rag.QueryError{Passages: len(res.Passages), Err: err}
	}
	res.Answer = text
	return res, nil
}

// Search returns the top passages for question without generating an
// answer, using hybrid retrieval when enabled. k <= 0 means DefaultK.
func (e *Engine) Search(ctx context.Context, question string, k int) ([]rag.Passage, error) {
	if strings.TrimSpace(question) == "" {
		return nil, rag.Errorf(rag.KindUser, "engine: search", "question must not be empty")
	}
	if k <= 0 {
		k = DefaultK
	}
	if e.index.Len() == 0 {
		return []rag.Passage{}, nil
	}
	if e.cfg.Hybrid {
		return e.HybridSearch(ctx, question, k)
	}
	return e.DenseSearch(ctx, question, k)
}

// DenseSearch ranks chunks by cosine similarity to the question. Vectors
// are unit length, so similarity is 1 - d/2 for squared L2 distance d.
func (e *Engine) DenseSearch(ctx context.Context, question string, k int) ([]rag.Passage, error) {
	hits, err := e.denseHits(ctx, question, k)
	if err != nil {
		return nil, err
	}
	out := make([]rag.Passage, len(hits))
	for i, h := range hits {
		out[i] = rag.Passage{
			Text:   h.Chunk.Text,
			Source: h.Chunk.SourceID,
			Score:  1 - float64(h.Distance)/2,
		}
	}
	return out, nil
}

func (e *Engine) denseHits(ctx context.Context, question string, k int) ([]rag.Hit, error) {
	vecs, err := e.embed(ctx, []string{question})
	if err != nil {
		return nil, err
	}
	hits, err := e.index.Search(ctx, vecs[0], k)
	if err != nil {
		return nil, rag.Classify("engine: search", err)
	}
	return hits, nil
}

// HybridSearch fuses the dense and BM25 top-k rankings with reciprocal rank
// fusion and returns FusedK passages scored by their fused score.
func (e *Engine) HybridSearch(ctx context.Context, question string, k int) ([]rag.Passage, error) {
	snap := e.snap.Load()

	var (
		hits    []rag.Hit
		lexical []hybrid.Scored
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hits, err = e.denseHits(gctx, question, k)
		return err
	})
	g.Go(func() error {
		if snap.bm25 != nil {
			lexical = snap.bm25.Search(question, k)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dense := make([]int, len(hits))
	byPos := make(map[int]rag.Chunk, len(hits))
	for i, h := range hits {
		dense[i] = h.Position
		byPos[h.Position] = h.Chunk
	}

	fusedK := e.cfg.FusedK
	switch {
	case fusedK == 0:
		fusedK = hybrid.DefaultFusedK
	case fusedK < 0:
		fusedK = k
	}

	var fused []hybrid.Scored
	if len(lexical) == 0 {
		fused = hybrid.Fuse(e.cfg.RRFKappa, fusedK, dense)
	} else {
		fused = hybrid.Fuse(e.cfg.RRFKappa, fusedK, dense, hybrid.Positions(lexical))
	}

	out := make([]rag.Passage, 0, len(fused))
	for _, f := range fused {
		c, ok := byPos[f.Position]
		if !ok {
			if f.Position >= len(snap.chunks) {
				continue
			}
			c = snap.chunks[f.Position]
		}
		out = append(out, rag.Passage{Text: c.Text, Source: c.SourceID, Score: f.Score})
	}
	return out, nil
}
