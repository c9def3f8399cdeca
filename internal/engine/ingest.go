package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/docrag-go/internal/chunker"
	"github.com/54b3r/docrag-go/internal/loader"
	"github.com/54b3r/docrag-go/internal/rag"
)

// IngestResult summarizes one ingest call.
type IngestResult struct {
	// Documents is the number of non-empty documents loaded.
	Documents int `json:"documents"`
	// Chunks is the number of chunks produced by the chunker.
	Chunks int `json:"chunks"`
	// Duplicates is the number of chunks dropped as duplicates within the call.
	Duplicates int `json:"duplicates"`
	// Skipped is the number of chunks already indexed for their source.
	Skipped int `json:"skipped"`
	// Indexed is the number of chunks written to the index.
	Indexed int `json:"indexed"`
	// IndexSize is the index size after the call.
	IndexSize int `json:"index_size"`
	// Duration is the wall-clock time of the call.
	Duration time.Duration `json:"duration"`
}

// Ingest loads path (a file, directory, or http(s) URL), chunks, embeds and
// indexes it. Failures are reported as *rag.IngestError. When an embedding
// batch fails, the batches before it are still indexed and persisted and
// the result describes them.
func (e *Engine) Ingest(ctx context.Context, path string) (*IngestResult, error) {
	docs, err := e.cfg.Loader.Load(ctx, path)
	if err != nil {
		return nil, &rag.IngestError{Stage: rag.StageLoad, Err: err}
	}
	if len(docs) == 0 {
		return nil, &rag.IngestError{
			Stage: rag.StageLoad,
			Err:   rag.Errorf(rag.KindUser, "engine: ingest", "no readable documents found at %s", path),
		}
	}
	return e.IngestDocuments(ctx, docs)
}

// IngestDocuments runs the pipeline from chunking onwards on already loaded
// documents. Only one ingest runs at a time; a second caller blocks.
func (e *Engine) IngestDocuments(ctx context.Context, docs []loader.Document) (*IngestResult, error) {
	e.ingestMu.Lock()
	defer e.ingestMu.Unlock()

	start := time.Now()
	defer func() { e.metrics.ingestDuration.Observe(time.Since(start).Seconds()) }()

	res := &IngestResult{Documents: len(docs)}
	if len(docs) == 0 {
		return nil, &rag.IngestError{
			Stage: rag.StageLoad,
			Err:   rag.Errorf(rag.KindUser, "engine: ingest", "no documents to ingest"),
		}
	}

	chunks := e.prepare(docs, res)
	e.metrics.ingestChunks.WithLabelValues("duplicate").Add(float64(res.Duplicates))
	e.metrics.ingestChunks.WithLabelValues("skipped").Add(float64(res.Skipped))

	if len(chunks) == 0 {
		if res.Chunks > 0 && res.Skipped > 0 {
			// every chunk is already indexed for its source
			res.IndexSize = e.index.Len()
			res.Duration = time.Since(start)
			e.log.InfoContext(ctx, "ingest unchanged", "documents", res.Documents, "skipped", res.Skipped)
			return res, nil
		}
		return nil, &rag.IngestError{
			Stage: rag.StageChunk,
			Err:   rag.Errorf(rag.KindUser, "engine: ingest", "documents produced no chunks"),
		}
	}

	vecs, embedErr := e.embedAll(ctx, chunks)
	kept := chunks[:len(vecs)]

	if len(kept) > 0 {
		if err := e.checkDims(vecs); err != nil {
			return nil, &rag.IngestError{Stage: rag.StageIndex, Err: err}
		}
		if err := e.index.Add(ctx, vecs, kept); err != nil {
			return nil, &rag.IngestError{Stage: rag.StageIndex, Err: err}
		}
		e.rebuild()
		if err := e.index.Persist(ctx); err != nil {
			return nil, &rag.IngestError{Stage: rag.StagePersist, Succeeded: len(kept), Err: err}
		}
		e.metrics.ingestChunks.WithLabelValues("indexed").Add(float64(len(kept)))
	}

	res.Indexed = len(kept)
	res.IndexSize = e.index.Len()
	res.Duration = time.Since(start)

	if embedErr != nil {
		e.log.ErrorContext(ctx, "ingest aborted during embedding",
			"indexed", res.Indexed,
			"pending", len(chunks)-len(kept),
			"error", embedErr,
		)
		return res, &rag.IngestError{Stage: rag.StageEmbed, Succeeded: len(kept), Err: embedErr}
	}

	e.log.InfoContext(ctx, "ingest complete",
		"documents", res.Documents,
		"chunks", res.Chunks,
		"duplicates", res.Duplicates,
		"skipped", res.Skipped,
		"indexed", res.Indexed,
		"index_size", res.IndexSize,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// prepare chunks docs and drops duplicates, keeping first occurrences in
// document order.
func (e *Engine) prepare(docs []loader.Document, res *IngestResult) []rag.Chunk {
	indexed := e.snap.Load().seen
	batch := make(map[string]struct{})
	var out []rag.Chunk
	for _, d := range docs {
		for _, c := range chunker.Split(d.Text(), d.Source, e.cfg.Chunking) {
			res.Chunks++
			norm := rag.NormalizeText(c.Text)
			if norm == "" {
				continue
			}
			if e.cfg.Dedupe == DedupeSource {
				if _, ok := indexed[dedupeKey(c.SourceID, c.Text)]; ok {
					res.Skipped++
					continue
				}
			}
			if _, ok := batch[norm]; ok {
				res.Duplicates++
				continue
			}
			batch[norm] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// embedAll embeds chunks in BatchSize batches with up to EmbedConcurrency
// calls in flight. It returns the vectors of the longest prefix of
// successful batches, in chunk order, and the error of the first batch that
// did not complete. No new batch starts once one has failed.
func (e *Engine) embedAll(ctx context.Context, chunks []rag.Chunk) ([][]float32, error) {
	size := e.cfg.BatchSize
	nb := (len(chunks) + size - 1) / size
	results := make([][][]float32, nb)
	errs := make([]error, nb)

	var (
		g      errgroup.Group
		failed atomic.Bool
	)
	g.SetLimit(e.cfg.EmbedConcurrency)
	for b := range nb {
		if failed.Load() || ctx.Err() != nil {
			break
		}
		lo, hi := b*size, min((b+1)*size, len(chunks))
		texts := make([]string, 0, hi-lo)
		for _, c := range chunks[lo:hi] {
			texts = append(texts, c.Text)
		}
		g.Go(func() error {
			vecs, err := e.embed(ctx, texts)
			if err != nil {
				errs[b] = err
				failed.Store(true)
				return nil
			}
			results[b] = vecs
			return nil
		})
	}
	_ = g.Wait()

	var out [][]float32
	for b := range nb {
		if results[b] == nil {
			return out, firstError(ctx, errs)
		}
		out = append(out, results[b]...)
	}
	return out, nil
}

func firstError(ctx context.Context, errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return rag.E(rag.KindTransient, "engine: embed", err)
	}
	return rag.Errorf(rag.KindTransient, "engine: embed", "embedding stopped before all batches ran")
}

// embed runs one Embed call under EmbedTimeout and returns unit vectors.
func (e *Engine) embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.EmbedTimeout)
	defer cancel()

	vecs, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, rag.Classify("engine: embed", err)
	}
	if len(vecs) != len(texts) {
		return nil, rag.Errorf(rag.KindProvider, "engine: embed",
			"embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, rag.Errorf(rag.KindProvider, "engine: embed",
				"embedder returned an empty vector for text %q", rag.Truncate(texts[i], 64))
		}
		out[i] = normalize(v)
	}
	return out, nil
}

// checkDims verifies every vector shares one dimension and that it matches
// the index.
func (e *Engine) checkDims(vecs [][]float32) error {
	want := e.index.Dim()
	if want == 0 {
		want = len(vecs[0])
	}
	for i, v := range vecs {
		if len(v) != want {
			return rag.E(rag.KindFatal, "engine: ingest",
				fmt.Errorf("vector %d has dimension %d, index expects %d: %w", i, len(v), want, rag.ErrDimensionMismatch))
		}
	}
	return nil
}

// IsPartial reports whether err is an ingest failure after some chunks were
// indexed.
func IsPartial(err error) bool {
	var ie *rag.IngestError
	return errors.As(err, &ie) && ie.Succeeded > 0
}
