package rag

import (
	"context"
	"math"

	"github.com/philippgille/chromem-go"
	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"
)

// EmbeddingFunc computes a single embedding vector for text. It is an
// alias for chromem-go's own embedding function shape, so any of that
// library's ready-made backends (OpenAI, Ollama, ...) plug in directly
// without an adapter.
type EmbeddingFunc = chromem.EmbeddingFunc

// embedChunks runs embed over every chunk on a bounded worker pool. A
// chunk whose embedding call fails is logged and dropped; it
// contributes zero embeddings, never a pipeline failure, per the
// "a file that fails to embed a chunk ... continues" rule.
func embedChunks(ctx context.Context, chunks []DocumentChunk, embed EmbeddingFunc, concurrency int, log arbor.ILogger) []EmbeddingEntry {
	type slot struct {
		entry EmbeddingEntry
		ok    bool
	}
	slots := make([]slot, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			vec, err := embed(gctx, chunk.Content)
			if err != nil {
				if log != nil {
					log.Warn().Err(err).Str("chunk", chunk.ID).Msg("rag: embedding failed, skipping chunk")
				}
				return nil
			}
			slots[i] = slot{entry: EmbeddingEntry{Chunk: chunk, Embedding: vec, Norm: euclideanNorm(vec)}, ok: true}
			return nil
		})
	}
	// embed never returns an error we propagate (failures are swallowed
	// per-chunk above), so the only possible error here is ctx
	// cancellation, which callers observe via ctx.Err() themselves.
	_ = g.Wait()

	out := make([]EmbeddingEntry, 0, len(chunks))
	for _, s := range slots {
		if s.ok {
			out = append(out, s.entry)
		}
	}
	return out
}

func euclideanNorm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}
