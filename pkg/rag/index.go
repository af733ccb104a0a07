package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/repoagent/pkg/events"
)

// Indexer owns one storage directory of per-repository EmbeddingIndex
// files and implements the discover -> chunk -> embed -> persist
// pipeline plus cosine-similarity retrieval over the result.
type Indexer struct {
	cfg Config
	log arbor.ILogger
}

// NewIndexer creates an Indexer storing indices under cfg.StorageDir.
func NewIndexer(cfg Config, log arbor.ILogger) *Indexer {
	return &Indexer{cfg: cfg.withDefaults(), log: log}
}

// IndexRepository runs the full pipeline against root and persists the
// resulting EmbeddingIndex, overwriting any prior index for the same
// repository. If bus is non-nil, it emits a cumulative KindRAGIndexing
// event as each file finishes chunking, and a final isComplete=true
// event once all chunks are embedded.
func (idx *Indexer) IndexRepository(ctx context.Context, bus *events.Bus, repository, root string, embed EmbeddingFunc) (*EmbeddingIndex, error) {
	files, err := Discover(ctx, root, idx.cfg.IncludeExtensions, idx.cfg.ExcludeGlobs)
	if err != nil {
		return nil, fmt.Errorf("rag: discover %s: %w", root, err)
	}

	perFileCap := idx.cfg.MaxChunks / 10
	if perFileCap < 1 {
		perFileCap = 1
	}

	var allChunks []DocumentChunk
	filesIndexed := 0
	for _, rel := range files {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if len(allChunks) >= idx.cfg.MaxChunks {
			if idx.log != nil {
				idx.log.Warn().Str("repository", repository).Int("cap", idx.cfg.MaxChunks).Msg("rag: maxChunks reached, remaining files skipped")
			}
			break
		}

		content, readErr := os.ReadFile(filepath.Join(root, rel))
		if readErr != nil {
			if idx.log != nil {
				idx.log.Warn().Err(readErr).Str("file", rel).Msg("rag: skipping unreadable file")
			}
			continue
		}

		chunks := Chunk(repository, rel, string(content), idx.cfg)
		if len(chunks) > perFileCap {
			chunks = chunks[:perFileCap]
		}
		remaining := idx.cfg.MaxChunks - len(allChunks)
		if len(chunks) > remaining {
			chunks = chunks[:remaining]
		}
		allChunks = append(allChunks, chunks...)
		filesIndexed++

		if bus != nil {
			bus.Emit(events.RAGIndexing(filesIndexed, len(allChunks), false))
		}
	}

	entries := embedChunks(ctx, allChunks, embed, idx.cfg.WorkerConcurrency, idx.log)

	index := &EmbeddingIndex{
		Repository: repository,
		CreatedAt:  time.Now(),
		ModelName:  idx.cfg.EmbeddingModel,
		Entries:    entries,
	}

	if bus != nil {
		bus.Emit(events.RAGIndexing(filesIndexed, len(entries), true))
	}

	if err := idx.persist(index); err != nil {
		return nil, err
	}
	return index, nil
}

var repoNameSanitizer = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func sanitizeRepoName(repository string) string {
	return repoNameSanitizer.ReplaceAllString(repository, "_")
}

func (idx *Indexer) path(repository string) string {
	return filepath.Join(idx.cfg.StorageDir, sanitizeRepoName(repository)+".json")
}

// persist writes index atomically: a temp file in the same directory is
// written, then renamed over the final path, so readers never observe a
// partially written index. The temp file is not fsynced.
func (idx *Indexer) persist(index *EmbeddingIndex) error {
	if err := os.MkdirAll(idx.cfg.StorageDir, 0o755); err != nil {
		return fmt.Errorf("rag: create storage dir: %w", err)
	}

	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("rag: marshal index: %w", err)
	}

	final := idx.path(index.Repository)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("rag: write temp index: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rag: rename index into place: %w", err)
	}
	return nil
}

// Load reads the persisted index for repository. A missing file is not
// an error: it returns (nil, false, nil), so searching a repository
// that was never indexed yields an empty result.
func (idx *Indexer) Load(repository string) (*EmbeddingIndex, bool, error) {
	data, err := os.ReadFile(idx.path(repository))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("rag: read index: %w", err)
	}
	var index EmbeddingIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, false, fmt.Errorf("rag: decode index: %w", err)
	}
	return &index, true, nil
}

// Search ranks the repository's persisted entries against queryEmbedding
// by cosine similarity, filters anything below minSimilarity, and
// returns the top topK, 1-ranked. A missing index yields an empty,
// non-error result.
func (idx *Indexer) Search(repository string, queryEmbedding []float32, topK int, minSimilarity float64) ([]SearchResult, error) {
	index, ok, err := idx.Load(repository)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	qNorm := euclideanNorm(queryEmbedding)
	var matches []SearchResult
	for _, e := range index.Entries {
		sim := cosineSimilarity(queryEmbedding, qNorm, e.Embedding, e.Norm)
		if sim < minSimilarity {
			continue
		}
		matches = append(matches, SearchResult{Entry: e, Similarity: sim})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})

	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	for i := range matches {
		matches[i].Rank = i + 1
	}
	return matches, nil
}

func cosineSimilarity(q []float32, qNorm float64, d []float32, dNorm float64) float64 {
	if qNorm == 0 || dNorm == 0 || len(q) != len(d) {
		return 0
	}
	var dot float64
	for i := range q {
		dot += float64(q[i]) * float64(d[i])
	}
	return dot / (qNorm * dNorm)
}
