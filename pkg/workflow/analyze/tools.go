package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/repoagent/pkg/forge"
	"github.com/ternarybob/repoagent/pkg/rag"
	"github.com/ternarybob/repoagent/pkg/session"
	"github.com/ternarybob/repoagent/pkg/tools"
)

// RepoRefKey carries the repository identifier ("owner/repo") the
// analysis-loop tools operate against for the lifetime of one run.
var RepoRefKey = session.NewKey[string]("analyze-repo-ref")

// RegisterTools wires the Analyze workflow's repository-analysis tool
// catalog: list-directory and read-file against fc (the forge client:
// these tools read the repository remotely, not from a local clone),
// search-code against a
// previously built RAG index, and fetch-external-doc for requirements
// loading.
func RegisterTools(registry *tools.Registry, fc *forge.Client, idx *rag.Indexer, embed rag.EmbeddingFunc, minSimilarity float64) error {
	if err := registry.Register(tools.Tool{
		Name:        "list-directory",
		Description: "List the immediate files and subdirectories of a path in the repository.",
		Schema: map[string]any{
			"type":       "object",
			"required":   []any{"path"},
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
		},
		Handler: func(ctx context.Context, store *session.Store, args map[string]any) (string, error) {
			repo, _ := session.Get(store, RepoRefKey)
			path, _ := args["path"].(string)
			entries, err := fc.ListDirectory(ctx, repo, path, "")
			if err != nil {
				return "", err
			}
			data, err := json.Marshal(entries)
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
	}); err != nil {
		return err
	}

	if err := registry.Register(tools.Tool{
		Name:        "read-file",
		Description: "Read the full text content of a file in the repository.",
		Schema: map[string]any{
			"type":       "object",
			"required":   []any{"path"},
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
		},
		Handler: func(ctx context.Context, store *session.Store, args map[string]any) (string, error) {
			repo, _ := session.Get(store, RepoRefKey)
			path, _ := args["path"].(string)
			return fc.ReadFile(ctx, repo, path, "")
		},
	}); err != nil {
		return err
	}

	if err := registry.Register(tools.Tool{
		Name:        "search-code",
		Description: "Semantically search the repository's indexed chunks for content relevant to a query.",
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"query"},
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"topK":  map[string]any{"type": "integer"},
			},
		},
		Handler: func(ctx context.Context, store *session.Store, args map[string]any) (string, error) {
			if idx == nil || embed == nil {
				return "", fmt.Errorf("search-code: RAG indexing is not enabled for this run")
			}
			repo, _ := session.Get(store, RepoRefKey)
			query, _ := args["query"].(string)
			topK := 5
			if v, ok := args["topK"].(float64); ok && v > 0 {
				topK = int(v)
			}

			vec, err := embed(ctx, query)
			if err != nil {
				return "", fmt.Errorf("embed query: %w", err)
			}
			results, err := idx.Search(repo, vec, topK, minSimilarity)
			if err != nil {
				return "", err
			}
			data, err := json.Marshal(results)
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
	}); err != nil {
		return err
	}

	if err := registry.Register(tools.Tool{
		Name:        "fetch-external-doc",
		Description: "Fetch the raw text of an external requirements document by URL.",
		Schema: map[string]any{
			"type":       "object",
			"required":   []any{"url"},
			"properties": map[string]any{"url": map[string]any{"type": "string"}},
		},
		Handler: func(ctx context.Context, store *session.Store, args map[string]any) (string, error) {
			url, _ := args["url"].(string)
			return fetchExternalDoc(ctx, url)
		},
	}); err != nil {
		return err
	}

	return nil
}

func fetchExternalDoc(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("fetch-external-doc: build request: %w", err)
	}
	client := &http.Client{Timeout: 20 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch-external-doc: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("fetch-external-doc: read body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch-external-doc: %s returned status %d", url, resp.StatusCode)
	}

	// Doc sites that ship an empty HTML shell and render via scripts
	// need a real browser; fall back to the raw body if that fails.
	if looksScriptRendered(resp.Header.Get("Content-Type"), string(body)) {
		if rendered, renderErr := fetchRenderedDoc(ctx, url); renderErr == nil && strings.TrimSpace(rendered) != "" {
			return rendered, nil
		}
	}
	return string(body), nil
}
