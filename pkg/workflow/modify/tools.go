package modify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ternarybob/repoagent/pkg/container"
	"github.com/ternarybob/repoagent/pkg/rag"
	"github.com/ternarybob/repoagent/pkg/session"
	"github.com/ternarybob/repoagent/pkg/tools"
)

// WorkDirKey carries the local clone path the code-analysis and
// code-modification tools operate against for the lifetime of one run.
var WorkDirKey = session.NewKey[string]("modify-workdir")

const maxTreeEntries = 500
const maxSearchMatches = 100

// RegisterAnalysisTools wires get-file-tree, read-file-content, and
// search-in-files -- the code-analysis loop's read-only file tools.
func RegisterAnalysisTools(registry *tools.Registry) error {
	if err := registry.Register(tools.Tool{
		Name:        "get-file-tree",
		Description: "List every file under the repository working directory, relative to its root.",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
		},
		Handler: func(ctx context.Context, store *session.Store, args map[string]any) (string, error) {
			root, _ := session.Get(store, WorkDirKey)
			sub, _ := args["path"].(string)
			start := root
			if sub != "" {
				start = filepath.Join(root, sub)
			}

			var entries []string
			err := filepath.Walk(start, func(p string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if info.IsDir() {
					if info.Name() == ".git" {
						return filepath.SkipDir
					}
					return nil
				}
				if len(entries) >= maxTreeEntries {
					return filepath.SkipAll
				}
				rel, relErr := filepath.Rel(root, p)
				if relErr != nil {
					rel = p
				}
				entries = append(entries, rel)
				return nil
			})
			if err != nil && err != filepath.SkipAll {
				return "", fmt.Errorf("get-file-tree: %w", err)
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
		Name:        "read-file-content",
		Description: "Read the full text content of a file in the repository working directory.",
		Schema: map[string]any{
			"type":       "object",
			"required":   []any{"path"},
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
		},
		Handler: func(ctx context.Context, store *session.Store, args map[string]any) (string, error) {
			root, _ := session.Get(store, WorkDirKey)
			path, _ := args["path"].(string)
			data, err := os.ReadFile(filepath.Join(root, path))
			if err != nil {
				return "", fmt.Errorf("read-file-content: %w", err)
			}
			return string(data), nil
		},
	}); err != nil {
		return err
	}

	if err := registry.Register(tools.Tool{
		Name:        "search-in-files",
		Description: "Search every tracked file's text for a literal substring, returning matching file:line snippets.",
		Schema: map[string]any{
			"type":       "object",
			"required":   []any{"query"},
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
		},
		Handler: func(ctx context.Context, store *session.Store, args map[string]any) (string, error) {
			root, _ := session.Get(store, WorkDirKey)
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("search-in-files: query is required")
			}

			var matches []string
			err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if info.IsDir() {
					if info.Name() == ".git" {
						return filepath.SkipDir
					}
					return nil
				}
				if len(matches) >= maxSearchMatches {
					return filepath.SkipAll
				}
				data, readErr := os.ReadFile(p)
				if readErr != nil {
					return nil
				}
				rel, relErr := filepath.Rel(root, p)
				if relErr != nil {
					rel = p
				}
				for i, line := range strings.Split(string(data), "\n") {
					if strings.Contains(line, query) {
						matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, i+1, strings.TrimSpace(line)))
						if len(matches) >= maxSearchMatches {
							break
						}
					}
				}
				return nil
			})
			if err != nil && err != filepath.SkipAll {
				return "", fmt.Errorf("search-in-files: %w", err)
			}

			data, err := json.Marshal(matches)
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
	}); err != nil {
		return err
	}

	return nil
}

// RegisterSemanticSearchTool wires search-code over a previously built
// index of the working clone, for runs submitted with embeddings
// enabled. It complements search-in-files: literal substrings versus
// meaning.
func RegisterSemanticSearchTool(registry *tools.Registry, idx *rag.Indexer, embed rag.EmbeddingFunc, repository string, topK int, minSimilarity float64) error {
	if topK <= 0 {
		topK = 5
	}
	return registry.Register(tools.Tool{
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
			query, _ := args["query"].(string)
			k := topK
			if v, ok := args["topK"].(float64); ok && v > 0 {
				k = int(v)
			}

			vec, err := embed(ctx, query)
			if err != nil {
				return "", fmt.Errorf("search-code: embed query: %w", err)
			}
			results, err := idx.Search(repository, vec, k, minSimilarity)
			if err != nil {
				return "", err
			}
			data, err := json.Marshal(results)
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
	})
}

// ModificationResultKey accumulates the mutation tools' effects for the
// final ModificationResult, keyed in the session store so concurrent
// tool calls within one run see the same accumulator.
var ModificationResultKey = session.NewKey[*ModificationResult]("modify-result")

func trackerFor(store *session.Store) *ModificationResult {
	r, ok := session.Get(store, ModificationResultKey)
	if !ok {
		r = &ModificationResult{}
		session.Set(store, ModificationResultKey, r)
	}
	return r
}

// RegisterMutationTools wires apply-patch, apply-patches, create-file,
// and delete-file -- the code-modification loop's file-mutation tools.
func RegisterMutationTools(registry *tools.Registry) error {
	if err := registry.Register(tools.Tool{
		Name:        "apply-patch",
		Description: "Replace lines startLine..endLine (1-indexed, inclusive) of path with content.",
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"path", "startLine", "endLine", "content"},
			"properties": map[string]any{
				"path":      map[string]any{"type": "string"},
				"startLine": map[string]any{"type": "integer"},
				"endLine":   map[string]any{"type": "integer"},
				"content":   map[string]any{"type": "string"},
			},
		},
		Handler: func(ctx context.Context, store *session.Store, args map[string]any) (string, error) {
			root, _ := session.Get(store, WorkDirKey)
			patch, err := patchFromArgs(args)
			if err != nil {
				return "", err
			}
			if err := applyLinePatch(root, patch); err != nil {
				return "", err
			}
			tracker := trackerFor(store)
			tracker.FilesModified = appendUnique(tracker.FilesModified, patch.Path)
			tracker.PatchesApplied++
			return fmt.Sprintf("applied patch to %s lines %d-%d", patch.Path, patch.StartLine, patch.EndLine), nil
		},
	}); err != nil {
		return err
	}

	if err := registry.Register(tools.Tool{
		Name:        "apply-patches",
		Description: "Apply a batch of line-range patches. Patches touching the same file are applied from the highest start line to the lowest so earlier line numbers stay stable.",
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"patches"},
			"properties": map[string]any{
				"patches": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type":     "object",
						"required": []any{"path", "startLine", "endLine", "content"},
						"properties": map[string]any{
							"path":      map[string]any{"type": "string"},
							"startLine": map[string]any{"type": "integer"},
							"endLine":   map[string]any{"type": "integer"},
							"content":   map[string]any{"type": "string"},
						},
					},
				},
			},
		},
		Handler: func(ctx context.Context, store *session.Store, args map[string]any) (string, error) {
			root, _ := session.Get(store, WorkDirKey)
			raw, _ := args["patches"].([]any)
			patches := make([]Patch, 0, len(raw))
			for _, item := range raw {
				m, ok := item.(map[string]any)
				if !ok {
					return "", fmt.Errorf("apply-patches: malformed patch entry")
				}
				p, err := patchFromArgs(m)
				if err != nil {
					return "", err
				}
				patches = append(patches, p)
			}

			applied, err := applyPatchesSorted(root, patches)
			if err != nil {
				return "", err
			}

			tracker := trackerFor(store)
			tracker.PatchesApplied += applied
			for _, p := range patches {
				tracker.FilesModified = appendUnique(tracker.FilesModified, p.Path)
			}
			return fmt.Sprintf("applied %d patches across %d files", applied, len(groupByPath(patches))), nil
		},
	}); err != nil {
		return err
	}

	if err := registry.Register(tools.Tool{
		Name:        "create-file",
		Description: "Create a new file at path with content, failing if it already exists.",
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"path", "content"},
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
		},
		Handler: func(ctx context.Context, store *session.Store, args map[string]any) (string, error) {
			root, _ := session.Get(store, WorkDirKey)
			path, _ := args["path"].(string)
			content, _ := args["content"].(string)
			full := filepath.Join(root, path)

			if _, err := os.Stat(full); err == nil {
				return "", fmt.Errorf("create-file: %s already exists", path)
			}
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return "", fmt.Errorf("create-file: %w", err)
			}
			if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
				return "", fmt.Errorf("create-file: %w", err)
			}

			tracker := trackerFor(store)
			tracker.FilesCreated = appendUnique(tracker.FilesCreated, path)
			return fmt.Sprintf("created %s", path), nil
		},
	}); err != nil {
		return err
	}

	if err := registry.Register(tools.Tool{
		Name:        "delete-file",
		Description: "Delete a file at path.",
		Schema: map[string]any{
			"type":       "object",
			"required":   []any{"path"},
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
		},
		Handler: func(ctx context.Context, store *session.Store, args map[string]any) (string, error) {
			root, _ := session.Get(store, WorkDirKey)
			path, _ := args["path"].(string)
			if err := os.Remove(filepath.Join(root, path)); err != nil {
				return "", fmt.Errorf("delete-file: %w", err)
			}

			tracker := trackerFor(store)
			tracker.FilesDeleted = appendUnique(tracker.FilesDeleted, path)
			return fmt.Sprintf("deleted %s", path), nil
		},
	}); err != nil {
		return err
	}

	return nil
}

func patchFromArgs(args map[string]any) (Patch, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	startF, ok1 := args["startLine"].(float64)
	endF, ok2 := args["endLine"].(float64)
	if path == "" || !ok1 || !ok2 {
		return Patch{}, fmt.Errorf("patch: path, startLine, and endLine are required")
	}
	return Patch{Path: path, StartLine: int(startF), EndLine: int(endF), Content: content}, nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func groupByPath(patches []Patch) map[string][]Patch {
	byPath := make(map[string][]Patch)
	for _, p := range patches {
		byPath[p.Path] = append(byPath[p.Path], p)
	}
	return byPath
}

// applyPatchesSorted groups patches by file and, within each file,
// applies them from the highest start line to the lowest so an earlier
// patch's line numbers are never shifted by a later one.
func applyPatchesSorted(root string, patches []Patch) (int, error) {
	byPath := groupByPath(patches)
	for _, filePatches := range byPath {
		sort.Slice(filePatches, func(i, j int) bool {
			return filePatches[i].StartLine > filePatches[j].StartLine
		})
	}

	applied := 0
	for _, filePatches := range byPath {
		for _, p := range filePatches {
			if err := applyLinePatch(root, p); err != nil {
				return applied, err
			}
			applied++
		}
	}
	return applied, nil
}

// applyLinePatch replaces lines startLine..endLine (1-indexed, inclusive)
// of root/patch.Path with patch.Content.
func applyLinePatch(root string, patch Patch) error {
	full := filepath.Join(root, patch.Path)
	data, err := os.ReadFile(full)
	if err != nil {
		return fmt.Errorf("apply-patch: read %s: %w", patch.Path, err)
	}

	lines := strings.Split(string(data), "\n")
	if patch.StartLine < 1 || patch.EndLine < patch.StartLine || patch.StartLine > len(lines) {
		return fmt.Errorf("apply-patch: %s: invalid line range %d-%d for a %d-line file", patch.Path, patch.StartLine, patch.EndLine, len(lines))
	}
	endLine := patch.EndLine
	if endLine > len(lines) {
		endLine = len(lines)
	}

	replacement := strings.Split(patch.Content, "\n")
	newLines := make([]string, 0, len(lines))
	newLines = append(newLines, lines[:patch.StartLine-1]...)
	newLines = append(newLines, replacement...)
	newLines = append(newLines, lines[endLine:]...)

	return os.WriteFile(full, []byte(strings.Join(newLines, "\n")), 0o644)
}

// RegisterVerificationTools wires the container-verification loop's
// fixed tool sequence (availability probe, Dockerfile generation,
// build, run, cleanup) over a container.Coordinator.
func RegisterVerificationTools(registry *tools.Registry, coord *container.Coordinator) error {
	if err := registry.Register(tools.Tool{
		Name:        "check-container-availability",
		Description: "Probe whether the container daemon is reachable.",
		Schema:      map[string]any{"type": "object"},
		Handler: func(ctx context.Context, store *session.Store, args map[string]any) (string, error) {
			avail := coord.Available(ctx)
			data, _ := json.Marshal(avail)
			return string(data), nil
		},
	}); err != nil {
		return err
	}

	if err := registry.Register(tools.Tool{
		Name:        "generate-dockerfile",
		Description: "Generate a Dockerfile for the repository working directory from the agreed container environment.",
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"baseImage"},
			"properties": map[string]any{
				"baseImage":    map[string]any{"type": "string"},
				"buildCommand": map[string]any{"type": "string"},
				"runCommand":   map[string]any{"type": "string"},
				"port":         map[string]any{"type": "integer"},
			},
		},
		Handler: func(ctx context.Context, store *session.Store, args map[string]any) (string, error) {
			root, _ := session.Get(store, WorkDirKey)
			baseImage, _ := args["baseImage"].(string)
			buildCmd, _ := args["buildCommand"].(string)
			runCmd, _ := args["runCommand"].(string)
			port := 0
			if v, ok := args["port"].(float64); ok {
				port = int(v)
			}
			result, err := coord.GenerateDockerfile(root, baseImage, buildCmd, runCmd, port)
			if err != nil {
				return "", err
			}
			data, _ := json.Marshal(result)
			return string(data), nil
		},
	}); err != nil {
		return err
	}

	if err := registry.Register(tools.Tool{
		Name:        "build-container-image",
		Description: "Build the repository working directory's Dockerfile with cache disabled.",
		Schema:      map[string]any{"type": "object"},
		Handler: func(ctx context.Context, store *session.Store, args map[string]any) (string, error) {
			root, _ := session.Get(store, WorkDirKey)
			result, err := coord.BuildImage(ctx, root, "")
			if err != nil {
				return "", err
			}
			data, _ := json.Marshal(result)
			return string(data), nil
		},
	}); err != nil {
		return err
	}

	if err := registry.Register(tools.Tool{
		Name:        "run-container-image",
		Description: "Run a command inside the built image and capture its output.",
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"image", "command"},
			"properties": map[string]any{
				"image":          map[string]any{"type": "string"},
				"command":        map[string]any{"type": "string"},
				"timeoutSeconds": map[string]any{"type": "integer"},
			},
		},
		Handler: func(ctx context.Context, store *session.Store, args map[string]any) (string, error) {
			image, _ := args["image"].(string)
			command, _ := args["command"].(string)
			timeout := 0
			if v, ok := args["timeoutSeconds"].(float64); ok {
				timeout = int(v)
			}
			result, err := coord.RunContainer(ctx, image, command, timeout)
			if err != nil {
				return "", err
			}
			data, _ := json.Marshal(result)
			return string(data), nil
		},
	}); err != nil {
		return err
	}

	if err := registry.Register(tools.Tool{
		Name:        "cleanup-container-image",
		Description: "Remove a previously built image.",
		Schema: map[string]any{
			"type":       "object",
			"required":   []any{"image"},
			"properties": map[string]any{"image": map[string]any{"type": "string"}},
		},
		Handler: func(ctx context.Context, store *session.Store, args map[string]any) (string, error) {
			image, _ := args["image"].(string)
			removed, err := coord.RemoveImage(ctx, image)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf(`{"removed":%t}`, removed), nil
		},
	}); err != nil {
		return err
	}

	return nil
}
