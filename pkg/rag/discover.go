package rag

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Discover walks root and returns the relative, slash-separated paths of
// every file whose suffix matches includeExtensions (all files, if
// empty), excluding any path whose relative form contains one of
// excludeGlobs with its wildcards stripped to a plain substring.
// Enumeration is sorted for determinism.
func Discover(ctx context.Context, root string, includeExtensions, excludeGlobs []string) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	deny := make([]string, 0, len(excludeGlobs))
	for _, g := range excludeGlobs {
		if s := stripGlobWildcards(g); s != "" {
			deny = append(deny, s)
		}
	}

	var files []string
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if !hasIncludedSuffix(rel, includeExtensions) {
			return nil
		}
		if containsAny(rel, deny) {
			return nil
		}

		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

func hasIncludedSuffix(path string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	for _, ext := range exts {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func containsAny(path string, substrings []string) bool {
	for _, s := range substrings {
		if strings.Contains(path, s) {
			return true
		}
	}
	return false
}

func stripGlobWildcards(pattern string) string {
	r := strings.NewReplacer("**", "", "*", "", "?", "")
	return r.Replace(pattern)
}
