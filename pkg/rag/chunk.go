package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

var codeExtensions = map[string]string{
	".go":   "go",
	".ts":   "typescript",
	".tsx":  "typescript",
	".js":   "javascript",
	".jsx":  "javascript",
	".py":   "python",
	".rb":   "ruby",
	".rs":   "rust",
	".java": "java",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".cs":   "csharp",
	".sh":   "shell",
}

// Chunk splits one file's content into DocumentChunks, picking a
// strategy by extension: code-aware for recognized source files,
// markdown for .md/.markdown, plain-text otherwise. Oversized chunks
// are split further and undersized ones merged with their neighbor.
func Chunk(repository, relPath, content string, cfg Config) []DocumentChunk {
	cfg = cfg.withDefaults()
	ext := strings.ToLower(filepath.Ext(relPath))

	meta := ChunkMetadata{
		FilePath:   relPath,
		FileName:   filepath.Base(relPath),
		FileType:   strings.TrimPrefix(ext, "."),
		Repository: repository,
	}

	var raw []DocumentChunk
	switch {
	case ext == ".md" || ext == ".markdown":
		meta.ChunkType = ChunkTypeMarkdownSection
		raw = chunkMarkdown(content, meta)
	case isCodeExtension(ext):
		meta.ChunkType = ChunkTypeCodeBlock
		meta.Language = codeExtensions[ext]
		raw = chunkCode(content, meta)
	default:
		meta.ChunkType = ChunkTypePlainText
		raw = chunkPlainText(content, meta)
	}

	raw = splitOversized(raw, cfg.MaxChunkBytes)
	raw = mergeUndersized(raw, cfg.MinChunkBytes)

	for i := range raw {
		raw[i].ID = chunkID(relPath, raw[i].StartLine, raw[i].EndLine)
	}
	return raw
}

func isCodeExtension(ext string) bool {
	_, ok := codeExtensions[ext]
	return ok
}

// chunkMarkdown splits on lines that open a markdown header ("#" ...),
// each header and its body becoming one section chunk. Content before
// the first header, if any, is its own leading chunk.
func chunkMarkdown(content string, meta ChunkMetadata) []DocumentChunk {
	lines := strings.Split(content, "\n")
	var chunks []DocumentChunk

	start := 0
	for i := 1; i <= len(lines); i++ {
		atEnd := i == len(lines)
		isHeader := !atEnd && strings.HasPrefix(strings.TrimLeft(lines[i], " \t"), "#")
		if atEnd || isHeader {
			if i > start {
				chunks = append(chunks, newChunk(lines, start, i, meta))
			}
			start = i
		}
	}
	return chunks
}

// chunkCode groups contiguous non-blank lines into one chunk per block,
// attaching a best-effort FunctionName when the block's first
// significant line looks like a function/method declaration.
func chunkCode(content string, meta ChunkMetadata) []DocumentChunk {
	lines := strings.Split(content, "\n")
	var chunks []DocumentChunk

	start := -1
	for i := 0; i <= len(lines); i++ {
		blank := i == len(lines) || strings.TrimSpace(lines[i]) == ""
		if !blank && start == -1 {
			start = i
		}
		if blank && start != -1 {
			c := newChunk(lines, start, i, meta)
			c.Metadata.FunctionName = guessFunctionName(lines[start])
			chunks = append(chunks, c)
			start = -1
		}
	}
	if len(chunks) == 0 {
		return chunkPlainText(content, meta)
	}
	return chunks
}

// chunkPlainText falls back to fixed-size, lightly overlapping line
// windows.
func chunkPlainText(content string, meta ChunkMetadata) []DocumentChunk {
	const windowLines = 40
	const overlapLines = 4

	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return nil
	}

	step := windowLines - overlapLines
	var chunks []DocumentChunk
	for start := 0; start < len(lines); start += step {
		end := start + windowLines
		if end > len(lines) {
			end = len(lines)
		}
		chunks = append(chunks, newChunk(lines, start, end, meta))
		if end >= len(lines) {
			break
		}
	}
	return chunks
}

func newChunk(lines []string, start, end int, meta ChunkMetadata) DocumentChunk {
	return DocumentChunk{
		Content:   strings.Join(lines[start:end], "\n"),
		Metadata:  meta,
		StartLine: start + 1,
		EndLine:   end,
	}
}

func guessFunctionName(line string) string {
	line = strings.TrimSpace(line)
	for _, kw := range []string{"func ", "def ", "function ", "fn "} {
		idx := strings.Index(line, kw)
		if idx == -1 {
			continue
		}
		rest := strings.TrimSpace(line[idx+len(kw):])
		if strings.HasPrefix(rest, "(") {
			// skip a Go method receiver: "(r *Type) Name(...)"
			if close := strings.Index(rest, ")"); close != -1 {
				rest = strings.TrimSpace(rest[close+1:])
			}
		}
		if paren := strings.IndexAny(rest, "( "); paren != -1 {
			rest = rest[:paren]
		}
		return rest
	}
	return ""
}

// splitOversized further splits any chunk whose content exceeds
// maxBytes into consecutive sub-chunks along line boundaries.
func splitOversized(chunks []DocumentChunk, maxBytes int) []DocumentChunk {
	if maxBytes <= 0 {
		return chunks
	}
	var out []DocumentChunk
	for _, c := range chunks {
		if len(c.Content) <= maxBytes {
			out = append(out, c)
			continue
		}
		lines := strings.Split(c.Content, "\n")
		lineStart := c.StartLine
		cur := 0
		var curLines []string
		flush := func() {
			if len(curLines) == 0 {
				return
			}
			sub := c
			sub.Content = strings.Join(curLines, "\n")
			sub.StartLine = lineStart
			sub.EndLine = lineStart + len(curLines) - 1
			out = append(out, sub)
			lineStart = sub.EndLine + 1
			curLines = nil
			cur = 0
		}
		for _, ln := range lines {
			if cur+len(ln)+1 > maxBytes && len(curLines) > 0 {
				flush()
			}
			curLines = append(curLines, ln)
			cur += len(ln) + 1
		}
		flush()
	}
	return out
}

// mergeUndersized merges any chunk below minBytes into its following
// neighbor within the same file, so a trailing sliver of content never
// becomes its own near-empty retrieval unit.
func mergeUndersized(chunks []DocumentChunk, minBytes int) []DocumentChunk {
	if minBytes <= 0 || len(chunks) == 0 {
		return chunks
	}
	var out []DocumentChunk
	i := 0
	for i < len(chunks) {
		c := chunks[i]
		for len(c.Content) < minBytes && i+1 < len(chunks) && chunks[i+1].Metadata.FilePath == c.Metadata.FilePath {
			next := chunks[i+1]
			c.Content = c.Content + "\n" + next.Content
			c.EndLine = next.EndLine
			i++
		}
		out = append(out, c)
		i++
	}
	return out
}

func chunkID(path string, startLine, endLine int) string {
	data := fmt.Sprintf("%s:%d-%d", path, startLine, endLine)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}
