package rag

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noMerge disables the undersized-chunk merge so strategy splits stay
// observable.
var noMerge = Config{MinChunkBytes: 1}

func TestChunk_SingleMarkdownFileIsOneSection(t *testing.T) {
	chunks := Chunk("acme/widget", "README.md", "# Title\n\nHello world", noMerge)

	require.Len(t, chunks, 1)
	assert.Equal(t, ChunkTypeMarkdownSection, chunks[0].Metadata.ChunkType)
	assert.Equal(t, "README.md", chunks[0].Metadata.FileName)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 3, chunks[0].EndLine)
	assert.Contains(t, chunks[0].Content, "Hello world")
}

func TestChunk_MarkdownSplitsPerHeader(t *testing.T) {
	content := "intro text\n\n# One\n\nbody one\n\n## Two\n\nbody two"
	chunks := Chunk("r", "doc.md", content, noMerge)

	require.Len(t, chunks, 3)
	assert.Equal(t, "intro text\n", chunks[0].Content)
	assert.True(t, strings.HasPrefix(chunks[1].Content, "# One"))
	assert.True(t, strings.HasPrefix(chunks[2].Content, "## Two"))
	assert.Equal(t, 3, chunks[1].StartLine)
	assert.Equal(t, 7, chunks[2].StartLine)
}

func TestChunk_CodeBlocksSplitOnBlankLines(t *testing.T) {
	content := "func Alpha() int {\n\treturn 1\n}\n\nfunc Beta(x int) int {\n\treturn x\n}"
	chunks := Chunk("r", "pkg/math.go", content, noMerge)

	require.Len(t, chunks, 2)
	assert.Equal(t, ChunkTypeCodeBlock, chunks[0].Metadata.ChunkType)
	assert.Equal(t, "go", chunks[0].Metadata.Language)
	assert.Equal(t, "Alpha", chunks[0].Metadata.FunctionName)
	assert.Equal(t, "Beta", chunks[1].Metadata.FunctionName)
	assert.Equal(t, 5, chunks[1].StartLine)
	assert.Equal(t, 7, chunks[1].EndLine)
}

func TestChunk_GuessesMethodNamePastReceiver(t *testing.T) {
	chunks := Chunk("r", "a.go", "func (c *Client) Push(branch string) error {\n\treturn nil\n}", noMerge)

	require.Len(t, chunks, 1)
	assert.Equal(t, "Push", chunks[0].Metadata.FunctionName)
}

func TestChunk_PlainTextUsesOverlappingWindows(t *testing.T) {
	lines := make([]string, 50)
	for i := range lines {
		lines[i] = "log line"
	}
	chunks := Chunk("r", "notes.txt", strings.Join(lines, "\n"), noMerge)

	require.Len(t, chunks, 2)
	assert.Equal(t, ChunkTypePlainText, chunks[0].Metadata.ChunkType)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 40, chunks[0].EndLine)
	// the second window starts before the first ends
	assert.Equal(t, 37, chunks[1].StartLine)
	assert.Equal(t, 50, chunks[1].EndLine)
}

func TestChunk_OversizedChunkIsSplitAlongLines(t *testing.T) {
	long := strings.Repeat("x", 80)
	content := strings.Join([]string{long, long, long}, "\n")
	cfg := Config{MaxChunkBytes: 100, MinChunkBytes: 1}

	chunks := Chunk("r", "big.txt", content, cfg)

	require.Greater(t, len(chunks), 1)
	prevEnd := 0
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Content), 100)
		assert.Equal(t, prevEnd+1, c.StartLine)
		prevEnd = c.EndLine
	}
	assert.Equal(t, 3, prevEnd)
}

func TestChunk_UndersizedChunksMergeWithinFile(t *testing.T) {
	content := "# A\n\ntiny\n\n# B\n\nalso tiny"
	chunks := Chunk("r", "doc.md", content, Config{MinChunkBytes: 10_000})

	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "# A")
	assert.Contains(t, chunks[0].Content, "# B")
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 7, chunks[0].EndLine)
}

func TestChunk_IDsAreStableAcrossRuns(t *testing.T) {
	a := Chunk("r", "main.go", "func main() {}\n", noMerge)
	b := Chunk("r", "main.go", "func main() {}\n", noMerge)

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].ID, b[0].ID)
	assert.NotEmpty(t, a[0].ID)
}

func TestChunk_SerializationRoundTripIsIdentity(t *testing.T) {
	original := Chunk("acme/widget", "pkg/server.go", "func Serve() error {\n\treturn nil\n}", noMerge)
	require.Len(t, original, 1)

	data, err := json.Marshal(original[0])
	require.NoError(t, err)

	var decoded DocumentChunk
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original[0], decoded)
}

func TestDiscover_SortedAndFiltered(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.go", "package b")
	writeFile(t, root, "a.go", "package a")
	writeFile(t, root, "README.md", "# readme")
	writeFile(t, root, "image.png", "not text")
	writeFile(t, root, "web/node_modules/dep/index.js", "x")
	writeFile(t, root, "vendor/lib/lib.go", "package lib")

	files, err := Discover(context.Background(), root, []string{".go", ".md", ".js"}, []string{"**/node_modules/**", "vendor/*"})
	require.NoError(t, err)

	assert.Equal(t, []string{"README.md", "a.go", "b.go"}, files)
}

func TestDiscover_EmptyIncludeListMatchesEverything(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Makefile", "all:")

	files, err := Discover(context.Background(), root, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Makefile"}, files)
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
