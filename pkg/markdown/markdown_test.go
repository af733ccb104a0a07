package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RecognizedBlocks(t *testing.T) {
	doc := "# Title\n\nA paragraph with **bold**, *italic*, `code` and [a link](https://example.com/docs).\n\n```go\nfunc main() {}\n```\n\n- first\n- second\n\n1. one\n2. two\n\n> quoted text\n\n---\n"

	blocks := Parse(doc)
	require.Len(t, blocks, 7)

	assert.Equal(t, BlockHeading, blocks[0].Kind)
	assert.Equal(t, 1, blocks[0].Level)
	assert.Equal(t, []Span{Text("Title")}, blocks[0].Spans)

	require.Equal(t, BlockParagraph, blocks[1].Kind)
	assert.Equal(t, []Span{
		Text("A paragraph with "),
		Bold("bold"),
		Text(", "),
		Italic("italic"),
		Text(", "),
		Code("code"),
		Text(" and "),
		Link("a link", "https://example.com/docs"),
		Text("."),
	}, blocks[1].Spans)

	assert.Equal(t, BlockCode, blocks[2].Kind)
	assert.Equal(t, "go", blocks[2].Language)
	assert.Equal(t, "func main() {}", blocks[2].Literal)

	require.Equal(t, BlockList, blocks[3].Kind)
	assert.False(t, blocks[3].Ordered)
	require.Len(t, blocks[3].Items, 2)
	assert.Equal(t, []Span{Text("first")}, blocks[3].Items[0])

	require.Equal(t, BlockList, blocks[4].Kind)
	assert.True(t, blocks[4].Ordered)
	assert.Equal(t, []Span{Text("two")}, blocks[4].Items[1])

	assert.Equal(t, BlockQuote, blocks[5].Kind)
	assert.Equal(t, []Span{Text("quoted text")}, blocks[5].Spans)

	assert.Equal(t, BlockHorizontalRule, blocks[6].Kind)
}

func TestParse_MultilineParagraphJoins(t *testing.T) {
	blocks := Parse("first line\nsecond line\n\nnext paragraph\n")
	require.Len(t, blocks, 2)
	assert.Equal(t, []Span{Text("first line second line")}, blocks[0].Spans)
	assert.Equal(t, []Span{Text("next paragraph")}, blocks[1].Spans)
}

func TestParse_UnclosedMarkerStaysLiteral(t *testing.T) {
	blocks := Parse("an asterisk *alone\n")
	require.Len(t, blocks, 1)
	assert.Equal(t, []Span{Text("an asterisk *alone")}, blocks[0].Spans)
}

func TestParse_DeepHeadingClampsToFour(t *testing.T) {
	blocks := Parse("###### deep\n")
	require.Len(t, blocks, 1)
	assert.Equal(t, BlockHeading, blocks[0].Kind)
	assert.Equal(t, 4, blocks[0].Level)
}

func TestParse_MultilineBlockquoteJoins(t *testing.T) {
	blocks := Parse("> line one\n> line two\n")
	require.Len(t, blocks, 1)
	assert.Equal(t, BlockQuote, blocks[0].Kind)
	assert.Equal(t, []Span{Text("line one line two")}, blocks[0].Spans)
}

func TestRender_CanonicalForms(t *testing.T) {
	out := Render([]Block{
		Heading(2, Text("Files modified")),
		List(false, []Span{Code("a.go")}, []Span{Code("b.go")}),
		Paragraph(Text("See "), Link("the plan", "https://example.com"), Text(" for details.")),
		CodeBlock("sh", "./run-tests\n"),
		HorizontalRule(),
	})

	assert.Equal(t, "## Files modified\n\n- `a.go`\n- `b.go`\n\nSee [the plan](https://example.com) for details.\n\n```sh\n./run-tests\n```\n\n---\n", out)
}

// Parse then Render must preserve semantic content on the recognized
// subset: a second round trip is a fixed point.
func TestRoundTrip_ParseRenderIsStableOnRecognizedSubset(t *testing.T) {
	docs := []string{
		"# Title\n\nHello world\n",
		"## Setup\n\nRun `make` with **care**, then *verify*.\n\n```sh\nmake all\n```\n",
		"1. clone\n2. build\n3. push\n\n> remember the branch name\n\n---\n",
		"- [docs](https://example.com/a)\n- plain item\n",
		"#### Small heading\n\nfirst line second line\n",
	}
	for _, doc := range docs {
		once := Render(Parse(doc))
		twice := Render(Parse(once))
		assert.Equal(t, once, twice, "doc %q", doc)
	}
}

func TestRoundTrip_NodesSurviveRender(t *testing.T) {
	original := []Block{
		Heading(3, Text("Report")),
		Paragraph(Bold("status"), Text(": all tests "), Italic("passed")),
		List(true, []Span{Text("step one")}, []Span{Text("step two")}),
		Blockquote(Text("from the logs")),
		CodeBlock("", "exit 0"),
	}

	reparsed := Parse(Render(original))
	require.Len(t, reparsed, len(original))
	for i := range original {
		assert.Equal(t, original[i].Kind, reparsed[i].Kind, "block %d", i)
		assert.Equal(t, original[i].Spans, reparsed[i].Spans, "block %d", i)
		assert.Equal(t, original[i].Items, reparsed[i].Items, "block %d", i)
	}
	assert.Equal(t, "exit 0", reparsed[4].Literal)
}

func TestNormalize_CanonicalizesMessyInput(t *testing.T) {
	messy := "##   Heading   \n\n\n\ntext  on\n   one paragraph\n\n*  bullet\n"
	assert.Equal(t, "## Heading\n\ntext  on one paragraph\n\n- bullet\n", Normalize(messy))
	assert.Equal(t, Normalize(messy), Normalize(Normalize(messy)))
}
