// Package markdown models a recognized subset of markdown as typed
// nodes: headings 1-4, paragraphs, fenced code blocks, ordered and
// unordered lists, blockquotes, and horizontal rules, with bold,
// italic, inline-code and link spans inside text content. Parse and
// Render are inverse on that subset up to whitespace, so a document
// produced by an LLM can be canonicalized before it reaches a consumer.
package markdown

import (
	"fmt"
	"strings"
)

// BlockKind tags the block-level node variants.
type BlockKind string

const (
	BlockHeading        BlockKind = "heading"
	BlockParagraph      BlockKind = "paragraph"
	BlockCode           BlockKind = "code"
	BlockList           BlockKind = "list"
	BlockQuote          BlockKind = "blockquote"
	BlockHorizontalRule BlockKind = "hr"
)

// SpanKind tags the inline node variants.
type SpanKind string

const (
	SpanText   SpanKind = "text"
	SpanBold   SpanKind = "bold"
	SpanItalic SpanKind = "italic"
	SpanCode   SpanKind = "code"
	SpanLink   SpanKind = "link"
)

// Span is one inline run of content.
type Span struct {
	Kind SpanKind `json:"kind"`
	Text string   `json:"text"`
	Href string   `json:"href,omitempty"`
}

// Block is one block-level node. Which fields are meaningful depends on
// Kind: Level and Spans for headings, Spans for paragraphs and
// blockquotes, Language and Literal for code blocks, Ordered and Items
// for lists.
type Block struct {
	Kind     BlockKind `json:"kind"`
	Level    int       `json:"level,omitempty"`
	Spans    []Span    `json:"spans,omitempty"`
	Language string    `json:"language,omitempty"`
	Literal  string    `json:"literal,omitempty"`
	Ordered  bool      `json:"ordered,omitempty"`
	Items    [][]Span  `json:"items,omitempty"`
}

func Text(s string) Span          { return Span{Kind: SpanText, Text: s} }
func Bold(s string) Span          { return Span{Kind: SpanBold, Text: s} }
func Italic(s string) Span        { return Span{Kind: SpanItalic, Text: s} }
func Code(s string) Span          { return Span{Kind: SpanCode, Text: s} }
func Link(text, href string) Span { return Span{Kind: SpanLink, Text: text, Href: href} }

// Heading builds a heading block, clamping level to the recognized 1-4
// range.
func Heading(level int, spans ...Span) Block {
	if level < 1 {
		level = 1
	}
	if level > 4 {
		level = 4
	}
	return Block{Kind: BlockHeading, Level: level, Spans: spans}
}

func Paragraph(spans ...Span) Block { return Block{Kind: BlockParagraph, Spans: spans} }

func CodeBlock(language, literal string) Block {
	return Block{Kind: BlockCode, Language: language, Literal: literal}
}

func List(ordered bool, items ...[]Span) Block {
	return Block{Kind: BlockList, Ordered: ordered, Items: items}
}

func Blockquote(spans ...Span) Block { return Block{Kind: BlockQuote, Spans: spans} }

func HorizontalRule() Block { return Block{Kind: BlockHorizontalRule} }

// Render serializes blocks back to markdown text in canonical form:
// ATX headings, "-" bullets, "1."-numbered items, "---" rules, fenced
// code blocks, one blank line between blocks.
func Render(blocks []Block) string {
	var b strings.Builder
	for i, blk := range blocks {
		if i > 0 {
			b.WriteString("\n")
		}
		switch blk.Kind {
		case BlockHeading:
			level := blk.Level
			if level < 1 {
				level = 1
			}
			if level > 4 {
				level = 4
			}
			b.WriteString(strings.Repeat("#", level))
			b.WriteString(" ")
			b.WriteString(renderSpans(blk.Spans))
			b.WriteString("\n")
		case BlockParagraph:
			b.WriteString(renderSpans(blk.Spans))
			b.WriteString("\n")
		case BlockCode:
			b.WriteString("```")
			b.WriteString(blk.Language)
			b.WriteString("\n")
			literal := strings.TrimRight(blk.Literal, "\n")
			if literal != "" {
				b.WriteString(literal)
				b.WriteString("\n")
			}
			b.WriteString("```\n")
		case BlockList:
			for j, item := range blk.Items {
				if blk.Ordered {
					fmt.Fprintf(&b, "%d. %s\n", j+1, renderSpans(item))
				} else {
					b.WriteString("- ")
					b.WriteString(renderSpans(item))
					b.WriteString("\n")
				}
			}
		case BlockQuote:
			b.WriteString("> ")
			b.WriteString(renderSpans(blk.Spans))
			b.WriteString("\n")
		case BlockHorizontalRule:
			b.WriteString("---\n")
		}
	}
	return b.String()
}

// Normalize canonicalizes markdown text by round-tripping it through
// the node model. Constructs outside the recognized subset degrade to
// plain paragraph text rather than being dropped.
func Normalize(content string) string {
	return Render(Parse(content))
}

func renderSpans(spans []Span) string {
	var b strings.Builder
	for _, s := range spans {
		switch s.Kind {
		case SpanBold:
			b.WriteString("**")
			b.WriteString(s.Text)
			b.WriteString("**")
		case SpanItalic:
			b.WriteString("*")
			b.WriteString(s.Text)
			b.WriteString("*")
		case SpanCode:
			b.WriteString("`")
			b.WriteString(s.Text)
			b.WriteString("`")
		case SpanLink:
			b.WriteString("[")
			b.WriteString(s.Text)
			b.WriteString("](")
			b.WriteString(s.Href)
			b.WriteString(")")
		default:
			b.WriteString(s.Text)
		}
	}
	return b.String()
}
