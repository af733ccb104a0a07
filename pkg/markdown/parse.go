package markdown

import (
	"regexp"
	"strings"
)

var (
	orderedItemPattern = regexp.MustCompile(`^\d+\.\s+`)
	linkPattern        = regexp.MustCompile(`^\[([^\]]*)\]\(([^)]*)\)`)
)

// Parse converts markdown text into block nodes. Lines that do not
// match any recognized block construct accumulate into paragraphs;
// consecutive non-blank paragraph lines are joined with a single space.
func Parse(content string) []Block {
	lines := strings.Split(content, "\n")
	var blocks []Block

	i := 0
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])
		switch {
		case trimmed == "":
			i++

		case strings.HasPrefix(trimmed, "```"):
			language := strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
			i++
			var code []string
			for i < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
				code = append(code, lines[i])
				i++
			}
			if i < len(lines) {
				i++ // closing fence
			}
			blocks = append(blocks, CodeBlock(language, strings.Join(code, "\n")))

		case isHorizontalRule(trimmed):
			blocks = append(blocks, HorizontalRule())
			i++

		case headingLevel(trimmed) > 0:
			level := headingLevel(trimmed)
			text := strings.TrimSpace(trimmed[level:])
			blocks = append(blocks, Heading(level, parseSpans(text)...))
			i++

		case strings.HasPrefix(trimmed, ">"):
			var quoted []string
			for i < len(lines) {
				t := strings.TrimSpace(lines[i])
				if !strings.HasPrefix(t, ">") {
					break
				}
				quoted = append(quoted, strings.TrimSpace(strings.TrimPrefix(t, ">")))
				i++
			}
			blocks = append(blocks, Blockquote(parseSpans(strings.Join(quoted, " "))...))

		case isUnorderedItem(trimmed):
			var items [][]Span
			for i < len(lines) {
				t := strings.TrimSpace(lines[i])
				if !isUnorderedItem(t) {
					break
				}
				items = append(items, parseSpans(strings.TrimSpace(t[1:])))
				i++
			}
			blocks = append(blocks, List(false, items...))

		case orderedItemPattern.MatchString(trimmed):
			var items [][]Span
			for i < len(lines) {
				t := strings.TrimSpace(lines[i])
				if !orderedItemPattern.MatchString(t) {
					break
				}
				items = append(items, parseSpans(orderedItemPattern.ReplaceAllString(t, "")))
				i++
			}
			blocks = append(blocks, List(true, items...))

		default:
			var para []string
			for i < len(lines) {
				t := strings.TrimSpace(lines[i])
				if t == "" || startsBlockConstruct(t) {
					break
				}
				para = append(para, t)
				i++
			}
			blocks = append(blocks, Paragraph(parseSpans(strings.Join(para, " "))...))
		}
	}
	return blocks
}

// headingLevel returns the ATX heading level of a trimmed line, or 0.
// Levels beyond 4 are treated as level 4, the deepest recognized.
func headingLevel(line string) int {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level >= len(line) || line[level] != ' ' {
		return 0
	}
	if level > 4 {
		level = 4
	}
	return level
}

func isHorizontalRule(line string) bool {
	if len(line) < 3 {
		return false
	}
	c := line[0]
	if c != '-' && c != '*' && c != '_' {
		return false
	}
	for i := 1; i < len(line); i++ {
		if line[i] != c {
			return false
		}
	}
	return true
}

func isUnorderedItem(line string) bool {
	return strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") || strings.HasPrefix(line, "+ ")
}

func startsBlockConstruct(line string) bool {
	return headingLevel(line) > 0 ||
		strings.HasPrefix(line, "```") ||
		strings.HasPrefix(line, ">") ||
		isHorizontalRule(line) ||
		isUnorderedItem(line) ||
		orderedItemPattern.MatchString(line)
}

// parseSpans splits one line of text into inline spans. An opening
// marker with no closing counterpart stays literal text.
func parseSpans(text string) []Span {
	var spans []Span
	var plain strings.Builder
	flush := func() {
		if plain.Len() > 0 {
			spans = append(spans, Text(plain.String()))
			plain.Reset()
		}
	}

	i := 0
	for i < len(text) {
		switch {
		case strings.HasPrefix(text[i:], "**"):
			if end := strings.Index(text[i+2:], "**"); end >= 0 {
				flush()
				spans = append(spans, Bold(text[i+2:i+2+end]))
				i += end + 4
				continue
			}
		case text[i] == '*':
			if end := strings.IndexByte(text[i+1:], '*'); end >= 0 {
				flush()
				spans = append(spans, Italic(text[i+1:i+1+end]))
				i += end + 2
				continue
			}
		case text[i] == '`':
			if end := strings.IndexByte(text[i+1:], '`'); end >= 0 {
				flush()
				spans = append(spans, Code(text[i+1:i+1+end]))
				i += end + 2
				continue
			}
		case text[i] == '[':
			if m := linkPattern.FindStringSubmatch(text[i:]); m != nil {
				flush()
				spans = append(spans, Link(m[1], m[2]))
				i += len(m[0])
				continue
			}
		}
		plain.WriteByte(text[i])
		i++
	}
	flush()
	return spans
}
