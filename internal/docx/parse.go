package docx

import (
	"strings"
)

// Parse reads markup into a Document. Supported blocks are fenced code,
// pipe tables, ATX headings, "-"/"*" bullets, "---" rules and paragraphs.
func Parse(markup string) (*Document, error) {
	lines := strings.Split(strings.ReplaceAll(markup, "\r\n", "\n"), "\n")
	doc := &Document{}
	for i := 0; i < len(lines); {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			i++

		case strings.HasPrefix(trimmed, "```"):
			cb := CodeBlock{Language: strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))}
			start := i
			i++
			closed := false
			for ; i < len(lines); i++ {
				if strings.TrimSpace(lines[i]) == "```" {
					closed = true
					i++
					break
				}
				cb.Lines = append(cb.Lines, lines[i])
			}
			if !closed {
				return nil, &ConversionError{Line: start + 1, Message: "unterminated code block"}
			}
			doc.Blocks = append(doc.Blocks, cb)

		case strings.HasPrefix(trimmed, "|"):
			t, next, err := parseTable(lines, i)
			if err != nil {
				return nil, err
			}
			doc.Blocks = append(doc.Blocks, t)
			i = next

		case headingLevel(trimmed) > 0:
			level := headingLevel(trimmed)
			doc.Blocks = append(doc.Blocks, Heading{Level: level, Runs: parseInline(strings.TrimSpace(trimmed[level:]))})
			i++

		case trimmed == "---" || trimmed == "***":
			doc.Blocks = append(doc.Blocks, Rule{})
			i++

		case isBullet(trimmed):
			indent := len(line) - len(strings.TrimLeft(line, " "))
			doc.Blocks = append(doc.Blocks, ListItem{Level: indent / 2, Runs: parseInline(strings.TrimSpace(trimmed[2:]))})
			i++

		default:
			doc.Blocks = append(doc.Blocks, Paragraph{Runs: parseInline(trimmed)})
			i++
		}
	}
	return doc, nil
}

func headingLevel(s string) int {
	n := 0
	for n < len(s) && s[n] == '#' {
		n++
	}
	if n == 0 || n > 6 || n == len(s) || s[n] != ' ' {
		return 0
	}
	return n
}

func isBullet(s string) bool {
	return strings.HasPrefix(s, "- ") || strings.HasPrefix(s, "* ")
}

func parseTable(lines []string, start int) (Table, int, error) {
	var t Table
	i := start
	for ; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(trimmed, "|") {
			break
		}
		if len(trimmed) < 2 || !strings.HasSuffix(trimmed, "|") || strings.HasSuffix(trimmed, `\|`) {
			return Table{}, 0, &ConversionError{Line: i + 1, Message: "table row is not closed with '|'"}
		}
		cells := splitRow(trimmed)
		if i == start+1 && isSeparator(cells) {
			continue
		}
		if t.Columns == 0 {
			t.Columns = len(cells)
		}
		row := make([]Cell, t.Columns)
		for c := 0; c < t.Columns && c < len(cells); c++ {
			row[c] = Cell{Runs: parseInline(cells[c])}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, i, nil
}

// splitRow splits "| a | b\|c |" into ["a", "b\|c"]. Escaped pipes stay
// escaped here and are unescaped by parseInline.
func splitRow(row string) []string {
	inner := row[1 : len(row)-1]
	var cells []string
	var cur strings.Builder
	for i := 0; i < len(inner); i++ {
		switch {
		case inner[i] == '\\' && i+1 < len(inner) && inner[i+1] == '|':
			cur.WriteString(`\|`)
			i++
		case inner[i] == '|':
			cells = append(cells, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(inner[i])
		}
	}
	return append(cells, strings.TrimSpace(cur.String()))
}

func isSeparator(cells []string) bool {
	for _, c := range cells {
		c = strings.Trim(c, ":")
		if c == "" || strings.Trim(c, "-") != "" {
			return false
		}
	}
	return true
}

// parseInline splits s into runs on **bold**, *italic* and `code` markers.
// A marker without a closing partner is kept as literal text.
func parseInline(s string) []Run {
	var runs []Run
	var plain strings.Builder
	flush := func() {
		if plain.Len() > 0 {
			runs = append(runs, Run{Text: plain.String()})
			plain.Reset()
		}
	}
	for i := 0; i < len(s); {
		switch {
		case s[i] == '\\' && i+1 < len(s) && (s[i+1] == '|' || s[i+1] == '*' || s[i+1] == '`'):
			plain.WriteByte(s[i+1])
			i += 2
		case s[i] == '`':
			if end := strings.IndexByte(s[i+1:], '`'); end >= 0 {
				flush()
				runs = append(runs, Run{Text: unescape(s[i+1 : i+1+end]), Code: true})
				i += end + 2
				continue
			}
			plain.WriteByte(s[i])
			i++
		case strings.HasPrefix(s[i:], "**"):
			if end := strings.Index(s[i+2:], "**"); end > 0 {
				flush()
				runs = append(runs, Run{Text: unescape(s[i+2 : i+2+end]), Bold: true})
				i += end + 4
				continue
			}
			plain.WriteString("**")
			i += 2
		case s[i] == '*' && i+1 < len(s) && s[i+1] != ' ':
			if end := strings.IndexByte(s[i+1:], '*'); end > 0 {
				flush()
				runs = append(runs, Run{Text: unescape(s[i+1 : i+1+end]), Italic: true})
				i += end + 2
				continue
			}
			plain.WriteByte(s[i])
			i++
		default:
			plain.WriteByte(s[i])
			i++
		}
	}
	flush()
	return runs
}

func unescape(s string) string { return strings.ReplaceAll(s, `\|`, "|") }
