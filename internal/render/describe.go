package render

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/mark3labs/openapi2docx/internal/enrich"
)

var blockLabelRe = regexp.MustCompile(`(?i)\b(parameters?|returns?|raises?):`)

var blockTitles = map[string]string{
	"parameter": "Параметры:",
	"return":    "Возвращает:",
	"raise":     "Вызывает:",
}

// splitDescription separates free text from a trailing docstring-style
// Parameters/Returns/Raises section.
func splitDescription(text string) (intro, blocks string) {
	loc := blockLabelRe.FindStringIndex(text)
	if loc == nil {
		return strings.TrimSpace(text), ""
	}
	return strings.TrimSpace(text[:loc[0]]), strings.TrimSpace(text[loc[0]:])
}

// formatDescription renders intro as one bullet per sentence, followed by
// each labelled block as a title line and its items as bullets.
func formatDescription(intro, blocks string) []string {
	var lines []string
	for _, s := range sentences(enrich.Flatten(intro)) {
		lines = append(lines, "- "+s)
	}
	if blocks == "" {
		return lines
	}

	seen := make(map[string]bool)
	matches := blockLabelRe.FindAllStringSubmatchIndex(blocks, -1)
	for i, m := range matches {
		key := strings.TrimSuffix(strings.ToLower(blocks[m[2]:m[3]]), "s")
		end := len(blocks)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		if key != "parameter" && len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, blockTitles[key])
		for _, item := range blockItems(blocks[m[1]:end]) {
			lines = append(lines, "- "+item)
		}
	}
	return lines
}

var itemSplitRe = regexp.MustCompile(`(?:^|\s+)[-•*]\s+`)

// blockItems splits a block body into items. Explicit list markers win; otherwise
// every non-empty line is an item.
func blockItems(body string) []string {
	var raw []string
	if itemSplitRe.MatchString(body) {
		raw = itemSplitRe.Split(body, -1)
	} else {
		raw = strings.Split(body, "\n")
	}
	var out []string
	for _, r := range raw {
		r = strings.Trim(enrich.Flatten(r), " .")
		if r != "" {
			out = append(out, cell(r))
		}
	}
	return out
}

// sentences splits text after '.', '!' or '?' followed by whitespace.
func sentences(text string) []string {
	var out []string
	runes := []rune(strings.TrimSpace(text))
	start := 0
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			if i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
				if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}
