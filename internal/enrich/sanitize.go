package enrich

import (
	"regexp"
	"strings"
)

var (
	boldRe      = regexp.MustCompile(`\*\*(.+?)\*\*|__(.+?)__`)
	codeRe      = regexp.MustCompile("`([^`]*)`")
	linkRe      = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	headingRe   = regexp.MustCompile(`^\s{0,3}#{1,6}\s+`)
	listRe      = regexp.MustCompile(`^\s*[-*+]\s+`)
	spaceRe     = regexp.MustCompile(`[ \t]+`)
	fenceLineRe = regexp.MustCompile("^\\s*```")
)

// isPictograph reports emoji and pictographic symbols, plus the joiners and
// variation selectors that glue them together.
func isPictograph(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r == 0x200D || r == 0xFE0F || r == 0x20E3:
		return true
	}
	return false
}

// Sanitize strips markdown decoration and pictographs from text while keeping
// its line structure. Emphasis and code markers are removed, links keep their
// label, heading and list markers are dropped, runs of blanks are collapsed.
func Sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		if isPictograph(r) {
			return -1
		}
		return r
	}, s)
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		if fenceLineRe.MatchString(line) {
			continue
		}
		line = headingRe.ReplaceAllString(line, "")
		line = listRe.ReplaceAllString(line, "")
		line = linkRe.ReplaceAllString(line, "$1")
		line = boldRe.ReplaceAllString(line, "$1$2")
		line = codeRe.ReplaceAllString(line, "$1")
		line = strings.TrimSpace(spaceRe.ReplaceAllString(line, " "))
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// Flatten sanitizes s and joins it into a single line.
func Flatten(s string) string {
	return strings.Join(strings.Fields(Sanitize(s)), " ")
}
