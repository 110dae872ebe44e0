package docx

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const sample = "# 📘 API-документация\n" +
	"\n" +
	"## 1. Получить список\n" +
	"\n" +
	"### 1.1 Описание\n" +
	"- Возвращает **все** товары.\n" +
	"  - вложенный пункт\n" +
	"Параметры:\n" +
	"\n" +
	"| Имя | Где | Тип |\n" +
	"|---|---|---|\n" +
	"| id | path | integer |\n" +
	"| a\\|b | query |\n" +
	"\n" +
	"```json\n" +
	"{\n" +
	"  \"id\": 1\n" +
	"}\n" +
	"```\n" +
	"\n" +
	"---\n"

func TestParse_Structure(t *testing.T) {
	t.Parallel()
	doc, err := Parse(sample)
	require.NoError(t, err)

	want := []Block{
		Heading{Level: 1, Runs: []Run{{Text: "📘 API-документация"}}},
		Heading{Level: 2, Runs: []Run{{Text: "1. Получить список"}}},
		Heading{Level: 3, Runs: []Run{{Text: "1.1 Описание"}}},
		ListItem{Level: 0, Runs: []Run{{Text: "Возвращает "}, {Text: "все", Bold: true}, {Text: " товары."}}},
		ListItem{Level: 1, Runs: []Run{{Text: "вложенный пункт"}}},
		Paragraph{Runs: []Run{{Text: "Параметры:"}}},
		Table{Columns: 3, Rows: [][]Cell{
			{{Runs: []Run{{Text: "Имя"}}}, {Runs: []Run{{Text: "Где"}}}, {Runs: []Run{{Text: "Тип"}}}},
			{{Runs: []Run{{Text: "id"}}}, {Runs: []Run{{Text: "path"}}}, {Runs: []Run{{Text: "integer"}}}},
			{{Runs: []Run{{Text: "a|b"}}}, {Runs: []Run{{Text: "query"}}}, {}},
		}},
		CodeBlock{Language: "json", Lines: []string{"{", `  "id": 1`, "}"}},
		Rule{},
	}
	if diff := cmp.Diff(want, doc.Blocks); diff != "" {
		t.Fatalf("blocks (-want +got):\n%s", diff)
	}

	st := doc.Stats()
	assert.Equal(t, 3, st.Headings)
	assert.Equal(t, []TableStats{{Rows: 3, Columns: 3}}, st.Tables)
	assert.Equal(t, 1, st.CodeBlocks)
	assert.Equal(t, 2, st.ListItems)
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		markup string
		line   int
	}{
		{"unterminated fence", "# t\n\n```json\n{}\n", 3},
		{"open table row", "| a | b |\n|---|---|\n| c | d\n", 3},
		{"escaped closing pipe", "| a | b \\|\n", 1},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(tc.markup)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConversion))
			var ce *ConversionError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.line, ce.Line)
		})
	}
}

func TestParseInline(t *testing.T) {
	t.Parallel()
	cases := map[string][]Run{
		"plain":                    {{Text: "plain"}},
		"**b** *i* `c`":            {{Text: "b", Bold: true}, {Text: " "}, {Text: "i", Italic: true}, {Text: " "}, {Text: "c", Code: true}},
		"unterminated **bold":      {{Text: "unterminated **bold"}},
		"2 * 3 = 6":                {{Text: "2 * 3 = 6"}},
		"`a\\|b`":                  {{Text: "a|b", Code: true}},
		"escaped \\*not italic\\*": {{Text: "escaped *not italic*"}},
	}
	for in, want := range cases {
		if diff := cmp.Diff(want, parseInline(in)); diff != "" {
			t.Errorf("%q (-want +got):\n%s", in, diff)
		}
	}
}

func readPart(t *testing.T, data []byte, name string) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		defer rc.Close()
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		return string(b)
	}
	t.Fatalf("part %s not found", name)
	return ""
}

func TestConvert_Package(t *testing.T) {
	t.Parallel()
	data, err := Convert(sample, Metadata{Title: "Товары & <API>"})
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{
		"[Content_Types].xml", "_rels/.rels", "docProps/core.xml", "word/document.xml",
		"word/styles.xml", "word/numbering.xml", "word/_rels/document.xml.rels",
	}, names)

	body := readPart(t, data, "word/document.xml")
	assert.Contains(t, body, "Получить список")
	assert.Contains(t, body, "📘 API-документация")
	assert.Contains(t, body, `<w:pStyle w:val="Heading3"/>`)
	assert.Equal(t, 1, strings.Count(body, "<w:tbl>"))
	assert.Equal(t, 3, strings.Count(body, "<w:tr>"))
	assert.Contains(t, body, "<w:tblHeader/>")
	assert.Contains(t, body, `w:fill="F5F5F5"`)
	assert.Equal(t, 2, strings.Count(body, "<w:br/>"))
	assert.Contains(t, body, `<w:ilvl w:val="1"/>`)

	assert.Contains(t, readPart(t, data, "docProps/core.xml"), "Товары &amp; &lt;API&gt;")
}

func TestConvert_ByteIdentical(t *testing.T) {
	t.Parallel()
	a, err := Convert(sample, Metadata{})
	require.NoError(t, err)
	b, err := Convert(sample, Metadata{})
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b))
}

func TestConvert_ControlCharacters(t *testing.T) {
	t.Parallel()
	data, err := Convert("bad\x01char", Metadata{})
	require.NoError(t, err)
	assert.Contains(t, readPart(t, data, "word/document.xml"), "bad\uFFFDchar")
}

// genMarkup draws markup built only from well-formed block shapes.
func genMarkup(t *rapid.T) string {
	var b strings.Builder
	word := rapid.StringMatching(`[A-Za-zА-яё0-9][A-Za-zА-яё0-9 ]{0,11}`)
	for i, n := 0, rapid.IntRange(0, 12).Draw(t, "blocks"); i < n; i++ {
		switch rapid.IntRange(0, 5).Draw(t, "kind") {
		case 0:
			b.WriteString(strings.Repeat("#", rapid.IntRange(1, 6).Draw(t, "level")) + " " + word.Draw(t, "h") + "\n")
		case 1:
			b.WriteString("x" + word.Draw(t, "p") + "\n")
		case 2:
			b.WriteString("- " + word.Draw(t, "li") + "\n")
		case 3:
			cols := rapid.IntRange(1, 4).Draw(t, "cols")
			rows := rapid.IntRange(1, 4).Draw(t, "rows")
			for r := 0; r < rows; r++ {
				for c := 0; c < cols; c++ {
					b.WriteString("| " + word.Draw(t, "cell") + " ")
				}
				b.WriteString("|\n")
				if r == 0 {
					b.WriteString(strings.Repeat("|---", cols) + "|\n")
				}
			}
		case 4:
			b.WriteString("```\n" + word.Draw(t, "code") + "\n```\n")
		case 5:
			b.WriteString("---\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func TestConvert_StructureIsStable(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		markup := genMarkup(t)
		a, err := Parse(markup)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		b, err := Parse(markup)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if diff := cmp.Diff(a.Stats(), b.Stats()); diff != "" {
			t.Fatalf("stats differ:\n%s", diff)
		}
		headings := 0
		for _, line := range strings.Split(markup, "\n") {
			if strings.HasPrefix(line, "#") {
				headings++
			}
		}
		if a.Stats().Headings != headings {
			t.Fatalf("headings: got %d want %d", a.Stats().Headings, headings)
		}
		x, err := Convert(markup, Metadata{})
		if err != nil {
			t.Fatalf("convert: %v", err)
		}
		y, _ := Convert(markup, Metadata{})
		if !bytes.Equal(x, y) {
			t.Fatalf("serialization is not deterministic")
		}
	})
}
