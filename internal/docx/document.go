// Package docx converts rendered markdown into a block tree and serializes that
// tree as an Office Open XML word-processing document.
package docx

import (
	"errors"
	"fmt"
)

// ErrConversion matches every ConversionError.
var ErrConversion = errors.New("conversion error")

// ConversionError reports malformed markup. Line is 1-based.
type ConversionError struct {
	Line    int
	Message string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("docx: line %d: %s", e.Line, e.Message)
}

func (e *ConversionError) Is(target error) bool { return target == ErrConversion }

// Run is a span of text sharing one formatting.
type Run struct {
	Text   string
	Bold   bool
	Italic bool
	Code   bool
}

// Block is one of Heading, Paragraph, ListItem, Table, CodeBlock or Rule.
type Block interface {
	block()
}

type Heading struct {
	Level int
	Runs  []Run
}

type Paragraph struct {
	Runs []Run
}

// ListItem is a bullet. Level 0 is the outermost list.
type ListItem struct {
	Level int
	Runs  []Run
}

// Table holds its header as the first row.
type Table struct {
	Columns int
	Rows    [][]Cell
}

type Cell struct {
	Runs []Run
}

type CodeBlock struct {
	Language string
	Lines    []string
}

type Rule struct{}

func (Heading) block()   {}
func (Paragraph) block() {}
func (ListItem) block()  {}
func (Table) block()     {}
func (CodeBlock) block() {}
func (Rule) block()      {}

// Document is the parsed block sequence.
type Document struct {
	Blocks []Block
}

// TableStats gives the shape of one table, header row included.
type TableStats struct {
	Rows    int
	Columns int
}

// Stats summarizes the structure of a document.
type Stats struct {
	Headings   int
	Paragraphs int
	ListItems  int
	CodeBlocks int
	Rules      int
	Tables     []TableStats
}

func (d *Document) Stats() Stats {
	var s Stats
	for _, b := range d.Blocks {
		switch b := b.(type) {
		case Heading:
			s.Headings++
		case Paragraph:
			s.Paragraphs++
		case ListItem:
			s.ListItems++
		case CodeBlock:
			s.CodeBlocks++
		case Rule:
			s.Rules++
		case Table:
			s.Tables = append(s.Tables, TableStats{Rows: len(b.Rows), Columns: b.Columns})
		default:
			panic(fmt.Sprintf("docx: unknown block %T", b))
		}
	}
	return s
}
