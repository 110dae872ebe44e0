package render

import (
	"fmt"

	"github.com/mark3labs/openapi2docx/internal/spec"
)

// maxFieldDepth caps dotted-path expansion of nested fields.
const maxFieldDepth = 8

// fieldSet accumulates rows, keeping the first row for each path.
type fieldSet struct {
	rows []*row
	seen map[string]bool
	in   string
	// offered counts rows passed to add, duplicates included.
	offered int
}

func newFieldSet(in string) *fieldSet { return &fieldSet{seen: make(map[string]bool), in: in} }

func (fs *fieldSet) add(r *row) {
	fs.offered++
	if fs.seen[r.name] {
		return
	}
	fs.seen[r.name] = true
	r.in = fs.in
	fs.rows = append(fs.rows, r)
}

// expand emits one row per property of d, prefixed with prefix, and recurses
// into object properties and array items.
func (fs *fieldSet) expand(d *spec.SchemaDescriptor, prefix string, depth int) {
	if d == nil || depth > maxFieldDepth {
		return
	}
	switch d.Kind {
	case spec.KindObject:
		for _, p := range d.Properties {
			name := p.Name
			if prefix != "" {
				name = prefix + "." + p.Name
			}
			fs.add(&row{name: name, typ: p.Schema.Label(), description: describe(p.Schema), required: p.Required})
			fs.expand(p.Schema, name, depth+1)
		}
	case spec.KindArray:
		if prefix == "" {
			fs.expand(d.Items, "", depth+1)
			return
		}
		fs.expand(d.Items, prefix+"[]", depth+1)
	case spec.KindUnion:
		for _, v := range d.Variants {
			fs.expand(v, prefix, depth+1)
		}
	case spec.KindPrimitive, spec.KindEnum, spec.KindRecursive:
	default:
		panic(fmt.Sprintf("render: unknown schema kind %q", d.Kind))
	}
}

func describe(d *spec.SchemaDescriptor) string {
	if d == nil {
		return ""
	}
	return d.Description
}

// parameterRows lists the declared parameters, then the request body and its
// fields under the "body" prefix.
func parameterRows(op *spec.OperationDescriptor) []*row {
	var rows []*row
	for _, p := range op.Parameters {
		desc := p.Description
		if desc == "" {
			desc = describe(p.Schema)
		}
		rows = append(rows, &row{name: p.Name, in: string(p.In), typ: p.Schema.Label(), description: desc, required: p.Required})
	}
	if op.RequestBody == nil {
		return rows
	}
	body := op.RequestBody
	desc := body.Description
	if desc == "" {
		desc = describe(body.Schema)
	}
	if desc == "" {
		desc = "Тело запроса"
	}
	rows = append(rows, &row{name: "body", in: string(spec.InBody), typ: body.Schema.Label(), description: desc, required: body.Required})
	fs := newFieldSet(string(spec.InBody))
	if body.Schema != nil && body.Schema.Kind == spec.KindArray {
		fs.expand(body.Schema.Items, "body[]", 1)
	} else {
		fs.expand(body.Schema, "body", 1)
	}
	return append(rows, fs.rows...)
}

// responseRows merges the fields of every success response, de-duplicated by path.
func responseRows(op *spec.OperationDescriptor) []*row {
	fs := newFieldSet("")
	for _, resp := range op.Responses {
		d := resp.Schema
		if d != nil && d.Kind == spec.KindArray {
			d = d.Items
		}
		before := fs.offered
		fs.expand(d, "", 0)
		if fs.offered > before {
			continue
		}
		fs.add(topLevelRow(resp.Schema))
	}
	return fs.rows
}

// topLevelRow describes a response that has no fields of its own.
func topLevelRow(d *spec.SchemaDescriptor) *row {
	desc := describe(d)
	if desc == "" {
		desc = "Ответ сервиса"
	}
	name := "value"
	if d == nil || d.Kind == spec.KindObject || d.Kind == spec.KindRecursive {
		name = "result"
	}
	if d != nil && d.Kind == spec.KindArray && d.Items != nil && (d.Items.Kind == spec.KindObject || d.Items.Kind == spec.KindRecursive) {
		name = "result"
	}
	return &row{name: name, typ: d.Label(), description: desc}
}
