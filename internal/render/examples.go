package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/openapi2docx/internal/spec"
)

// synthesize builds an example for d. A top-level array renders two items so
// readers see the element shape twice with different values.
func synthesize(d *spec.SchemaDescriptor) any {
	if d != nil && d.Kind == spec.KindArray && !d.HasExample {
		return []any{d.Items.ExampleValue(0), d.Items.ExampleValue(1)}
	}
	return d.ExampleValue(0)
}

func requestExample(op *spec.OperationDescriptor) any {
	if b := op.RequestBody; b != nil {
		if b.HasExample {
			return b.Example
		}
		if b.Schema != nil {
			return synthesize(b.Schema)
		}
	}
	if len(op.Parameters) > 0 {
		obj := make(spec.Object, 0, len(op.Parameters))
		for _, p := range op.Parameters {
			v := p.Example
			if !p.HasExample {
				v = p.Schema.ExampleValue(0)
			}
			obj = append(obj, spec.Field{Key: p.Name, Value: v})
		}
		return obj
	}
	return spec.Object{{Key: "example", Value: "value"}}
}

func responseExample(op *spec.OperationDescriptor) any {
	r := op.PrimaryResponse()
	if r == nil {
		return spec.Object{{Key: "errorCode", Value: 0}, {Key: "errorMessage", Value: ""}}
	}
	if r.HasExample {
		return r.Example
	}
	return synthesize(r.Schema)
}

var defaultErrorExamples = []any{
	spec.Object{{Key: "error", Value: "Invalid request"}, {Key: "code", Value: 400}},
	spec.Object{{Key: "error", Value: "Unauthorized"}, {Key: "code", Value: 401}},
	spec.Object{{Key: "error", Value: "Internal server error"}, {Key: "code", Value: 500}},
}

func errorExamples(op *spec.OperationDescriptor) []any {
	if len(op.ErrorExamples) == 0 {
		return defaultErrorExamples
	}
	out := make([]any, 0, len(op.ErrorExamples))
	for _, e := range op.ErrorExamples {
		out = append(out, e.Example)
	}
	return out
}

// encodeExample renders v as two-space indented JSON without HTML escaping.
// A missing value renders as an empty object.
func encodeExample(v any) (string, error) {
	if v == nil {
		v = spec.Object{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("render: encode example: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
