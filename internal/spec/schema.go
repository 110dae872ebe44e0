package spec

import (
	"fmt"
	"strings"
)

// SchemaKind tags the variant held by a SchemaDescriptor. Consumers switch
// over every kind.
type SchemaKind string

const (
	KindPrimitive SchemaKind = "primitive"
	KindObject    SchemaKind = "object"
	KindArray     SchemaKind = "array"
	KindEnum      SchemaKind = "enum"
	KindUnion     SchemaKind = "union"
	KindRecursive SchemaKind = "recursive"
)

// SchemaDescriptor is a resolved schema. Descriptors reached through the same
// reference are shared, so per-use facts such as requiredness live on the
// Property edge instead.
type SchemaDescriptor struct {
	Kind SchemaKind
	// Name is the component name for referenced schemas, empty for inline ones.
	Name string
	// Type is the JSON type for primitives and enums.
	Type        string
	Format      string
	Description string
	Nullable    bool
	Deprecated  bool

	Properties []Property          // KindObject
	Items      *SchemaDescriptor   // KindArray
	Variants   []*SchemaDescriptor // KindUnion
	Enum       []any               // KindEnum

	Example    any
	HasExample bool
}

// Property is one named member of an object descriptor.
type Property struct {
	Name     string
	Required bool
	Schema   *SchemaDescriptor
}

// Property returns the member called name.
func (d *SchemaDescriptor) Property(name string) (Property, bool) {
	if d == nil {
		return Property{}, false
	}
	for _, p := range d.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// Label is the display type used in tables.
func (d *SchemaDescriptor) Label() string {
	if d == nil {
		return "object"
	}
	switch d.Kind {
	case KindPrimitive:
		if d.Type == "" {
			return "string"
		}
		return d.Type
	case KindObject:
		if d.Name != "" {
			return d.Name
		}
		return "object"
	case KindArray:
		return "array<" + d.Items.Label() + ">"
	case KindEnum:
		t := d.Type
		if t == "" {
			t = "string"
		}
		return "enum<" + t + ">"
	case KindUnion:
		labels := make([]string, 0, len(d.Variants))
		for _, v := range d.Variants {
			labels = append(labels, v.Label())
		}
		return strings.Join(labels, " | ")
	case KindRecursive:
		return d.Name
	}
	panic(fmt.Sprintf("spec: unknown schema kind %q", d.Kind))
}

// ExampleValue returns a deterministic example for d. variant 0 prefers declared
// examples; variant 1 always synthesizes, giving a second, distinct value for
// two-element array examples.
func (d *SchemaDescriptor) ExampleValue(variant int) any {
	return exampleValue(d, variant, 0)
}

const maxExampleDepth = 16

func exampleValue(d *SchemaDescriptor, variant, depth int) any {
	if d == nil {
		return Object{}
	}
	if d.HasExample && variant == 0 {
		return d.Example
	}
	if depth > maxExampleDepth {
		return nil
	}
	switch d.Kind {
	case KindPrimitive:
		return primitiveExample(d.Type, d.Format, variant)
	case KindEnum:
		if len(d.Enum) == 0 {
			return primitiveExample(d.Type, d.Format, variant)
		}
		if variant > 0 && len(d.Enum) > 1 {
			return d.Enum[1]
		}
		return d.Enum[0]
	case KindObject:
		obj := make(Object, 0, len(d.Properties))
		for _, p := range d.Properties {
			obj = append(obj, Field{Key: p.Name, Value: exampleValue(p.Schema, variant, depth+1)})
		}
		return obj
	case KindArray:
		return []any{exampleValue(d.Items, variant, depth+1)}
	case KindUnion:
		if len(d.Variants) == 0 {
			return Object{}
		}
		return exampleValue(d.Variants[0], variant, depth+1)
	case KindRecursive:
		return Object{}
	}
	panic(fmt.Sprintf("spec: unknown schema kind %q", d.Kind))
}

var formatExamples = map[string][2]any{
	"date":      {"2024-01-01", "2024-01-02"},
	"date-time": {"2024-01-01T00:00:00Z", "2024-01-02T00:00:00Z"},
	"email":     {"user@example.com", "user2@example.com"},
	"uuid":      {"3fa85f64-5717-4562-b3fc-2c963f66afa6", "7c9e6679-7425-40de-944b-e07fc1f90ae7"},
	"uri":       {"https://example.com", "https://example.com/2"},
}

func primitiveExample(typ, format string, variant int) any {
	v := 0
	if variant > 0 {
		v = 1
	}
	switch typ {
	case "integer":
		return []int{1, 2}[v]
	case "number":
		return []float64{1.5, 2.5}[v]
	case "boolean":
		return v == 0
	case "null":
		return nil
	}
	if pair, ok := formatExamples[format]; ok {
		return pair[v]
	}
	return []string{"string", "string_2"}[v]
}
