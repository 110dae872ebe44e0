package spec

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"
)

func resolverFor(t *testing.T, raw string) *SchemaResolver {
	t.Helper()
	return NewSchemaResolver(parseDoc(t, raw))
}

const recursiveSpec = `{
  "openapi": "3.0.0",
  "paths": {},
  "components": {
    "schemas": {
      "Node": {
        "type": "object",
        "properties": {
          "value": {"type": "string"},
          "children": {"type": "array", "items": {"$ref": "#/components/schemas/Node"}},
          "owner": {"$ref": "#/components/schemas/Owner"}
        }
      },
      "Owner": {
        "type": "object",
        "properties": {"root": {"$ref": "#/components/schemas/Node"}}
      },
      "Alias": {"$ref": "#/components/schemas/Owner"}
    }
  }
}`

func TestResolver_SelfReferenceTerminates(t *testing.T) {
	t.Parallel()
	r := resolverFor(t, recursiveSpec)
	d, err := r.ResolveRef("#/components/schemas/Node")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Kind != KindObject || d.Name != "Node" {
		t.Fatalf("node: %+v", d)
	}
	children, _ := d.Property("children")
	if children.Schema.Kind != KindArray || children.Schema.Items.Kind != KindRecursive || children.Schema.Items.Name != "Node" {
		t.Fatalf("children should hold a recursive placeholder: %+v", children.Schema.Items)
	}
	owner, _ := d.Property("owner")
	root, _ := owner.Schema.Property("root")
	if root.Schema.Kind != KindRecursive {
		t.Fatalf("indirect cycle not broken: %+v", root.Schema)
	}
	if got := children.Schema.Label(); got != "array<Node>" {
		t.Fatalf("label: %q", got)
	}
}

func TestResolver_SameReferenceIsStable(t *testing.T) {
	t.Parallel()
	r := resolverFor(t, recursiveSpec)
	a, err := r.ResolveRef("#/components/schemas/Alias")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	b, err := r.ResolveRef("#/components/schemas/Alias")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("descriptors differ (-a +b):\n%s", diff)
	}
	if a.Name != "Owner" {
		t.Fatalf("alias should keep the target name, got %q", a.Name)
	}

	fresh := resolverFor(t, recursiveSpec)
	c, err := fresh.ResolveRef("#/components/schemas/Alias")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if diff := cmp.Diff(a, c); diff != "" {
		t.Fatalf("separate resolvers disagree (-a +c):\n%s", diff)
	}
}

func TestResolver_Composition(t *testing.T) {
	t.Parallel()
	raw := `{
	  "openapi": "3.0.0",
	  "paths": {},
	  "components": {"schemas": {
	    "Base": {"type": "object", "required": ["id"], "properties": {"id": {"type": "integer"}, "kind": {"type": "string"}}},
	    "Cat": {"type": "object", "properties": {"meow": {"type": "boolean"}}},
	    "Dog": {"type": "object", "properties": {"bark": {"type": "boolean"}}},
	    "Extended": {
	      "allOf": [
	        {"$ref": "#/components/schemas/Base"},
	        {"type": "object", "properties": {"kind": {"type": "integer", "description": "override"}, "extra": {"type": "string"}}}
	      ],
	      "required": ["extra"]
	    },
	    "Pet": {"oneOf": [{"$ref": "#/components/schemas/Cat"}, {"$ref": "#/components/schemas/Dog"}]},
	    "Described": {"allOf": [{"$ref": "#/components/schemas/Color"}], "description": "wrapped"},
	    "Color": {"type": "string", "enum": ["red", "green"]}
	  }}
	}`
	r := resolverFor(t, raw)

	ext, err := r.ResolveRef("#/components/schemas/Extended")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var names []string
	for _, p := range ext.Properties {
		names = append(names, p.Name)
	}
	if diff := cmp.Diff([]string{"id", "kind", "extra"}, names); diff != "" {
		t.Fatalf("merged properties (-want +got):\n%s", diff)
	}
	kind, _ := ext.Property("kind")
	if kind.Schema.Type != "integer" || kind.Schema.Description != "override" {
		t.Fatalf("later allOf branch should override: %+v", kind.Schema)
	}
	id, _ := ext.Property("id")
	extra, _ := ext.Property("extra")
	if !id.Required || !extra.Required {
		t.Fatalf("required flags lost: id=%v extra=%v", id.Required, extra.Required)
	}
	base, _ := r.ResolveRef("#/components/schemas/Base")
	if p, _ := base.Property("kind"); p.Schema.Type != "string" {
		t.Fatalf("merging must not mutate shared descriptors")
	}

	pet, err := r.ResolveRef("#/components/schemas/Pet")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if pet.Kind != KindUnion || len(pet.Variants) != 2 || pet.Label() != "Cat | Dog" {
		t.Fatalf("union: kind=%s label=%q", pet.Kind, pet.Label())
	}

	described, err := r.ResolveRef("#/components/schemas/Described")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if described.Kind != KindEnum || described.Description != "wrapped" || described.Label() != "enum<string>" {
		t.Fatalf("single-branch allOf: %+v", described)
	}
}

func TestResolver_Errors(t *testing.T) {
	t.Parallel()
	r := resolverFor(t, `{"openapi":"3.0.0","paths":{}}`)
	for _, ref := range []string{"#/components/schemas/Nope", "other.json#/Pet"} {
		_, err := r.ResolveRef(ref)
		if !errors.Is(err, ErrSchemaResolution) {
			t.Fatalf("%s: expected resolution error, got %v", ref, err)
		}
	}
}

func TestResolver_TypeInference(t *testing.T) {
	t.Parallel()
	raw := `{"openapi":"3.1.0","paths":{},"components":{"schemas":{
	  "Implicit": {"properties": {"a": {"type": ["string", "null"]}, "b": {"format": "date-time"}, "c": {"items": {"type": "integer"}}}}
	}}}`
	d, err := resolverFor(t, raw).ResolveRef("#/components/schemas/Implicit")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	a, _ := d.Property("a")
	b, _ := d.Property("b")
	c, _ := d.Property("c")
	if d.Kind != KindObject || a.Schema.Type != "string" || !a.Schema.Nullable {
		t.Fatalf("a: %+v", a.Schema)
	}
	if b.Schema.Kind != KindPrimitive || b.Schema.Type != "string" {
		t.Fatalf("b: %+v", b.Schema)
	}
	if c.Schema.Label() != "array<integer>" {
		t.Fatalf("c: %q", c.Schema.Label())
	}
}

func TestExampleValue(t *testing.T) {
	t.Parallel()
	d, err := resolverFor(t, recursiveSpec).ResolveRef("#/components/schemas/Node")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	first, _ := json.Marshal(d.ExampleValue(0))
	second, _ := json.Marshal(d.ExampleValue(1))
	if string(first) == string(second) {
		t.Fatalf("variants should differ: %s", first)
	}
	want := `{"value":"string","children":[{}],"owner":{"root":{}}}`
	if string(first) != want {
		t.Fatalf("example: got %s want %s", first, want)
	}
	again, _ := json.Marshal(d.ExampleValue(0))
	if string(again) != string(first) {
		t.Fatalf("synthesis is not deterministic")
	}
}

// TestResolver_ArbitraryCyclesTerminate resolves random reference graphs,
// including self loops, and checks every component yields a descriptor.
func TestResolver_ArbitraryCyclesTerminate(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(rt, "components")
		schemas := make(map[string]any, n)
		for i := 0; i < n; i++ {
			props := map[string]any{"leaf": map[string]any{"type": "string"}}
			edges := rapid.SliceOfN(rapid.IntRange(0, n-1), 0, 4).Draw(rt, fmt.Sprintf("edges%d", i))
			for j, target := range edges {
				ref := map[string]any{"$ref": fmt.Sprintf("#/components/schemas/S%d", target)}
				switch rapid.IntRange(0, 2).Draw(rt, fmt.Sprintf("shape%d_%d", i, j)) {
				case 0:
					props[fmt.Sprintf("p%d", j)] = ref
				case 1:
					props[fmt.Sprintf("p%d", j)] = map[string]any{"type": "array", "items": ref}
				default:
					props[fmt.Sprintf("p%d", j)] = map[string]any{"allOf": []any{ref}}
				}
			}
			schemas[fmt.Sprintf("S%d", i)] = map[string]any{"type": "object", "properties": props}
		}
		raw, err := json.Marshal(map[string]any{
			"openapi":    "3.0.0",
			"paths":      map[string]any{},
			"components": map[string]any{"schemas": schemas},
		})
		if err != nil {
			rt.Fatalf("marshal: %v", err)
		}
		doc, err := Parse(raw, "gen.json")
		if err != nil {
			rt.Fatalf("parse: %v", err)
		}
		r := NewSchemaResolver(doc)
		for i := 0; i < n; i++ {
			ref := fmt.Sprintf("#/components/schemas/S%d", i)
			d, err := r.ResolveRef(ref)
			if err != nil {
				rt.Fatalf("resolve %s: %v", ref, err)
			}
			if d == nil || d.Kind != KindObject {
				rt.Fatalf("resolve %s: unexpected %+v", ref, d)
			}
			_ = d.Label()
			_, _ = json.Marshal(d.ExampleValue(1))
		}
		if len(r.inProgress) != 0 {
			rt.Fatalf("in-progress set not drained: %v", r.inProgress)
		}
	})
}
