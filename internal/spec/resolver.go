package spec

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultMaxSchemaDepth bounds inline nesting. References are guarded by the
// in-progress set; the depth bound only catches pathological inline shapes.
const DefaultMaxSchemaDepth = 64

// SchemaResolver turns schema fragments of one document into descriptors.
// Completed references are kept in an arena keyed by reference path, and the
// references on the active resolution chain are tracked to break cycles.
// A resolver belongs to a single document and is not safe for concurrent use.
type SchemaResolver struct {
	root       *yaml.Node
	arena      map[string]*SchemaDescriptor
	inProgress map[string]bool
	maxDepth   int
}

// NewSchemaResolver returns a resolver bound to doc.
func NewSchemaResolver(doc *Document) *SchemaResolver {
	return &SchemaResolver{
		root:       doc.root,
		arena:      make(map[string]*SchemaDescriptor),
		inProgress: make(map[string]bool),
		maxDepth:   DefaultMaxSchemaDepth,
	}
}

// Resolve produces a descriptor for a schema node. A nil node yields an empty object.
func (r *SchemaResolver) Resolve(n *yaml.Node) (*SchemaDescriptor, error) {
	return r.resolve(n, 0)
}

// ResolveRef resolves a local reference such as "#/components/schemas/Pet".
func (r *SchemaResolver) ResolveRef(ref string) (*SchemaDescriptor, error) {
	return r.resolveRef(ref, 0)
}

func (r *SchemaResolver) resolveRef(ref string, depth int) (*SchemaDescriptor, error) {
	if d, ok := r.arena[ref]; ok {
		return d, nil
	}
	name := refName(ref)
	if r.inProgress[ref] {
		return &SchemaDescriptor{Kind: KindRecursive, Name: name}, nil
	}
	if !strings.HasPrefix(ref, "#/") {
		return nil, resolutionError(ref, "spec: external reference %q is not supported", ref)
	}
	target, ok := lookupPointer(r.root, ref)
	if !ok {
		return nil, resolutionError(ref, "spec: unresolved reference %q", ref)
	}

	r.inProgress[ref] = true
	d, err := r.resolve(target, depth+1)
	delete(r.inProgress, ref)
	if err != nil {
		return nil, err
	}
	// A target that is itself a reference returns a shared descriptor that
	// already carries its own name.
	if str(target, "$ref") == "" {
		d.Name = name
	}
	r.arena[ref] = d
	return d, nil
}

func (r *SchemaResolver) resolve(n *yaml.Node, depth int) (*SchemaDescriptor, error) {
	n = deref(n)
	if n == nil || !isMapping(n) {
		return &SchemaDescriptor{Kind: KindObject}, nil
	}
	if ref := str(n, "$ref"); ref != "" {
		return r.resolveRef(ref, depth)
	}
	if depth > r.maxDepth {
		return &SchemaDescriptor{Kind: KindRecursive, Name: "object"}, nil
	}

	typ, nullable := schemaType(n)
	d := &SchemaDescriptor{
		Type:        typ,
		Format:      str(n, "format"),
		Description: str(n, "description"),
		Nullable:    nullable || boolean(n, "nullable"),
		Deprecated:  boolean(n, "deprecated"),
	}
	if ex := mapGet(n, "example"); ex != nil {
		d.Example, d.HasExample = nodeValue(ex), true
	} else if exs := seqItems(mapGet(n, "examples")); len(exs) > 0 {
		d.Example, d.HasExample = nodeValue(exs[0]), true
	}

	switch {
	case mapGet(n, "allOf") != nil:
		return r.resolveAllOf(n, d, depth)
	case mapGet(n, "oneOf") != nil || mapGet(n, "anyOf") != nil:
		d.Kind = KindUnion
		for _, key := range []string{"oneOf", "anyOf"} {
			for _, branch := range seqItems(mapGet(n, key)) {
				v, err := r.resolve(branch, depth+1)
				if err != nil {
					return nil, err
				}
				d.Variants = append(d.Variants, v)
			}
		}
		return d, nil
	case mapGet(n, "enum") != nil:
		d.Kind = KindEnum
		for _, item := range seqItems(mapGet(n, "enum")) {
			d.Enum = append(d.Enum, nodeValue(item))
		}
		if d.Type == "" {
			d.Type = "string"
		}
		return d, nil
	case typ == "array" || (typ == "" && mapGet(n, "items") != nil):
		d.Kind = KindArray
		d.Type = "array"
		items, err := r.resolve(mapGet(n, "items"), depth+1)
		if err != nil {
			return nil, err
		}
		d.Items = items
		return d, nil
	case typ == "object" || typ == "":
		if typ == "" && mapGet(n, "properties") == nil && d.Format != "" {
			d.Kind, d.Type = KindPrimitive, "string"
			return d, nil
		}
		d.Kind = KindObject
		d.Type = "object"
		props, err := r.properties(n, depth)
		if err != nil {
			return nil, err
		}
		d.Properties = props
		return d, nil
	default:
		d.Kind = KindPrimitive
		return d, nil
	}
}

func (r *SchemaResolver) properties(n *yaml.Node, depth int) ([]Property, error) {
	required := make(map[string]bool)
	for _, name := range stringList(mapGet(n, "required")) {
		required[name] = true
	}
	var out []Property
	for _, p := range mapPairs(mapGet(n, "properties")) {
		ps, err := r.resolve(p.value, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, Property{Name: p.key, Required: required[p.key], Schema: ps})
	}
	return out, nil
}

// resolveAllOf merges the sibling property maps of every branch into one
// object. Later branches override earlier ones on key collision while the
// first position of a key is kept.
func (r *SchemaResolver) resolveAllOf(n *yaml.Node, d *SchemaDescriptor, depth int) (*SchemaDescriptor, error) {
	own, err := r.properties(n, depth)
	if err != nil {
		return nil, err
	}
	var branches []*SchemaDescriptor
	for _, b := range seqItems(mapGet(n, "allOf")) {
		bd, err := r.resolve(b, depth+1)
		if err != nil {
			return nil, err
		}
		branches = append(branches, bd)
	}

	// allOf wrapping a single non-object schema, usually to attach a description.
	if len(own) == 0 && len(branches) == 1 && branches[0].Kind != KindObject {
		cp := *branches[0]
		if d.Description != "" {
			cp.Description = d.Description
		}
		if d.HasExample {
			cp.Example, cp.HasExample = d.Example, true
		}
		cp.Name = ""
		return &cp, nil
	}

	d.Kind = KindObject
	d.Type = "object"
	index := make(map[string]int)
	merge := func(p Property) {
		if i, ok := index[p.Name]; ok {
			p.Required = p.Required || d.Properties[i].Required
			d.Properties[i] = p
			return
		}
		index[p.Name] = len(d.Properties)
		d.Properties = append(d.Properties, p)
	}
	for _, b := range branches {
		if b.Kind != KindObject {
			continue
		}
		if d.Description == "" {
			d.Description = b.Description
		}
		for _, p := range b.Properties {
			merge(p)
		}
	}
	for _, p := range own {
		merge(p)
	}
	for _, name := range stringList(mapGet(n, "required")) {
		if i, ok := index[name]; ok {
			d.Properties[i].Required = true
		}
	}
	return d, nil
}

// schemaType reads "type", which 3.1 documents may give as a list.
func schemaType(n *yaml.Node) (string, bool) {
	t := mapGet(n, "type")
	if t == nil {
		return "", false
	}
	if isSequence(t) {
		nullable := false
		first := ""
		for _, s := range stringList(t) {
			if s == "null" {
				nullable = true
				continue
			}
			if first == "" {
				first = s
			}
		}
		return first, nullable
	}
	return strings.TrimSpace(scalar(t)), false
}
