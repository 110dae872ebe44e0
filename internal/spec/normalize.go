package spec

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// BuildOption configures how the DocumentModel is built from a document.
type BuildOption func(*buildConfig)

type buildConfig struct {
	includeTags   map[string]struct{}
	excludeTags   map[string]struct{}
	methods       map[HttpMethod]struct{}
	pathRes       []*regexp.Regexp
	maxOperations int
}

// WithIncludeTags keeps only operations that have at least one of the given tags.
func WithIncludeTags(tags []string) BuildOption {
	return func(c *buildConfig) {
		if len(tags) == 0 {
			return
		}
		if c.includeTags == nil {
			c.includeTags = make(map[string]struct{}, len(tags))
		}
		for _, t := range tags {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			c.includeTags[t] = struct{}{}
		}
	}
}

// WithExcludeTags removes operations that have any of the given tags.
func WithExcludeTags(tags []string) BuildOption {
	return func(c *buildConfig) {
		if len(tags) == 0 {
			return
		}
		if c.excludeTags == nil {
			c.excludeTags = make(map[string]struct{}, len(tags))
		}
		for _, t := range tags {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			c.excludeTags[t] = struct{}{}
		}
	}
}

// WithMethods keeps only operations using one of the provided HTTP methods.
func WithMethods(methods []HttpMethod) BuildOption {
	return func(c *buildConfig) {
		if len(methods) == 0 {
			return
		}
		if c.methods == nil {
			c.methods = make(map[HttpMethod]struct{}, len(methods))
		}
		for _, m := range methods {
			c.methods[m] = struct{}{}
		}
	}
}

// WithPathPatterns keeps only operations whose path matches at least one of the provided
// regular expressions. An invalid pattern never matches.
func WithPathPatterns(patterns []string) BuildOption {
	return func(c *buildConfig) {
		for _, p := range patterns {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			re, err := regexp.Compile(p)
			if err != nil {
				re = regexp.MustCompile("a^$")
			}
			c.pathRes = append(c.pathRes, re)
		}
	}
}

// WithMaxOperations keeps the first n distinct operations in source order. n <= 0 means no limit.
func WithMaxOperations(n int) BuildOption {
	return func(c *buildConfig) { c.maxOperations = n }
}

// pathItemKeys are the non-method keys a path item may carry.
var pathItemKeys = map[string]bool{
	"$ref": true, "summary": true, "description": true, "servers": true, "parameters": true,
}

// BuildDocumentModel walks the paths of doc and builds the grouped operation model.
// It fails with a SpecValidation error when paths are absent or an operation cannot
// be attributed to an HTTP method, and with a SchemaResolution error on dangling references.
func BuildDocumentModel(ctx context.Context, doc *Document, opts ...BuildOption) (*DocumentModel, error) {
	if doc == nil || doc.root == nil {
		return nil, fmt.Errorf("nil document")
	}
	cfg := &buildConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	root := doc.root
	info := mapGet(root, "info")
	m := &DocumentModel{
		Title:          str(info, "title"),
		Version:        str(info, "version"),
		Description:    str(info, "description"),
		OpenAPIVersion: doc.Version,
		Digest:         doc.Digest,
	}

	paths := mapGet(root, "paths")
	if paths == nil {
		return nil, withLocation(validationError("#/paths", "spec: document has no 'paths' collection"), doc)
	}
	if !isMapping(paths) {
		return nil, withLocation(validationError("#/paths", "spec: 'paths' must be an object"), doc)
	}

	x := &extractor{
		doc:      doc,
		resolver: NewSchemaResolver(doc),
		global:   globalInterfaceMode(root),
		security: mapGet(root, "security"),
		schemes:  mapGet(mapGet(root, "components"), "securitySchemes"),
	}

	for _, pp := range mapPairs(paths) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := pp.key
		pointer := "#/paths/" + escapePointer(path)
		item, err := x.followRef(pp.value, pointer)
		if err != nil {
			return nil, err
		}
		if !isMapping(item) {
			return nil, withLocation(validationError(pointer, "spec: path item %q must be an object", path), doc)
		}
		baseParams, err := x.parameters(mapGet(item, "parameters"), pointer+"/parameters")
		if err != nil {
			return nil, err
		}

		for _, op := range mapPairs(item) {
			method, ok := ParseMethod(op.key)
			if !ok {
				if !pathItemKeys[op.key] && !strings.HasPrefix(op.key, "x-") && mapGet(op.value, "responses") != nil {
					return nil, withLocation(validationError(pointer+"/"+escapePointer(op.key),
						"spec: operation under %q in path %q lacks a valid HTTP method", op.key, path), doc)
				}
				continue
			}
			opPointer := pointer + "/" + op.key
			if !isMapping(op.value) {
				return nil, withLocation(validationError(opPointer, "spec: operation %s %s must be an object", method.Upper(), path), doc)
			}
			if !cfg.allowMethodAndPath(method, path) {
				continue
			}
			tags := stringList(mapGet(op.value, "tags"))
			if !allowByTags(tags, cfg) {
				continue
			}
			m.Available++
			if cfg.maxOperations > 0 && len(m.Operations) >= cfg.maxOperations {
				continue
			}
			od, err := x.operation(path, method, op.value, opPointer, baseParams)
			if err != nil {
				return nil, err
			}
			m.Operations = append(m.Operations, od)
		}
	}

	m.Groups = groupByTag(m.Operations)
	return m, nil
}

func withLocation(e *SpecError, doc *Document) *SpecError {
	e.Location = doc.Location
	return e
}

func (c *buildConfig) allowMethodAndPath(method HttpMethod, path string) bool {
	if len(c.methods) > 0 {
		if _, ok := c.methods[method]; !ok {
			return false
		}
	}
	if len(c.pathRes) > 0 {
		for _, re := range c.pathRes {
			if re.MatchString(path) {
				return true
			}
		}
		return false
	}
	return true
}

func allowByTags(tags []string, cfg *buildConfig) bool {
	if len(cfg.includeTags) > 0 {
		ok := false
		for _, t := range tags {
			if _, yes := cfg.includeTags[t]; yes {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(cfg.excludeTags) > 0 {
		for _, t := range tags {
			if _, blocked := cfg.excludeTags[t]; blocked {
				return false
			}
		}
	}
	return true
}

// groupByTag files every operation under each tag it declares. Tags are ordered by
// first appearance; untagged operations go to DefaultTag, placed last unless the
// document declares that tag itself.
func groupByTag(ops []*OperationDescriptor) []TagGroup {
	var groups []TagGroup
	index := make(map[string]int)
	var untagged []*OperationDescriptor
	for _, op := range ops {
		if len(op.Tags) == 0 {
			untagged = append(untagged, op)
			continue
		}
		for _, t := range op.Tags {
			i, ok := index[t]
			if !ok {
				i = len(groups)
				index[t] = i
				groups = append(groups, TagGroup{Name: t})
			}
			groups[i].Operations = append(groups[i].Operations, op)
		}
	}
	if len(untagged) > 0 {
		if i, ok := index[DefaultTag]; ok {
			groups[i].Operations = append(groups[i].Operations, untagged...)
		} else {
			groups = append(groups, TagGroup{Name: DefaultTag, Operations: untagged})
		}
	}
	return groups
}

type extractor struct {
	doc      *Document
	resolver *SchemaResolver
	global   *InterfaceMode
	security *yaml.Node
	schemes  *yaml.Node
}

const maxRefHops = 32

// followRef follows non-schema $ref chains (path items, parameters, bodies, responses).
func (x *extractor) followRef(n *yaml.Node, pointer string) (*yaml.Node, error) {
	for hops := 0; hops < maxRefHops; hops++ {
		ref := str(n, "$ref")
		if ref == "" {
			return n, nil
		}
		if !strings.HasPrefix(ref, "#/") {
			return nil, withLocation(resolutionError(ref, "spec: external reference %q at %s is not supported", ref, pointer), x.doc)
		}
		target, ok := lookupPointer(x.doc.root, ref)
		if !ok {
			return nil, withLocation(resolutionError(ref, "spec: unresolved reference %q at %s", ref, pointer), x.doc)
		}
		n = target
	}
	return nil, withLocation(resolutionError(pointer, "spec: reference chain at %s does not terminate", pointer), x.doc)
}

func (x *extractor) schema(n *yaml.Node) (*SchemaDescriptor, error) {
	d, err := x.resolver.Resolve(n)
	if err != nil {
		if se, ok := err.(*SpecError); ok && se.Location == "" {
			se.Location = x.doc.Location
		}
		return nil, err
	}
	return d, nil
}

func paramKey(in ParameterLocation, name string) string { return string(in) + ":" + name }

func (x *extractor) parameters(list *yaml.Node, pointer string) ([]ParameterDescriptor, error) {
	var out []ParameterDescriptor
	for i, raw := range seqItems(list) {
		n, err := x.followRef(raw, fmt.Sprintf("%s/%d", pointer, i))
		if err != nil {
			return nil, err
		}
		name := str(n, "name")
		if name == "" {
			continue
		}
		p := ParameterDescriptor{
			Name:        name,
			In:          ParameterLocation(strings.ToLower(str(n, "in"))),
			Description: str(n, "description"),
			Required:    boolean(n, "required"),
		}
		if p.In == "" {
			p.In = InQuery
		}
		if p.In == InPath {
			p.Required = true
		}
		schemaNode := mapGet(n, "schema")
		if schemaNode == nil {
			// content-style parameters carry the schema in their first media type.
			if media := mapPairs(mapGet(n, "content")); len(media) > 0 {
				schemaNode = mapGet(media[0].value, "schema")
			}
		}
		if schemaNode == nil {
			p.Schema = &SchemaDescriptor{Kind: KindPrimitive, Type: "string"}
		} else if p.Schema, err = x.schema(schemaNode); err != nil {
			return nil, err
		}
		if ex := mapGet(n, "example"); ex != nil {
			p.Example, p.HasExample = nodeValue(ex), true
		}
		out = append(out, p)
	}
	return out, nil
}

// mergeParameters overlays operation-level parameters on the path-level ones.
// Overrides keep the path-level position; new ones follow in source order.
func mergeParameters(base, own []ParameterDescriptor) []ParameterDescriptor {
	out := make([]ParameterDescriptor, 0, len(base)+len(own))
	index := make(map[string]int, len(base)+len(own))
	for _, set := range [][]ParameterDescriptor{base, own} {
		for _, p := range set {
			k := paramKey(p.In, p.Name)
			if i, ok := index[k]; ok {
				out[i] = p
				continue
			}
			index[k] = len(out)
			out = append(out, p)
		}
	}
	return out
}

func (x *extractor) operation(path string, method HttpMethod, op *yaml.Node, pointer string, base []ParameterDescriptor) (*OperationDescriptor, error) {
	own, err := x.parameters(mapGet(op, "parameters"), pointer+"/parameters")
	if err != nil {
		return nil, err
	}
	od := &OperationDescriptor{
		ID:          method.Upper() + " " + path,
		OperationID: str(op, "operationId"),
		Method:      method,
		Path:        path,
		Tags:        dedupe(stringList(mapGet(op, "tags"))),
		Summary:     str(op, "summary"),
		Description: str(op, "description"),
		Parameters:  mergeParameters(base, own),
		Mode:        inferInterfaceMode(op, x.global),
		Deprecated:  boolean(op, "deprecated"),
	}
	if od.Summary == "" {
		od.Summary = od.OperationID
	}
	if od.Summary == "" {
		od.Summary = od.ID
	}

	if rb := mapGet(op, "requestBody"); rb != nil {
		n, err := x.followRef(rb, pointer+"/requestBody")
		if err != nil {
			return nil, err
		}
		if od.RequestBody, err = x.body(n); err != nil {
			return nil, err
		}
	}

	if err := x.responses(od, mapGet(op, "responses"), pointer+"/responses"); err != nil {
		return nil, err
	}

	sec := x.security
	if opSec := mapGet(op, "security"); opSec != nil {
		sec = opSec
	}
	od.Security = x.securityLabels(sec)
	return od, nil
}

// firstMedia returns the first declared media type in source order.
func firstMedia(content *yaml.Node) (string, *yaml.Node) {
	pairs := mapPairs(content)
	if len(pairs) == 0 {
		return "", nil
	}
	return pairs[0].key, pairs[0].value
}

// mediaExample returns the media-level example, else the first named example.
func (x *extractor) mediaExample(media *yaml.Node) (any, bool) {
	if ex := mapGet(media, "example"); ex != nil {
		return nodeValue(ex), true
	}
	for _, p := range mapPairs(mapGet(media, "examples")) {
		n, err := x.followRef(p.value, "examples")
		if err != nil {
			continue
		}
		if v := mapGet(n, "value"); v != nil {
			return nodeValue(v), true
		}
	}
	return nil, false
}

func (x *extractor) body(n *yaml.Node) (*BodyDescriptor, error) {
	mime, media := firstMedia(mapGet(n, "content"))
	if media == nil {
		return nil, nil
	}
	b := &BodyDescriptor{
		MediaType:   mime,
		Description: str(n, "description"),
		Required:    boolean(n, "required"),
	}
	var err error
	if b.Schema, err = x.schema(mapGet(media, "schema")); err != nil {
		return nil, err
	}
	b.Example, b.HasExample = x.mediaExample(media)
	return b, nil
}

func (x *extractor) responses(od *OperationDescriptor, responses *yaml.Node, pointer string) error {
	var errs []StatusExample
	for _, rp := range mapPairs(responses) {
		status := rp.key
		n, err := x.followRef(rp.value, pointer+"/"+escapePointer(status))
		if err != nil {
			return err
		}
		switch {
		case strings.HasPrefix(status, "2"):
			r := ResponseDescriptor{Status: status, Description: str(n, "description")}
			mime, media := firstMedia(mapGet(n, "content"))
			r.MediaType = mime
			if media == nil {
				r.Schema = &SchemaDescriptor{Kind: KindObject, Type: "object"}
			} else {
				if r.Schema, err = x.schema(mapGet(media, "schema")); err != nil {
					return err
				}
				r.Example, r.HasExample = x.mediaExample(media)
			}
			od.Responses = append(od.Responses, r)
		case strings.HasPrefix(status, "4") || strings.HasPrefix(status, "5"):
			_, media := firstMedia(mapGet(n, "content"))
			if ex, ok := x.mediaExample(media); ok {
				errs = append(errs, StatusExample{Status: status, Example: ex})
			}
		}
	}
	if len(od.Responses) == 0 {
		od.Responses = []ResponseDescriptor{errorEnvelope()}
	}
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Status < errs[j].Status })
	if len(errs) > 3 {
		errs = errs[:3]
	}
	od.ErrorExamples = errs
	return nil
}

// errorEnvelope is the response used when an operation declares no 2xx entry.
func errorEnvelope() ResponseDescriptor {
	return ResponseDescriptor{
		Status:    "200",
		Synthetic: true,
		Schema: &SchemaDescriptor{
			Kind: KindObject,
			Type: "object",
			Properties: []Property{
				{Name: "errorCode", Required: true, Schema: &SchemaDescriptor{
					Kind: KindPrimitive, Type: "integer", Description: "Код ошибки (0 — нет ошибки)",
					Example: 0, HasExample: true,
				}},
				{Name: "errorMessage", Required: true, Schema: &SchemaDescriptor{
					Kind: KindPrimitive, Type: "string", Description: "Сообщение об ошибке",
					Example: "", HasExample: true,
				}},
			},
		},
	}
}

// securityLabels maps each requirement name onto its scheme's "scheme", then
// "type", then the bare name.
func (x *extractor) securityLabels(sec *yaml.Node) []string {
	var out []string
	seen := make(map[string]bool)
	for _, req := range seqItems(sec) {
		for _, p := range mapPairs(req) {
			scheme := mapGet(x.schemes, p.key)
			if ref := str(scheme, "$ref"); ref != "" {
				scheme, _ = lookupPointer(x.doc.root, ref)
			}
			label := str(scheme, "scheme")
			if label == "" {
				label = str(scheme, "type")
			}
			if label == "" {
				label = p.key
			}
			if !seen[label] {
				seen[label] = true
				out = append(out, label)
			}
		}
	}
	return out
}

func dedupe(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
