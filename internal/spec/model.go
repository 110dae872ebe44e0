package spec

import "strings"

// Document model built by the extractor and consumed by the renderer. All
// values are immutable once BuildDocumentModel returns.

type HttpMethod string

const (
	GET     HttpMethod = "get"
	POST    HttpMethod = "post"
	PUT     HttpMethod = "put"
	DELETE  HttpMethod = "delete"
	PATCH   HttpMethod = "patch"
	HEAD    HttpMethod = "head"
	OPTIONS HttpMethod = "options"
	TRACE   HttpMethod = "trace"
)

// ParseMethod maps a path-item key onto an HttpMethod.
func ParseMethod(s string) (HttpMethod, bool) {
	switch m := HttpMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS, TRACE:
		return m, true
	}
	return "", false
}

// Upper returns the method as it appears on the wire.
func (m HttpMethod) Upper() string { return strings.ToUpper(string(m)) }

// DefaultTag collects operations that declare no tags.
const DefaultTag = "API"

type DocumentModel struct {
	Title          string
	Version        string
	Description    string
	OpenAPIVersion string
	// Digest identifies the source document.
	Digest string
	// Groups are ordered by first appearance of the tag in the source.
	Groups []TagGroup
	// Operations lists each distinct operation once, in source order.
	Operations []*OperationDescriptor
	// Available counts the operations that passed the filters before the
	// WithMaxOperations cap was applied.
	Available int
}

// Group returns the group for tag, if present.
func (m *DocumentModel) Group(tag string) (TagGroup, bool) {
	for _, g := range m.Groups {
		if g.Name == tag {
			return g, true
		}
	}
	return TagGroup{}, false
}

type TagGroup struct {
	Name       string
	Operations []*OperationDescriptor
}

type InterfaceMode int

const (
	Synchronous InterfaceMode = iota
	Asynchronous
)

func (m InterfaceMode) String() string {
	if m == Asynchronous {
		return "async"
	}
	return "sync"
}

type ParameterLocation string

const (
	InPath   ParameterLocation = "path"
	InQuery  ParameterLocation = "query"
	InHeader ParameterLocation = "header"
	InCookie ParameterLocation = "cookie"
	InBody   ParameterLocation = "body"
)

type ParameterDescriptor struct {
	Name        string
	In          ParameterLocation
	Schema      *SchemaDescriptor
	Description string
	Required    bool
	// Example is the parameter-level example, if declared.
	Example    any
	HasExample bool
}

type OperationDescriptor struct {
	ID          string // METHOD path
	OperationID string
	Method      HttpMethod
	Path        string
	Tags        []string
	Summary     string
	Description string
	Parameters  []ParameterDescriptor
	RequestBody *BodyDescriptor
	// Responses holds the 2xx entries in source order. When the document
	// declares none, it holds a single synthetic error envelope.
	Responses []ResponseDescriptor
	// ErrorExamples carries explicit 4xx/5xx examples, sorted by status.
	ErrorExamples []StatusExample
	Security      []string
	Mode          InterfaceMode
	Deprecated    bool
}

// BodyDescriptor is the request body's first declared media type.
type BodyDescriptor struct {
	MediaType   string
	Description string
	Required    bool
	Schema      *SchemaDescriptor
	Example     any
	HasExample  bool
}

type ResponseDescriptor struct {
	Status      string
	Description string
	MediaType   string
	Schema      *SchemaDescriptor
	Example     any
	HasExample  bool
	// Synthetic is set on the fallback error envelope.
	Synthetic bool
}

type StatusExample struct {
	Status  string
	Example any
}

// PrimaryResponse returns the response used for the example section: 200,
// then 201, then 202, then the first 2xx in source order.
func (o *OperationDescriptor) PrimaryResponse() *ResponseDescriptor {
	if len(o.Responses) == 0 {
		return nil
	}
	for _, want := range []string{"200", "201", "202"} {
		for i := range o.Responses {
			if o.Responses[i].Status == want {
				return &o.Responses[i]
			}
		}
	}
	return &o.Responses[0]
}
