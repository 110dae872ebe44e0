package render

import (
	"strings"

	"github.com/mark3labs/openapi2docx/internal/enrich"
	"github.com/mark3labs/openapi2docx/internal/spec"
)

// operationView holds the texts of one operation between extraction and
// template execution. Enrichment rewrites its string fields in place.
type operationView struct {
	op      *spec.OperationDescriptor
	summary string
	// intro is the free-text part of the description; blocks holds the
	// Parameters/Returns/Raises tail, which is never rewritten.
	intro      string
	blocks     string
	parameters []*row
	fields     []*row

	requestExample  string
	responseExample string
	errorExamples   []string
}

type row struct {
	name        string
	in          string
	typ         string
	description string
	required    bool
}

func (r *Renderer) view(op *spec.OperationDescriptor) (*operationView, error) {
	v := &operationView{op: op, summary: op.Summary}
	desc := enrich.Sanitize(op.Description)
	if desc == "" {
		desc = op.Method.Upper() + " запрос к " + op.Path
	}
	v.intro, v.blocks = splitDescription(desc)
	v.parameters = parameterRows(op)
	v.fields = responseRows(op)

	var err error
	if v.requestExample, err = encodeExample(requestExample(op)); err != nil {
		return nil, err
	}
	if v.responseExample, err = encodeExample(responseExample(op)); err != nil {
		return nil, err
	}
	for _, ex := range errorExamples(op) {
		s, err := encodeExample(ex)
		if err != nil {
			return nil, err
		}
		v.errorExamples = append(v.errorExamples, s)
	}
	return v, nil
}

type templateRow struct {
	Name, In, Type, Description, Required string
}

type templateData struct {
	Index           int
	Heading         string
	Description     []string
	Mode            string
	Auth            string
	Path            string
	Method          string
	Parameters      []templateRow
	Fields          []templateRow
	RequestExample  string
	ResponseExample string
	ErrorExamples   []string
}

func (v *operationView) templateData(index int, defaultAuth string) templateData {
	auth := strings.Join(v.op.Security, ", ")
	if auth == "" {
		auth = defaultAuth
	}
	heading := cell(enrich.Flatten(v.summary))
	if heading == "" {
		heading = v.op.Method.Upper() + " " + v.op.Path
	}
	d := templateData{
		Index:           index,
		Heading:         heading,
		Description:     formatDescription(v.intro, v.blocks),
		Mode:            modeLabel(v.op.Mode),
		Auth:            cell(auth),
		Path:            cell(v.op.Path),
		Method:          v.op.Method.Upper(),
		RequestExample:  v.requestExample,
		ResponseExample: v.responseExample,
		ErrorExamples:   v.errorExamples,
	}
	for _, r := range v.parameters {
		d.Parameters = append(d.Parameters, r.template())
	}
	for _, r := range v.fields {
		d.Fields = append(d.Fields, r.template())
	}
	return d
}

func (r *row) template() templateRow {
	desc := cell(r.description)
	if desc == "" {
		desc = noDescription
	}
	req := "Нет"
	if r.required {
		req = "Да"
	}
	return templateRow{Name: cell(r.name), In: r.in, Type: cell(r.typ), Description: desc, Required: req}
}
