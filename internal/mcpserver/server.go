// Package mcpserver exposes document generation as MCP (Model Context
// Protocol) tools over stdio.
package mcpserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mark3labs/openapi2docx/internal/emitter/docxemitter"
	"github.com/mark3labs/openapi2docx/internal/pipeline"
	"github.com/mark3labs/openapi2docx/internal/spec"
)

const serverInstructions = `openapi2docx MCP server: turns OpenAPI 3.x JSON documents into Russian-language interface documentation.

Tools:
- list_operations: preview which operations a document will contain, in document order and numbering.
- render_markdown: the markdown of the document, one eight-section block per operation.
- generate_docx: write the DOCX document to a file.

Every tool takes the document as spec.file (local path), spec.url or spec.content (inline JSON). Filter with include_tags, exclude_tags, methods and max_endpoints. enhance selects off, enhance or full enrichment; enrichment needs LM_STUDIO_API_URL and LM_STUDIO_API_TOKEN in the server environment.`

// Version is reported to MCP clients.
var Version = "dev"

// Server holds the pipeline shared by all tool calls.
type Server struct {
	pipeline *pipeline.Pipeline
	logger   hclog.Logger
	loadOpts []spec.Option
}

// New returns a Server backed by p.
func New(p *pipeline.Pipeline, logger hclog.Logger, loadOpts ...spec.Option) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Server{pipeline: p, logger: logger.Named("mcp"), loadOpts: loadOpts}
}

// Run serves over stdio and blocks until the client disconnects or the
// context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.RunTransport(ctx, &mcp.StdioTransport{})
}

// RunTransport serves over t.
func (s *Server) RunTransport(ctx context.Context, t mcp.Transport) error {
	return s.mcpServer().Run(ctx, t)
}

func (s *Server) mcpServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{Name: "openapi2docx", Version: Version},
		&mcp.ServerOptions{Instructions: serverInstructions},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_operations",
		Description: "List the operations of an OpenAPI 3.x document as they will appear in the generated documentation: number, tag group, method, path, summary and interface mode (sync or async). Filters match the other tools, so use this to preview a document before generating it.",
	}, s.handleListOperations)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "render_markdown",
		Description: "Render an OpenAPI 3.x document as markdown in the fixed eight-section template (description, interface requirements, request format, parameters, response format, request and response examples, error examples). Returns the markdown and the operation counts.",
	}, s.handleRenderMarkdown)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "generate_docx",
		Description: "Generate the DOCX documentation for an OpenAPI 3.x document and write it to output. When output is a directory the file is named <stem>_doc_<timestamp>.docx. Existing files are only replaced with force=true.",
	}, s.handleGenerateDocx)

	return server
}

// specInput represents the three ways a document can be provided to a tool.
// Exactly one of File, URL, or Content must be set.
type specInput struct {
	File    string `json:"file,omitempty"    jsonschema:"Path to an OpenAPI JSON file on disk"`
	URL     string `json:"url,omitempty"     jsonschema:"URL to fetch an OpenAPI JSON document from"`
	Content string `json:"content,omitempty" jsonschema:"Inline OpenAPI JSON document"`
}

// load returns the raw document and the name used to derive file names.
func (in specInput) load(ctx context.Context, opts ...spec.Option) ([]byte, string, error) {
	count := 0
	for _, v := range []string{in.File, in.URL, in.Content} {
		if v != "" {
			count++
		}
	}
	if count != 1 {
		return nil, "", fmt.Errorf("exactly one of file, url, or content must be provided (got %d)", count)
	}
	if in.Content != "" {
		return []byte(in.Content), "openapi.json", nil
	}
	input := in.File
	if in.URL != "" {
		input = in.URL
	}
	src, err := spec.Load(ctx, input, opts...)
	if err != nil {
		return nil, "", err
	}
	return src.Raw, src.Name, nil
}

// documentInput is shared by every tool.
type documentInput struct {
	Spec         specInput `json:"spec"                    jsonschema:"The OpenAPI document"`
	IncludeTags  []string  `json:"include_tags,omitempty"  jsonschema:"Only include operations with at least one of these tags"`
	ExcludeTags  []string  `json:"exclude_tags,omitempty"  jsonschema:"Exclude operations with any of these tags"`
	Methods      []string  `json:"methods,omitempty"       jsonschema:"Only include these HTTP methods (get\\, post\\, ...)"`
	MaxEndpoints int       `json:"max_endpoints,omitempty" jsonschema:"Keep only the first N operations in document order"`
	Enhance      string    `json:"enhance,omitempty"       jsonschema:"Enrichment level: off\\, enhance or full (default: server configuration)"`
}

func (in documentInput) request(ctx context.Context, opts ...spec.Option) (pipeline.Request, error) {
	if in.MaxEndpoints < 0 {
		return pipeline.Request{}, fmt.Errorf("max_endpoints must not be negative")
	}
	flags, err := enhanceFlags(in.Enhance)
	if err != nil {
		return pipeline.Request{}, err
	}
	var methods []spec.HttpMethod
	for _, m := range in.Methods {
		hm, ok := spec.ParseMethod(m)
		if !ok {
			return pipeline.Request{}, fmt.Errorf("unknown HTTP method %q", m)
		}
		methods = append(methods, hm)
	}
	raw, name, err := in.Spec.load(ctx, opts...)
	if err != nil {
		return pipeline.Request{}, err
	}
	return pipeline.Request{
		Source:       raw,
		Name:         name,
		Flags:        flags,
		IncludeTags:  in.IncludeTags,
		ExcludeTags:  in.ExcludeTags,
		Methods:      methods,
		MaxEndpoints: in.MaxEndpoints,
	}, nil
}

func enhanceFlags(level string) (pipeline.Flags, error) {
	on, off := true, false
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "":
		return pipeline.Flags{}, nil
	case "off":
		return pipeline.Flags{UseLLMEnhancement: &off, UseFullLLMGeneration: &off}, nil
	case "enhance":
		return pipeline.Flags{UseLLMEnhancement: &on, UseFullLLMGeneration: &off}, nil
	case "full":
		return pipeline.Flags{UseFullLLMGeneration: &on}, nil
	}
	return pipeline.Flags{}, fmt.Errorf("enhance must be one of off, enhance or full (got %q)", level)
}

type operationSummary struct {
	Number      int    `json:"number"`
	Tag         string `json:"tag"`
	Method      string `json:"method"`
	Path        string `json:"path"`
	Summary     string `json:"summary,omitempty"`
	OperationID string `json:"operation_id,omitempty"`
	Mode        string `json:"mode"`
	Deprecated  bool   `json:"deprecated,omitempty"`
}

type listOperationsOutput struct {
	Title      string             `json:"title"`
	Version    string             `json:"version"`
	Total      int                `json:"total"`
	Available  int                `json:"available"`
	Operations []operationSummary `json:"operations"`
}

func (s *Server) handleListOperations(ctx context.Context, _ *mcp.CallToolRequest, input documentInput) (*mcp.CallToolResult, listOperationsOutput, error) {
	req, err := input.request(ctx, s.loadOpts...)
	if err != nil {
		return nil, listOperationsOutput{}, err
	}
	// Listing never needs enrichment.
	off := false
	req.Flags = pipeline.Flags{UseLLMEnhancement: &off, UseFullLLMGeneration: &off}
	rendered, err := s.pipeline.Render(ctx, req)
	if err != nil {
		return nil, listOperationsOutput{}, err
	}
	m := rendered.Model
	out := listOperationsOutput{
		Title:      m.Title,
		Version:    m.Version,
		Total:      len(m.Operations),
		Available:  m.Available,
		Operations: []operationSummary{},
	}
	n := 0
	for _, g := range m.Groups {
		for _, op := range g.Operations {
			n++
			out.Operations = append(out.Operations, operationSummary{
				Number:      n,
				Tag:         g.Name,
				Method:      op.Method.Upper(),
				Path:        op.Path,
				Summary:     op.Summary,
				OperationID: op.OperationID,
				Mode:        op.Mode.String(),
				Deprecated:  op.Deprecated,
			})
		}
	}
	return nil, out, nil
}

type renderMarkdownOutput struct {
	Markdown   string `json:"markdown"`
	Operations int    `json:"operations"`
	Available  int    `json:"available"`
	Mode       string `json:"mode"`
}

func (s *Server) handleRenderMarkdown(ctx context.Context, _ *mcp.CallToolRequest, input documentInput) (*mcp.CallToolResult, renderMarkdownOutput, error) {
	req, err := input.request(ctx, s.loadOpts...)
	if err != nil {
		return nil, renderMarkdownOutput{}, err
	}
	rendered, err := s.pipeline.Render(ctx, req)
	if err != nil {
		return nil, renderMarkdownOutput{}, err
	}
	return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: rendered.Markdown}},
		}, renderMarkdownOutput{
			Markdown:   rendered.Markdown,
			Operations: len(rendered.Model.Operations),
			Available:  rendered.Model.Available,
			Mode:       string(rendered.Mode),
		}, nil
}

type generateDocxInput struct {
	documentInput
	Output string `json:"output"          jsonschema:"File or directory to write the DOCX document to"`
	Force  bool   `json:"force,omitempty" jsonschema:"Replace an existing file"`
}

type generateDocxOutput struct {
	Path       string `json:"path"`
	Bytes      int    `json:"bytes"`
	Operations int    `json:"operations"`
	Mode       string `json:"mode"`
}

func (s *Server) handleGenerateDocx(ctx context.Context, _ *mcp.CallToolRequest, input generateDocxInput) (*mcp.CallToolResult, generateDocxOutput, error) {
	if strings.TrimSpace(input.Output) == "" {
		return nil, generateDocxOutput{}, fmt.Errorf("output is required")
	}
	req, err := input.request(ctx, s.loadOpts...)
	if err != nil {
		return nil, generateDocxOutput{}, err
	}
	res, err := s.pipeline.Generate(ctx, req)
	if err != nil {
		return nil, generateDocxOutput{}, err
	}

	path := input.Output
	if st, err := os.Stat(path); (err == nil && st.IsDir()) || strings.HasSuffix(path, string(filepath.Separator)) || strings.HasSuffix(path, "/") {
		path = filepath.Join(path, res.Filename)
	}
	if err := docxemitter.WriteFile(path, res.Docx, input.Force); err != nil {
		return nil, generateDocxOutput{}, err
	}
	abs, _ := filepath.Abs(path)
	s.logger.Info("wrote document", "path", abs, "operations", res.Operations, "mode", res.Mode)
	return nil, generateDocxOutput{
		Path:       abs,
		Bytes:      len(res.Docx),
		Operations: res.Operations,
		Mode:       string(res.Mode),
	}, nil
}
