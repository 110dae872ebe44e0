// Package pipeline wires intake, extraction, rendering and conversion into a
// single document-generation call shared by the CLI, the HTTP server and the
// MCP tools.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/mark3labs/openapi2docx/internal/config"
	"github.com/mark3labs/openapi2docx/internal/docx"
	"github.com/mark3labs/openapi2docx/internal/enrich"
	"github.com/mark3labs/openapi2docx/internal/render"
	"github.com/mark3labs/openapi2docx/internal/spec"
)

// Mode names the generation mode actually used for a document.
type Mode string

const (
	ModeFast     Mode = "fast"
	ModeEnhanced Mode = "enhanced"
	ModeFull     Mode = "full"
)

// Flags are per-request overrides of the configured mode switches. Nil leaves
// the configured (or automatic) value in place.
type Flags struct {
	UseLocalParsing      *bool
	UseLLMEnhancement    *bool
	UseFullLLMGeneration *bool
}

// Request describes one document to generate.
type Request struct {
	Source []byte
	// Name is the uploaded file name or input path; it only shapes Filename.
	Name  string
	Flags Flags

	IncludeTags []string
	ExcludeTags []string
	Methods     []spec.HttpMethod
	// Paths are regular expressions matched against operation paths.
	Paths []string
	// MaxEndpoints overrides the configured cap when positive.
	MaxEndpoints int
}

// Rendered is the markdown stage of a generation.
type Rendered struct {
	Markdown string
	Model    *spec.DocumentModel
	Mode     Mode
}

// Result is a finished document.
type Result struct {
	Docx       []byte
	Markdown   string
	Model      *spec.DocumentModel
	Filename   string
	Operations int
	Mode       Mode
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(l hclog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithClock replaces time.Now when stamping file names.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// WithAdapter replaces the adapter built from the configuration.
func WithAdapter(a enrich.Adapter) Option { return func(p *Pipeline) { p.adapter = a } }

// WithFallbackHook is called for every enrichment fragment that fell back to
// local text.
func WithFallbackHook(fn func(enrich.Task, error)) Option {
	return func(p *Pipeline) { p.onFallback = fn }
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	cfg        *config.Config
	adapter    enrich.Adapter
	logger     hclog.Logger
	now        func() time.Time
	onFallback func(enrich.Task, error)
}

// New builds a Pipeline. The enrichment client is created once here when the
// configuration carries both an endpoint URL and a token.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	p := &Pipeline{
		cfg:    cfg,
		logger: hclog.NewNullLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("pipeline")

	if p.adapter == nil {
		if cfg.LLMConfigured() {
			client, err := enrich.NewClient(enrich.Config{
				URL:               cfg.LLM.URL,
				Token:             cfg.LLM.Token,
				Model:             cfg.LLM.Model,
				MaxTokens:         cfg.LLM.MaxTokens,
				Temperature:       cfg.LLM.Temperature,
				Timeout:           cfg.LLM.Timeout,
				RequestsPerSecond: cfg.LLM.RequestsPerSecond,
				Burst:             cfg.LLM.Burst,
				CacheSize:         cfg.LLM.CacheSize,
				TargetLanguage:    cfg.LLM.TargetLanguage,
				Logger:            p.logger,
			})
			if err != nil {
				return nil, fmt.Errorf("pipeline: %w", err)
			}
			p.adapter = client
		} else {
			p.adapter = enrich.NoopAdapter{}
		}
	}
	return p, nil
}

// LLMConfigured reports whether an enrichment endpoint is configured.
func (p *Pipeline) LLMConfigured() bool { return p.cfg.LLMConfigured() }

// ResolveMode applies request flags over configured switches over automatic
// values. Automatic values are: local parsing on, enhancement off, full
// generation on exactly when an endpoint is configured.
func (p *Pipeline) ResolveMode(f Flags) Mode {
	full := resolve(f.UseFullLLMGeneration, p.cfg.Modes.UseFullLLMGeneration, p.cfg.LLMConfigured())
	enhance := resolve(f.UseLLMEnhancement, p.cfg.Modes.UseLLMEnhancement, false)
	switch {
	case full:
		return ModeFull
	case enhance:
		return ModeEnhanced
	}
	// Local parsing is the only extractor, so an explicit opt-out without full
	// generation still parses locally.
	if !resolve(f.UseLocalParsing, p.cfg.Modes.UseLocalParsing, true) {
		p.logger.Debug("local parsing cannot be disabled without full generation")
	}
	return ModeFast
}

func resolve(req, cfg *bool, auto bool) bool {
	if req != nil {
		return *req
	}
	if cfg != nil {
		return *cfg
	}
	return auto
}

func (m Mode) level() render.Level {
	switch m {
	case ModeFull:
		return render.LevelFull
	case ModeEnhanced:
		return render.LevelEnhance
	}
	return render.LevelOff
}

// Render parses the source, builds the model and renders markdown.
func (p *Pipeline) Render(ctx context.Context, req Request) (*Rendered, error) {
	doc, err := spec.Parse(req.Source, req.Name)
	if err != nil {
		return nil, err
	}
	p.lint(ctx, req.Source)

	buildOpts := []spec.BuildOption{
		spec.WithIncludeTags(req.IncludeTags),
		spec.WithExcludeTags(req.ExcludeTags),
		spec.WithPathPatterns(req.Paths),
	}
	if len(req.Methods) > 0 {
		buildOpts = append(buildOpts, spec.WithMethods(req.Methods))
	}
	limit := p.cfg.Render.MaxEndpoints
	if req.MaxEndpoints > 0 {
		limit = req.MaxEndpoints
	}
	if limit > 0 {
		buildOpts = append(buildOpts, spec.WithMaxOperations(limit))
	}
	model, err := spec.BuildDocumentModel(ctx, doc, buildOpts...)
	if err != nil {
		return nil, err
	}

	mode := p.ResolveMode(req.Flags)
	r := render.New(
		render.WithLevel(mode.level()),
		render.WithAdapter(p.adapter),
		render.WithShortDescriptionLength(p.cfg.Render.ShortDescriptionLength),
		render.WithDefaultAuth(p.cfg.Render.DefaultAuth),
		render.WithConcurrency(p.cfg.LLM.Concurrency),
		render.WithTargetLanguage(p.cfg.LLM.TargetLanguage),
		render.WithModel(p.cfg.LLM.Model, p.cfg.LLM.MaxTokens),
		render.WithLogger(p.logger),
		render.WithFallbackHook(p.onFallback),
	)
	markdown, err := r.Render(ctx, model)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("rendered document", "title", model.Title, "operations", len(model.Operations), "mode", mode)
	return &Rendered{Markdown: markdown, Model: model, Mode: mode}, nil
}

// Generate renders the document and converts it to DOCX.
func (p *Pipeline) Generate(ctx context.Context, req Request) (*Result, error) {
	rendered, err := p.Render(ctx, req)
	if err != nil {
		return nil, err
	}
	data, err := docx.Convert(rendered.Markdown, docx.Metadata{Title: rendered.Model.Title, Creator: "openapi2docx"})
	if err != nil {
		if errors.Is(err, docx.ErrConversion) {
			p.logger.Debug("conversion failed", "markup", rendered.Markdown)
		}
		return nil, fmt.Errorf("pipeline: convert: %w", err)
	}
	return &Result{
		Docx:       data,
		Markdown:   rendered.Markdown,
		Model:      rendered.Model,
		Filename:   Filename(req.Name, p.now()),
		Operations: len(rendered.Model.Operations),
		Mode:       rendered.Mode,
	}, nil
}

func (p *Pipeline) lint(ctx context.Context, raw []byte) {
	err := spec.Lint(ctx, raw)
	if err == nil {
		return
	}
	var me *multierror.Error
	if errors.As(err, &me) {
		for _, finding := range me.Errors {
			p.logger.Warn("spec lint", "finding", finding)
		}
		return
	}
	p.logger.Warn("spec lint", "finding", err)
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Filename returns "<stem>_doc_<UTC YYYYmmdd_HHMMSS>.docx" for the input name.
func Filename(name string, now time.Time) string {
	return fmt.Sprintf("%s_doc_%s.docx", Stem(name), now.UTC().Format("20060102_150405"))
}

// Stem reduces an input name to a file-system-safe base without extension.
func Stem(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if i := strings.Index(base, "?"); i >= 0 {
		base = base[:i]
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.Trim(unsafeName.ReplaceAllString(base, "_"), "._-")
	if base == "" {
		return "openapi"
	}
	return base
}
