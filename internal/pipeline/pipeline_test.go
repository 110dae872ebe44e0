package pipeline

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mark3labs/openapi2docx/internal/config"
	"github.com/mark3labs/openapi2docx/internal/enrich"
	"github.com/mark3labs/openapi2docx/internal/spec"
)

const petsSpec = `{
  "openapi": "3.0.3",
  "info": {"title": "Pets", "version": "2.1.0"},
  "paths": {
    "/pets": {
      "get": {
        "summary": "List pets",
        "tags": ["pets"],
        "responses": {"200": {"description": "ok"}}
      },
      "post": {
        "summary": "Create pet",
        "description": "Creates a pet.",
        "tags": ["pets"],
        "responses": {"201": {"description": "created"}}
      }
    },
    "/admin/stats": {
      "get": {
        "summary": "Stats",
        "tags": ["admin"],
        "responses": {"200": {"description": "ok"}}
      }
    }
  }
}`

var fixedNow = time.Date(2024, 3, 9, 14, 5, 7, 0, time.FixedZone("MSK", 3*3600))

func ptr(b bool) *bool { return &b }

func newPipeline(t *testing.T, cfg *config.Config, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	p, err := New(cfg, opts...)
	require.NoError(t, err)
	return p
}

func TestResolveMode(t *testing.T) {
	t.Parallel()

	configured := config.Default()
	configured.LLM.URL = "http://localhost:1234/v1"
	configured.LLM.Token = "t"

	enhanceCfg := config.Default()
	enhanceCfg.Modes.UseLLMEnhancement = ptr(true)

	fullOff := config.Default()
	fullOff.LLM = configured.LLM
	fullOff.Modes.UseFullLLMGeneration = ptr(false)

	cases := []struct {
		name  string
		cfg   *config.Config
		flags Flags
		want  Mode
	}{
		{"auto without endpoint", config.Default(), Flags{}, ModeFast},
		{"auto with endpoint", configured, Flags{}, ModeFull},
		{"config enhancement", enhanceCfg, Flags{}, ModeEnhanced},
		{"request beats config", enhanceCfg, Flags{UseLLMEnhancement: ptr(false)}, ModeFast},
		{"full wins over enhancement", enhanceCfg, Flags{UseFullLLMGeneration: ptr(true)}, ModeFull},
		{"config disables full", fullOff, Flags{}, ModeFast},
		{"request re-enables full", fullOff, Flags{UseFullLLMGeneration: ptr(true)}, ModeFull},
		{"local parsing opt-out", config.Default(), Flags{UseLocalParsing: ptr(false)}, ModeFast},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := newPipeline(t, tc.cfg, WithAdapter(enrich.NoopAdapter{}))
			assert.Equal(t, tc.want, p.ResolveMode(tc.flags))
		})
	}
}

func TestNew_BuildsClientWhenConfigured(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.LLM.URL = "http://localhost:1234/v1"
	cfg.LLM.Token = "t"

	p := newPipeline(t, cfg)
	assert.IsType(t, &enrich.Client{}, p.adapter)
	assert.True(t, p.LLMConfigured())

	p = newPipeline(t, config.Default())
	assert.IsType(t, enrich.NoopAdapter{}, p.adapter)
	assert.False(t, p.LLMConfigured())
}

func TestGenerate(t *testing.T) {
	t.Parallel()
	p := newPipeline(t, nil)

	res, err := p.Generate(context.Background(), Request{Source: []byte(petsSpec), Name: "uploads/pets store.json"})
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(res.Docx, []byte("PK\x03\x04")))
	assert.Equal(t, "pets_store_doc_20240309_110507.docx", res.Filename)
	assert.Equal(t, 3, res.Operations)
	assert.Equal(t, ModeFast, res.Mode)
	assert.Contains(t, res.Markdown, "Pets, версия 2.1.0")
	assert.Contains(t, res.Markdown, "## ИНТЕРФЕЙСЫ ВЗАИМОДЕЙСТВИЯ — admin")
	assert.Equal(t, "Pets", res.Model.Title)

	again, err := p.Generate(context.Background(), Request{Source: []byte(petsSpec), Name: "uploads/pets store.json"})
	require.NoError(t, err)
	assert.True(t, bytes.Equal(res.Docx, again.Docx))
}

func TestGenerate_Filters(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Render.MaxEndpoints = 1
	p := newPipeline(t, cfg)

	res, err := p.Generate(context.Background(), Request{Source: []byte(petsSpec)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Operations)
	assert.Contains(t, res.Markdown, "1 эндпоинтов (из 3 по спецификации)")

	res, err = p.Generate(context.Background(), Request{Source: []byte(petsSpec), MaxEndpoints: 2, ExcludeTags: []string{"admin"}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Operations)
	assert.NotContains(t, res.Markdown, "Stats")

	res, err = p.Generate(context.Background(), Request{Source: []byte(petsSpec), Methods: []spec.HttpMethod{spec.POST}, MaxEndpoints: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Operations)
	assert.Contains(t, res.Markdown, "## 1. Create pet")

	res, err = p.Generate(context.Background(), Request{Source: []byte(petsSpec), Paths: []string{"^/admin"}, MaxEndpoints: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Operations)
}

func TestGenerate_RejectsSwagger2(t *testing.T) {
	t.Parallel()
	p := newPipeline(t, nil)
	_, err := p.Generate(context.Background(), Request{Source: []byte(`{"swagger": "2.0", "paths": {}}`)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, spec.ErrSpecValidation))
	assert.True(t, spec.IsClientError(err))
}

func TestGenerate_EnhancementFallsBack(t *testing.T) {
	t.Parallel()
	var fallbacks atomic.Int32
	adapter := enrich.AdapterFunc(func(ctx context.Context, req enrich.Request) enrich.Result {
		return enrich.Unavailable("down", nil)
	})

	fast, err := newPipeline(t, nil).Generate(context.Background(), Request{Source: []byte(petsSpec)})
	require.NoError(t, err)

	p := newPipeline(t, nil,
		WithAdapter(adapter),
		WithFallbackHook(func(enrich.Task, error) { fallbacks.Add(1) }),
	)
	res, err := p.Generate(context.Background(), Request{Source: []byte(petsSpec), Flags: Flags{UseLLMEnhancement: ptr(true)}})
	require.NoError(t, err)

	assert.Equal(t, ModeEnhanced, res.Mode)
	assert.Equal(t, fast.Markdown, res.Markdown)
	assert.Positive(t, fallbacks.Load())
}

func TestGenerate_FullModeUsesAdapter(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	adapter := enrich.AdapterFunc(func(ctx context.Context, req enrich.Request) enrich.Result {
		calls.Add(1)
		texts := make([]string, len(req.Fragments))
		for i := range texts {
			texts[i] = "Сгенерированный текст"
		}
		return enrich.Success(texts)
	})
	p := newPipeline(t, nil, WithAdapter(adapter))

	res, err := p.Generate(context.Background(), Request{Source: []byte(petsSpec), Flags: Flags{UseFullLLMGeneration: ptr(true)}})
	require.NoError(t, err)
	assert.Equal(t, ModeFull, res.Mode)
	assert.Positive(t, calls.Load())
	assert.Contains(t, res.Markdown, "Сгенерированный текст")
}

func TestGenerate_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newPipeline(t, nil, WithAdapter(enrich.NoopAdapter{}))
	_, err := p.Generate(ctx, Request{Source: []byte(petsSpec), Flags: Flags{UseFullLLMGeneration: ptr(true)}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestStem(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"openapi.json":                          "openapi",
		"/tmp/My API (v2).json":                 "My_API_v2",
		"https://x.example/specs/pets.json?r=1": "pets",
		"":                                      "openapi",
		"Документация.json":                     "openapi",
		"archive.tar.json":                      "archive.tar",
	}
	for in, want := range cases {
		assert.Equal(t, want, Stem(in), "input %q", in)
	}
	assert.Equal(t, "pets_doc_20240309_110507.docx", Filename("pets.json", fixedNow))
}
