// Package render turns a DocumentModel into markdown laid out in the fixed
// eight-section operation template. Output depends only on the model and the
// options, so the same input always renders to the same bytes.
package render

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/hashicorp/go-hclog"

	"github.com/mark3labs/openapi2docx/internal/enrich"
	"github.com/mark3labs/openapi2docx/internal/spec"
)

// Level selects how much text is sent to the enrichment adapter.
type Level string

const (
	LevelOff     Level = "off"
	LevelEnhance Level = "enhance"
	LevelFull    Level = "full"
)

// ParseLevel maps a flag value onto a Level.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case "", LevelOff:
		return LevelOff, nil
	case LevelEnhance, LevelFull:
		return l, nil
	}
	return "", fmt.Errorf("render: unknown enhancement level %q", s)
}

const (
	DefaultShortDescriptionLength = 160
	DefaultAuth                   = "OAuth2PasswordBearer"
	DefaultConcurrency            = 4

	noDescription = "Нет описания"
)

type settings struct {
	level          Level
	shortLength    int
	defaultAuth    string
	concurrency    int
	targetLanguage string
	model          string
	maxTokens      int
	adapter        enrich.Adapter
	logger         hclog.Logger
	onFallback     func(enrich.Task, error)
}

// Option configures a Renderer.
type Option func(*settings)

func WithLevel(l Level) Option { return func(s *settings) { s.level = l } }

// WithAdapter sets the enrichment adapter used when the level is not off.
func WithAdapter(a enrich.Adapter) Option { return func(s *settings) { s.adapter = a } }

// WithShortDescriptionLength sets the rune count below which an operation
// description is sent for improvement.
func WithShortDescriptionLength(n int) Option { return func(s *settings) { s.shortLength = n } }

func WithDefaultAuth(label string) Option { return func(s *settings) { s.defaultAuth = label } }

// WithConcurrency bounds the number of adapter calls in flight.
func WithConcurrency(n int) Option { return func(s *settings) { s.concurrency = n } }

func WithTargetLanguage(lang string) Option { return func(s *settings) { s.targetLanguage = lang } }

// WithModel sets the model name and token budget passed along with each request.
func WithModel(name string, maxTokens int) Option {
	return func(s *settings) {
		s.model = name
		s.maxTokens = maxTokens
	}
}

func WithLogger(l hclog.Logger) Option { return func(s *settings) { s.logger = l } }

// WithFallbackHook is called once for every fragment whose enrichment was unavailable.
func WithFallbackHook(fn func(enrich.Task, error)) Option {
	return func(s *settings) { s.onFallback = fn }
}

// Renderer renders document models. It holds no per-document state and may be
// shared between goroutines.
type Renderer struct {
	s settings
}

func New(opts ...Option) *Renderer {
	s := settings{
		level:          LevelOff,
		shortLength:    DefaultShortDescriptionLength,
		defaultAuth:    DefaultAuth,
		concurrency:    DefaultConcurrency,
		targetLanguage: "ru",
		adapter:        enrich.NoopAdapter{},
		logger:         hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}
	if s.defaultAuth == "" {
		s.defaultAuth = DefaultAuth
	}
	if s.adapter == nil {
		s.adapter = enrich.NoopAdapter{}
	}
	s.logger = s.logger.Named("render")
	return &Renderer{s: s}
}

var operationTmpl = template.Must(template.New("operation").Parse(operationTemplate))

// Render produces the markdown for m. Enrichment failures never fail the
// call; only context cancellation and example encoding errors do.
func (r *Renderer) Render(ctx context.Context, m *spec.DocumentModel) (string, error) {
	if m == nil {
		return "", fmt.Errorf("render: nil model")
	}
	var b strings.Builder
	b.WriteString("# 📘 API-документация\n\n")
	if len(m.Operations) == 0 {
		b.WriteString("Нет доступных эндпоинтов в спецификации.\n")
		return b.String(), nil
	}

	views := make(map[*spec.OperationDescriptor]*operationView, len(m.Operations))
	ordered := make([]*operationView, 0, len(m.Operations))
	for _, op := range m.Operations {
		v, err := r.view(op)
		if err != nil {
			return "", err
		}
		views[op] = v
		ordered = append(ordered, v)
	}
	if r.s.level != LevelOff {
		if err := r.enhance(ctx, m.Digest, ordered); err != nil {
			return "", err
		}
	}

	if title := cell(m.Title); title != "" {
		b.WriteString(title)
		if m.Version != "" {
			fmt.Fprintf(&b, ", версия %s", cell(m.Version))
		}
		b.WriteString("\n\n")
	}
	if m.Available > len(m.Operations) {
		fmt.Fprintf(&b, "%d эндпоинтов (из %d по спецификации)\n\n", len(m.Operations), m.Available)
	} else {
		fmt.Fprintf(&b, "%d эндпоинтов по спецификации OpenAPI версии %s\n\n", len(m.Operations), m.OpenAPIVersion)
	}

	n := 0
	for _, g := range m.Groups {
		fmt.Fprintf(&b, "## ИНТЕРФЕЙСЫ ВЗАИМОДЕЙСТВИЯ — %s\n\n", cell(g.Name))
		for _, op := range g.Operations {
			n++
			if err := ctx.Err(); err != nil {
				return "", err
			}
			data := views[op].templateData(n, r.s.defaultAuth)
			if err := operationTmpl.Execute(&b, data); err != nil {
				return "", fmt.Errorf("render %s: %w", op.ID, err)
			}
		}
	}
	return b.String(), nil
}

func modeLabel(m spec.InterfaceMode) string {
	switch m {
	case spec.Asynchronous:
		return "Асинхронный"
	case spec.Synchronous:
		return "Синхронный"
	}
	panic(fmt.Sprintf("render: unknown interface mode %d", m))
}

// cell makes s safe for a single table cell or heading line.
func cell(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "|", `\|`).Replace(s)
	return s
}

const operationTemplate = `## {{.Index}}. {{.Heading}}

### {{.Index}}.1 Описание
{{range .Description}}{{.}}
{{end}}
### {{.Index}}.2 Требования к интерфейсу
| Параметр | Значение |
|---|---|
| Синхронный/Асинхронный | {{.Mode}} |
| Технология | REST API (HTTP request–response) |
| Время ответа | Не более 1 секунды |
| Формат ответа | JSON |
| Кодировка | UTF-8 |
| Аутентификация | {{.Auth}} |

### {{.Index}}.3 Формат запроса
| Поле | Значение |
|---|---|
| URL | ` + "`{{.Path}}`" + ` |
| Метод | ` + "`{{.Method}}`" + ` |

### {{.Index}}.4 Параметры запроса
| Имя | Где | Тип | Описание | Обязательный |
|---|---|---|---|---|
{{range .Parameters}}| {{.Name}} | {{.In}} | {{.Type}} | {{.Description}} | {{.Required}} |
{{end}}
### {{.Index}}.5 Формат ответа
| Поле | Тип | Описание |
|---|---|---|
{{range .Fields}}| {{.Name}} | {{.Type}} | {{.Description}} |
{{end}}
### {{.Index}}.6 Пример запроса (JSON)
` + "```json" + `
{{.RequestExample}}
` + "```" + `

### {{.Index}}.7 Пример ответа (JSON)
` + "```json" + `
{{.ResponseExample}}
` + "```" + `

### {{.Index}}.8 Примеры ошибок
{{range .ErrorExamples}}` + "```json" + `
{{.}}
` + "```" + `

{{end}}---

`
