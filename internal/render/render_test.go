package render

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/mark3labs/openapi2docx/internal/enrich"
	"github.com/mark3labs/openapi2docx/internal/spec"
)

const itemsSpec = `{
  "openapi": "3.0.3",
  "info": {"title": "Items API", "version": "1.0.0"},
  "paths": {
    "/items": {
      "get": {
        "summary": "List items",
        "tags": ["Items"],
        "responses": {
          "200": {
            "description": "ok",
            "content": {"application/json": {"schema": {
              "type": "array",
              "items": {"type": "object", "properties": {"id": {"type": "number"}, "name": {"type": "string"}}}
            }}}
          }
        }
      }
    }
  }
}`

const itemsMarkdown = "# 📘 API-документация\n" +
	"\n" +
	"Items API, версия 1.0.0\n" +
	"\n" +
	"1 эндпоинтов по спецификации OpenAPI версии 3.0.3\n" +
	"\n" +
	"## ИНТЕРФЕЙСЫ ВЗАИМОДЕЙСТВИЯ — Items\n" +
	"\n" +
	"## 1. List items\n" +
	"\n" +
	"### 1.1 Описание\n" +
	"- GET запрос к /items\n" +
	"\n" +
	"### 1.2 Требования к интерфейсу\n" +
	"| Параметр | Значение |\n" +
	"|---|---|\n" +
	"| Синхронный/Асинхронный | Синхронный |\n" +
	"| Технология | REST API (HTTP request–response) |\n" +
	"| Время ответа | Не более 1 секунды |\n" +
	"| Формат ответа | JSON |\n" +
	"| Кодировка | UTF-8 |\n" +
	"| Аутентификация | OAuth2PasswordBearer |\n" +
	"\n" +
	"### 1.3 Формат запроса\n" +
	"| Поле | Значение |\n" +
	"|---|---|\n" +
	"| URL | `/items` |\n" +
	"| Метод | `GET` |\n" +
	"\n" +
	"### 1.4 Параметры запроса\n" +
	"| Имя | Где | Тип | Описание | Обязательный |\n" +
	"|---|---|---|---|---|\n" +
	"\n" +
	"### 1.5 Формат ответа\n" +
	"| Поле | Тип | Описание |\n" +
	"|---|---|---|\n" +
	"| id | number | Нет описания |\n" +
	"| name | string | Нет описания |\n" +
	"\n" +
	"### 1.6 Пример запроса (JSON)\n" +
	"```json\n" +
	"{\n" +
	"  \"example\": \"value\"\n" +
	"}\n" +
	"```\n" +
	"\n" +
	"### 1.7 Пример ответа (JSON)\n" +
	"```json\n" +
	"[\n" +
	"  {\n" +
	"    \"id\": 1.5,\n" +
	"    \"name\": \"string\"\n" +
	"  },\n" +
	"  {\n" +
	"    \"id\": 2.5,\n" +
	"    \"name\": \"string_2\"\n" +
	"  }\n" +
	"]\n" +
	"```\n" +
	"\n" +
	"### 1.8 Примеры ошибок\n" +
	"```json\n" +
	"{\n" +
	"  \"error\": \"Invalid request\",\n" +
	"  \"code\": 400\n" +
	"}\n" +
	"```\n" +
	"\n" +
	"```json\n" +
	"{\n" +
	"  \"error\": \"Unauthorized\",\n" +
	"  \"code\": 401\n" +
	"}\n" +
	"```\n" +
	"\n" +
	"```json\n" +
	"{\n" +
	"  \"error\": \"Internal server error\",\n" +
	"  \"code\": 500\n" +
	"}\n" +
	"```\n" +
	"\n" +
	"---\n" +
	"\n"

const petsSpec = `{
  "openapi": "3.0.0",
  "info": {"title": "Pets", "version": "2"},
  "components": {
    "securitySchemes": {"bearer": {"type": "http", "scheme": "bearer"}},
    "schemas": {
      "Pet": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "description": "Pet name"},
          "tags": {"type": "array", "items": {"type": "object", "properties": {"label": {"type": "string"}}}},
          "owner": {"type": "object", "properties": {"email": {"type": "string", "format": "email", "description": "a|b"}}}
        }
      }
    }
  },
  "paths": {
    "/pets/{id}": {
      "put": {
        "summary": "Replace pet",
        "description": "Replaces a pet. Parameters: - id: pet id - force: overwrite Returns: - the stored pet",
        "tags": ["pets"],
        "security": [{"bearer": []}],
        "parameters": [{"in": "path", "name": "id", "schema": {"type": "integer"}, "example": 7}],
        "requestBody": {"required": true, "content": {"application/json": {"schema": {"$ref": "#/components/schemas/Pet"}}}},
        "responses": {
          "200": {"description": "ok", "content": {"application/json": {"schema": {"$ref": "#/components/schemas/Pet"}}}},
          "404": {"description": "missing", "content": {"application/json": {"example": {"error": "not found"}}}}
        }
      },
      "delete": {
        "operationId": "deletePet",
        "description": "Starts asynchronous removal",
        "responses": {"202": {"description": "accepted"}}
      }
    }
  }
}`

// testingT is satisfied by both *testing.T and *rapid.T.
type testingT interface {
	require.TestingT
	Helper()
}

func model(t testingT, raw string) *spec.DocumentModel {
	t.Helper()
	doc, err := spec.Parse([]byte(raw), "mem")
	require.NoError(t, err)
	m, err := spec.BuildDocumentModel(context.Background(), doc)
	require.NoError(t, err)
	return m
}

func render(t testingT, m *spec.DocumentModel, opts ...Option) string {
	t.Helper()
	out, err := New(opts...).Render(context.Background(), m)
	require.NoError(t, err)
	return out
}

// section returns the non-empty lines between the heading that starts with
// from and the next heading or rule.
func section(md, from string) []string {
	var out []string
	in := false
	for _, line := range strings.Split(md, "\n") {
		if strings.HasPrefix(line, "#") || line == "---" {
			if in {
				break
			}
			in = strings.HasPrefix(line, from)
			continue
		}
		if in && line != "" {
			out = append(out, line)
		}
	}
	return out
}

func TestRender_Items(t *testing.T) {
	t.Parallel()
	out := render(t, model(t, itemsSpec))
	assert.Equal(t, itemsMarkdown, out)
	assert.Equal(t, 1, strings.Count(out, "## ИНТЕРФЕЙСЫ ВЗАИМОДЕЙСТВИЯ"))
	assert.Len(t, section(out, "### 1.4"), 2, "parameters table has no data rows")
	assert.Len(t, section(out, "### 1.5"), 4)
}

func TestRender_Pets(t *testing.T) {
	t.Parallel()
	out := render(t, model(t, petsSpec), WithDefaultAuth("Basic"))

	params := section(out, "### 1.4")
	assert.Equal(t, []string{
		"| Имя | Где | Тип | Описание | Обязательный |",
		"|---|---|---|---|---|",
		"| id | path | integer | Нет описания | Да |",
		"| body | body | Pet | Тело запроса | Да |",
		"| body.name | body | string | Pet name | Да |",
		"| body.tags | body | array<object> | Нет описания | Нет |",
		"| body.tags[].label | body | string | Нет описания | Нет |",
		"| body.owner | body | object | Нет описания | Нет |",
		"| body.owner.email | body | string | a\\|b | Нет |",
	}, params)

	fields := section(out, "### 1.5")
	assert.Contains(t, fields, "| tags[].label | string | Нет описания |")
	assert.Contains(t, fields, "| owner.email | string | a\\|b |")

	desc := section(out, "### 1.1")
	assert.Equal(t, []string{
		"- Replaces a pet.",
		"Параметры:",
		"- id: pet id",
		"- force: overwrite",
		"Возвращает:",
		"- the stored pet",
	}, desc)

	assert.Contains(t, out, "| Аутентификация | bearer |")
	assert.Contains(t, out, "| Аутентификация | Basic |")
	assert.Contains(t, out, "## 2. deletePet")
	assert.Contains(t, out, "| Синхронный/Асинхронный | Асинхронный |")
	assert.Contains(t, out, "## ИНТЕРФЕЙСЫ ВЗАИМОДЕЙСТВИЯ — API")

	errs := section(out, "### 1.8")
	assert.Equal(t, []string{"```json", "{", `  "error": "not found"`, "}", "```"}, errs)

	// The 202 without content renders as a bare result row.
	assert.Equal(t, "| result | object | Ответ сервиса |", section(out, "### 2.5")[2])
}

func TestRender_RequestExampleFromParameters(t *testing.T) {
	t.Parallel()
	const doc = `{"openapi":"3.0.0","paths":{"/s":{"get":{"parameters":[
		{"in":"query","name":"q","schema":{"type":"string"},"example":"<cats>"},
		{"in":"query","name":"n","schema":{"type":"integer"}}],
		"responses":{"200":{"description":"ok","content":{"application/json":{"schema":{"type":"string"}}}}}}}}}`
	out := render(t, model(t, doc))
	assert.Equal(t, []string{"```json", "{", `  "q": "<cats>",`, `  "n": 1`, "}", "```"}, section(out, "### 1.6"))
	assert.Contains(t, section(out, "### 1.5"), "| value | string | Ответ сервиса |")
}

func TestRender_NoOperations(t *testing.T) {
	t.Parallel()
	out := render(t, model(t, `{"openapi":"3.0.0","paths":{}}`))
	assert.Equal(t, "# 📘 API-документация\n\nНет доступных эндпоинтов в спецификации.\n", out)
}

func TestRender_TruncatedCount(t *testing.T) {
	t.Parallel()
	doc, err := spec.Parse([]byte(petsSpec), "mem")
	require.NoError(t, err)
	m, err := spec.BuildDocumentModel(context.Background(), doc, spec.WithMaxOperations(1))
	require.NoError(t, err)
	out := render(t, m)
	assert.Contains(t, out, "1 эндпоинтов (из 2 по спецификации)")
	assert.NotContains(t, out, "## 2.")
}

func failing() enrich.Adapter {
	return enrich.AdapterFunc(func(context.Context, enrich.Request) enrich.Result {
		return enrich.Unavailable("down", nil)
	})
}

func TestRender_EnrichmentFallbackIsByteIdentical(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{itemsSpec, petsSpec} {
		m := model(t, raw)
		plain := render(t, m)
		for _, level := range []Level{LevelEnhance, LevelFull} {
			var fallbacks int32
			got := render(t, m, WithLevel(level), WithAdapter(failing()), WithFallbackHook(func(enrich.Task, error) {
				atomic.AddInt32(&fallbacks, 1)
			}))
			assert.Equal(t, plain, got, "level %s", level)
			assert.Positive(t, atomic.LoadInt32(&fallbacks))
		}
	}
}

func TestRender_EnrichmentApplied(t *testing.T) {
	t.Parallel()
	var calls int32
	adapter := enrich.AdapterFunc(func(_ context.Context, req enrich.Request) enrich.Result {
		atomic.AddInt32(&calls, 1)
		if len(req.Fragments) != 1 {
			return enrich.Unavailable("batch", nil)
		}
		switch f := req.Fragments[0]; f.Task {
		case enrich.TaskImprove:
			return enrich.Success([]string{"**Возвращает** список товаров. Без фильтров."})
		case enrich.TaskGenerate:
			return enrich.Success([]string{"Поле " + strings.Fields(f.Context)[0]})
		default:
			return enrich.Unavailable("unexpected task "+string(f.Task), nil)
		}
	})
	out := render(t, model(t, itemsSpec), WithLevel(LevelEnhance), WithAdapter(adapter), WithConcurrency(2))
	assert.Equal(t, []string{"- Возвращает список товаров.", "- Без фильтров."}, section(out, "### 1.1"))
	assert.Contains(t, section(out, "### 1.5"), "| id | number | Поле id |")
	assert.Contains(t, section(out, "### 1.5"), "| name | string | Поле name |")
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestRender_FullTranslatesLatinText(t *testing.T) {
	t.Parallel()
	adapter := enrich.AdapterFunc(func(_ context.Context, req enrich.Request) enrich.Result {
		f := req.Fragments[0]
		if f.Task == enrich.TaskTranslate {
			return enrich.Success([]string{"Перевод: " + f.Text})
		}
		return enrich.Unavailable("skip", nil)
	})
	out := render(t, model(t, petsSpec), WithLevel(LevelFull), WithAdapter(adapter))
	assert.Contains(t, out, "## 1. Перевод: Replace pet")
	assert.Contains(t, out, "| body.name | body | string | Перевод: Pet name | Да |")
}

func TestRender_LongDescriptionIsNotImproved(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("Долгое описание операции. ", 10)
	doc := fmt.Sprintf(`{"openapi":"3.0.0","paths":{"/x":{"get":{"description":%q,"responses":{"200":{"description":"ok"}}}}}}`, long)
	var improve int32
	adapter := enrich.AdapterFunc(func(_ context.Context, req enrich.Request) enrich.Result {
		if req.Fragments[0].Task == enrich.TaskImprove {
			atomic.AddInt32(&improve, 1)
		}
		return enrich.Unavailable("skip", nil)
	})
	render(t, model(t, doc), WithLevel(LevelEnhance), WithAdapter(adapter))
	assert.Zero(t, atomic.LoadInt32(&improve))

	render(t, model(t, doc), WithLevel(LevelEnhance), WithAdapter(adapter), WithShortDescriptionLength(1000))
	assert.EqualValues(t, 1, atomic.LoadInt32(&improve))
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Level{"": LevelOff, "OFF": LevelOff, "enhance": LevelEnhance, " full ": LevelFull} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseLevel("max")
	assert.Error(t, err)
}

// genSpec draws a small document with random tags, methods and schemas.
func genSpec(t *rapid.T) string {
	tags := []string{"alpha", "beta", "Гамма"}
	methods := []string{"get", "post", "put", "delete"}
	kinds := []string{"string", "integer", "number", "boolean"}
	paths := map[string]any{}
	n := rapid.IntRange(1, 6).Draw(t, "paths")
	for i := 0; i < n; i++ {
		item := map[string]any{}
		for _, m := range rapid.SliceOfNDistinct(rapid.SampledFrom(methods), 1, 3, rapid.ID[string]).Draw(t, "methods") {
			props := map[string]any{}
			for j := 0; j < rapid.IntRange(0, 4).Draw(t, "props"); j++ {
				props[fmt.Sprintf("f%d", j)] = map[string]any{"type": rapid.SampledFrom(kinds).Draw(t, "kind")}
			}
			schema := map[string]any{"type": "object", "properties": props}
			if rapid.Bool().Draw(t, "array") {
				schema = map[string]any{"type": "array", "items": schema}
			}
			op := map[string]any{
				"summary":   rapid.StringMatching(`[A-Za-zА-я ]{0,20}`).Draw(t, "summary"),
				"responses": map[string]any{"200": map[string]any{"description": "ok", "content": map[string]any{"application/json": map[string]any{"schema": schema}}}},
			}
			if rapid.Bool().Draw(t, "tagged") {
				op["tags"] = rapid.SliceOfNDistinct(rapid.SampledFrom(tags), 1, 2, rapid.ID[string]).Draw(t, "tags")
			}
			item[m] = op
		}
		paths[fmt.Sprintf("/r%d", i)] = item
	}
	raw, err := json.Marshal(map[string]any{"openapi": "3.0.0", "paths": paths})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}

func TestRender_Deterministic(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		raw := genSpec(t)
		a := render(t, model(t, raw))
		b := render(t, model(t, raw))
		if a != b {
			t.Fatalf("render is not deterministic")
		}
		shared := model(t, raw)
		if render(t, shared) != render(t, shared, WithLevel(LevelFull), WithAdapter(failing())) {
			t.Fatalf("failed enrichment changed the output")
		}
	})
}
