package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/schema"

	"github.com/mark3labs/openapi2docx/internal/pipeline"
)

const (
	docxContentType      = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	headerTotalEndpoints = "X-Total-Endpoints"
	headerGenerationMode = "X-Generation-Mode"

	// multipartMemory is how much of an upload is buffered in memory before
	// spilling to temporary files.
	multipartMemory = 8 << 20
)

var (
	validate      = validator.New()
	schemaDecoder = schema.NewDecoder()
)

func init() {
	schemaDecoder.IgnoreUnknownKeys(true)
}

// generateQuery carries the query-string switches of POST /generate-doc.
type generateQuery struct {
	UseLocal      *bool    `schema:"use_local"`
	UseLLMEnhance *bool    `schema:"use_llm_enhance"`
	UseLLM        *bool    `schema:"use_llm"`
	MaxEndpoints  *int     `schema:"max_endpoints" validate:"omitempty,gte=1"`
	IncludeTags   []string `schema:"include_tags"`
	ExcludeTags   []string `schema:"exclude_tags"`
}

func (q generateQuery) request(source []byte, name string) pipeline.Request {
	req := pipeline.Request{
		Source: source,
		Name:   name,
		Flags: pipeline.Flags{
			UseLocalParsing:      q.UseLocal,
			UseLLMEnhancement:    q.UseLLMEnhance,
			UseFullLLMGeneration: q.UseLLM,
		},
		IncludeTags: splitList(q.IncludeTags),
		ExcludeTags: splitList(q.ExcludeTags),
	}
	if q.MaxEndpoints != nil {
		req.MaxEndpoints = *q.MaxEndpoints
	}
	return req
}

// splitList accepts both repeated keys and comma-separated values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (s *Server) generateDoc(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	var q generateQuery
	if err := schemaDecoder.Decode(&q, req.URL.Query()); err != nil {
		return nil, CodedError(http.StatusBadRequest, "invalid query: "+err.Error())
	}
	if err := validate.Struct(q); err != nil {
		return nil, err
	}

	req.Body = http.MaxBytesReader(resp, req.Body, s.cfg.MaxUploadBytes)
	if err := req.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, CodedError(http.StatusRequestEntityTooLarge, "upload exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
		}
		return nil, CodedError(http.StatusBadRequest, "expected a multipart/form-data body: "+err.Error())
	}
	defer req.MultipartForm.RemoveAll()

	file, header, err := req.FormFile("file")
	if err != nil {
		return nil, CodedError(http.StatusBadRequest, "missing form field \"file\"")
	}
	defer file.Close()
	if !strings.EqualFold(filepath.Ext(header.Filename), ".json") {
		return nil, CodedError(http.StatusBadRequest, "only .json files are supported")
	}
	source, err := io.ReadAll(file)
	if err != nil {
		return nil, CodedError(http.StatusBadRequest, "read upload: "+err.Error())
	}

	preq := q.request(source, header.Filename)
	mode := s.pipeline.ResolveMode(preq.Flags)
	start := time.Now()
	res, err := s.pipeline.Generate(req.Context(), preq)
	s.metrics.observe(mode, start, err)
	if err != nil {
		return nil, err
	}
	s.logger.Info("generated document", "file", header.Filename, "operations", res.Operations, "mode", res.Mode, "bytes", len(res.Docx))

	h := resp.Header()
	h.Set("Content-Type", docxContentType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": res.Filename}))
	h.Set(headerTotalEndpoints, strconv.Itoa(res.Operations))
	h.Set(headerGenerationMode, string(res.Mode))
	h.Set("Content-Length", strconv.Itoa(len(res.Docx)))
	resp.WriteHeader(http.StatusOK)
	resp.Write(res.Docx)
	return nil, nil
}

type healthResponse struct {
	Status        string `json:"status"`
	LLMConfigured bool   `json:"llm_configured"`
}

func (s *Server) health(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	return healthResponse{Status: "ok", LLMConfigured: s.pipeline.LLMConfigured()}, nil
}
