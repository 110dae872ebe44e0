package spec

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// ErrorCode categorizes intake and extraction errors for clearer handling and messaging.
type ErrorCode string

const (
	InputError       ErrorCode = "InputError"
	NetworkError     ErrorCode = "NetworkError"
	ParseError       ErrorCode = "ParseError"
	SpecValidation   ErrorCode = "SpecValidationError"
	SchemaResolution ErrorCode = "SchemaResolutionError"
)

var (
	// ErrSpecValidation matches any SpecError carrying the SpecValidation code.
	ErrSpecValidation = errors.New("spec validation error")
	// ErrSchemaResolution matches any SpecError carrying the SchemaResolution code.
	ErrSchemaResolution = errors.New("schema resolution error")
)

// SpecError is a structured error with optional location and JSON Pointer.
type SpecError struct {
	Code        ErrorCode
	Message     string
	Location    string // file path or URL
	JSONPointer string // e.g. "#/paths/~1pets/get"
	Cause       error
}

func (e *SpecError) Error() string { return e.Message }
func (e *SpecError) Unwrap() error { return e.Cause }

func (e *SpecError) Is(target error) bool {
	switch target {
	case ErrSpecValidation:
		return e.Code == SpecValidation
	case ErrSchemaResolution:
		return e.Code == SchemaResolution
	}
	return false
}

// IsClientError reports whether err was caused by the submitted document rather than by processing.
func IsClientError(err error) bool {
	var se *SpecError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code != NetworkError
}

func validationError(pointer, format string, args ...any) *SpecError {
	return &SpecError{Code: SpecValidation, Message: fmt.Sprintf(format, args...), JSONPointer: pointer}
}

func resolutionError(ref, format string, args ...any) *SpecError {
	return &SpecError{Code: SchemaResolution, Message: fmt.Sprintf(format, args...), JSONPointer: ref}
}

// Settings configures loader behavior.
type Settings struct {
	// HTTPTimeout bounds each HTTP request.
	HTTPTimeout time.Duration
	// MaxRetries for transient HTTP failures (>=500, 429, or network errors).
	MaxRetries int
	// BackoffBase is the base delay for exponential backoff.
	BackoffBase time.Duration
	// MaxBytes caps the size of a fetched or read document. Zero means unlimited.
	MaxBytes int64
	// HTTPClient overrides the pooled client used for URL inputs.
	HTTPClient *http.Client
}

// DefaultSettings returns recommended defaults.
func DefaultSettings() Settings {
	return Settings{
		HTTPTimeout: 10 * time.Second,
		MaxRetries:  3,
		BackoffBase: 200 * time.Millisecond,
		MaxBytes:    32 << 20,
	}
}

// Option mutates Settings.
type Option func(*Settings)

func WithHTTPTimeout(d time.Duration) Option { return func(s *Settings) { s.HTTPTimeout = d } }
func WithMaxRetries(n int) Option { return func(s *Settings) { s.MaxRetries = n } }
func WithBackoffBase(d time.Duration) Option { return func(s *Settings) { s.BackoffBase = d } }
func WithMaxBytes(n int64) Option { return func(s *Settings) { s.MaxBytes = n } }
func WithHTTPClient(c *http.Client) Option { return func(s *Settings) { s.HTTPClient = c } }

// Source is a raw document together with where it came from.
type Source struct {
	Name     string // base file name, used to derive output names
	Location string // absolute path or URL
	Raw      []byte
}

// Load reads an OpenAPI document from a filesystem path or an http/https URL.
// It does not interpret the bytes; use Parse for that.
func Load(ctx context.Context, input string, opts ...Option) (*Source, error) {
	if strings.TrimSpace(input) == "" {
		return nil, &SpecError{Code: InputError, Message: "spec: input is empty"}
	}

	settings := DefaultSettings()
	for _, opt := range opts {
		opt(&settings)
	}

	u, uerr := url.Parse(input)
	isURL := uerr == nil && u.Scheme != "" && u.Host != ""

	if isURL {
		scheme := strings.ToLower(u.Scheme)
		if scheme == "file" {
			return nil, &SpecError{Code: InputError, Message: "spec: file:// URLs are not supported, pass a path", Location: input}
		}
		if scheme != "http" && scheme != "https" {
			return nil, &SpecError{Code: InputError, Message: fmt.Sprintf("spec: unsupported URL scheme %q (only http/https allowed)", scheme), Location: input}
		}
		raw, err := fetchWithRetry(ctx, input, settings)
		if err != nil {
			return nil, &SpecError{Code: NetworkError, Message: fmt.Sprintf("fetch %s: %v", input, err), Location: input, Cause: err}
		}
		name := filepath.Base(u.Path)
		if name == "." || name == "/" || name == "" {
			name = u.Host
		}
		return &Source{Name: name, Location: input, Raw: raw}, nil
	}

	abs, err := filepath.Abs(input)
	if err != nil {
		return nil, &SpecError{Code: InputError, Message: fmt.Sprintf("resolve path: %v", err), Location: input, Cause: err}
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, &SpecError{Code: InputError, Message: fmt.Sprintf("read file %s: %v", abs, err), Location: abs, Cause: err}
	}
	defer f.Close()
	raw, err := readLimited(f, settings.MaxBytes)
	if err != nil {
		return nil, &SpecError{Code: InputError, Message: fmt.Sprintf("read file %s: %v", abs, err), Location: abs, Cause: err}
	}
	return &Source{Name: filepath.Base(abs), Location: abs, Raw: raw}, nil
}

// Document is a parsed OpenAPI document. The node tree keeps source order of
// every mapping, which the extractor relies on.
type Document struct {
	Location string
	// Digest is the hex SHA-256 of the raw bytes and serves as the document identity.
	Digest string
	// Version is the declared openapi version string, e.g. "3.0.3".
	Version string

	root *yaml.Node
}

// Parse decodes raw JSON (or YAML) into a Document. Only OpenAPI 3.x is accepted.
func Parse(raw []byte, location string) (*Document, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, &SpecError{Code: InputError, Message: "spec: document is empty", Location: location}
	}
	src := raw
	if canon, ok := canonicalJSON(raw); ok {
		src = canon
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, &SpecError{Code: ParseError, Message: fmt.Sprintf("parse spec: %v", err), Location: location, Cause: err}
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		e := validationError("#", "spec: document root must be an object")
		e.Location = location
		return nil, e
	}
	version, err := detectSpecVersion(root)
	if err != nil {
		err.Location = location
		return nil, err
	}
	sum := sha256.Sum256(raw)
	return &Document{
		Location: location,
		Digest:   hex.EncodeToString(sum[:]),
		Version:  version,
		root:     root,
	}, nil
}

// Root exposes the document's root mapping node.
func (d *Document) Root() *yaml.Node { return d.root }

// detectSpecVersion returns the openapi version string or a validation error
// for missing, legacy (swagger 2.x) or pre-3.0 documents.
func detectSpecVersion(root *yaml.Node) (string, *SpecError) {
	if v := mapGet(root, "swagger"); v != nil {
		return "", validationError("#/swagger", "spec: Swagger %s documents are not supported, OpenAPI 3.0 or newer is required", scalar(v))
	}
	v := mapGet(root, "openapi")
	if v == nil {
		return "", validationError("#/openapi", "spec: missing 'openapi' version field")
	}
	version := strings.TrimSpace(scalar(v))
	major, _, _ := strings.Cut(version, ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return "", validationError("#/openapi", "spec: unrecognized openapi version %q", version)
	}
	if n < 3 {
		return "", validationError("#/openapi", "spec: OpenAPI versions below 3.0 are not supported (got %s)", version)
	}
	return version, nil
}

// Lint runs a full grammar validation of raw and returns every finding as a
// multierror, or nil. The findings are advisory: the extractor tolerates
// malformed sections, so callers log them and proceed.
func Lint(ctx context.Context, raw []byte) error {
	var result *multierror.Error

	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false
	doc, err := loader.LoadFromData(raw)
	if err != nil {
		return multierror.Append(result, fmt.Errorf("load: %w", err))
	}
	if err := doc.Validate(ctx); err != nil {
		var me openapi3.MultiError
		if errors.As(err, &me) {
			for _, e := range me {
				result = multierror.Append(result, e)
			}
		} else {
			result = multierror.Append(result, err)
		}
	}
	for p := range doc.Paths {
		if !strings.HasPrefix(p, "/") {
			result = multierror.Append(result, fmt.Errorf("path %q does not start with '/'", p))
		}
	}
	return result.ErrorOrNil()
}

func fetchWithRetry(ctx context.Context, rawURL string, settings Settings) ([]byte, error) {
	client := settings.HTTPClient
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
		client.Timeout = settings.HTTPTimeout
	}
	var lastErr error
	backoff := settings.BackoffBase
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	attempts := settings.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		raw, retry, err := fetchOnce(ctx, client, rawURL, settings.MaxBytes)
		if err == nil {
			return raw, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if lastErr == nil {
		lastErr = errors.New("fetch failed")
	}
	return nil, lastErr
}

func fetchOnce(ctx context.Context, client *http.Client, rawURL string, limit int64) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, true, fmt.Errorf("transient http error %d", resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, false, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	raw, err := readLimited(resp.Body, limit)
	return raw, false, err
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	raw, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > limit {
		return nil, fmt.Errorf("document exceeds %d bytes", limit)
	}
	return raw, nil
}
